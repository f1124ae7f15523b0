package mta

import (
	"context"
	"os/exec"
	"strings"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/framework/log"
)

// PostfixDriver compiles the transport map with `postmap` and reloads
// Postfix. Both commands are configurable so operators can point at a
// wrapper script instead of the binaries directly.
type PostfixDriver struct {
	CompileCmd string // e.g. "postmap"
	ReloadCmd  string // e.g. "postfix reload"
	Log        log.Logger
}

func (d *PostfixDriver) ApplyRoutes(ctx context.Context, mapPath string) error {
	compileArgs := strings.Fields(d.CompileCmd)
	compileArgs = append(compileArgs, mapPath)
	if err := exec.CommandContext(ctx, compileArgs[0], compileArgs[1:]...).Run(); err != nil {
		// A compile failure that ran to completion means postmap rejected
		// the map (bad syntax) and won't succeed on retry; one cut short by
		// ctx expiring is worth retrying. Tag it either way so a caller
		// working from the bare error, not the DomainError it's wrapped
		// in, can still tell via exterrors.IsTemporaryOrUnspec.
		return exterrors.External("mta: compiling transport map", exterrors.WithTemporary(err, ctx.Err() != nil))
	}

	reloadArgs := strings.Fields(d.ReloadCmd)
	if err := exec.CommandContext(ctx, reloadArgs[0], reloadArgs[1:]...).Run(); err != nil {
		// Partial failure: the file is already correct, only the reload
		// failed. The next successful reload picks it up, per §4.2.
		d.Log.Error("mta: reload command failed, map already written", err)
		return exterrors.Transient("mta: reload command failed", exterrors.WithTemporary(err, true))
	}
	return nil
}

// NoopDriver never shells out. Useful for tests and for deployments where
// the map compile/reload is driven by an external watcher instead.
type NoopDriver struct{}

func (NoopDriver) ApplyRoutes(ctx context.Context, mapPath string) error { return nil }
