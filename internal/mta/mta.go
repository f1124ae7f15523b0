// Package mta maintains the on-disk MTA transport map (C2): idempotent
// per-address, per-domain, and catch-all routing entries, with atomic
// file replacement and MTA reload on change.
package mta

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/framework/log"
	"github.com/motorical/encimap/internal/metrics"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

// Driver is the boundary to the external MTA. Map compilation and process
// reload are both driver responsibilities so that Router stays testable
// without shelling out.
type Driver interface {
	// ApplyRoutes is invoked after the transport map file has been
	// rewritten; it should compile the map (e.g. postmap) and reload the
	// MTA so the new routes take effect.
	ApplyRoutes(ctx context.Context, mapPath string) error
}

// entry is one line of the transport map.
type entry struct {
	key       string // lowercased for domain/catchall keys, as-is for addresses
	transport string
}

// Router owns the single TRANSPORT_MAP file and serializes every mutation
// behind a process-wide mutex, matching the persistence layer's audit
// requirement: every successful mutation also appends a Route row via C1.
type Router struct {
	mu sync.Mutex

	mapPath string
	driver  Driver
	routes  *store.Repo[model.Route]
	log     log.Logger
	metrics metrics.Collector
}

func New(mapPath string, driver Driver, routes *store.Repo[model.Route], logger log.Logger) *Router {
	return &Router{mapPath: mapPath, driver: driver, routes: routes, log: logger, metrics: metrics.NoopCollector{}}
}

// WithMetrics attaches a metrics collector, replacing the no-op default.
func (r *Router) WithMetrics(m metrics.Collector) *Router {
	r.metrics = m
	return r
}

// key formatting matches §4.2: case-insensitive on domain, case-sensitive
// on local-part.
func addressKey(localPart, domain string) string {
	return localPart + "@" + strings.ToLower(domain)
}

func domainKey(domain string) string {
	return strings.ToLower(domain)
}

func catchallKey(domain string) string {
	return "@" + strings.ToLower(domain)
}

// AddEmailRoute installs (or replaces) the per-address route for
// localPart@domain pointing at transport.
func (r *Router) AddEmailRoute(ctx context.Context, localPart, domain, transport string, vaultboxID string, routeType model.RouteType) error {
	key := addressKey(localPart, domain)
	if err := r.upsert(ctx, key, transport); err != nil {
		return err
	}
	return r.audit(ctx, domain, localPart+"@"+domain, vaultboxID, routeType)
}

// RemoveEmailRoute removes the per-address route for localPart@domain, if
// present. It is a no-op (not an error) if the route does not exist.
func (r *Router) RemoveEmailRoute(ctx context.Context, localPart, domain string) error {
	return r.remove(ctx, addressKey(localPart, domain))
}

// AddDomainRoute installs the legacy per-domain route. Kept for backward
// compatibility; never installed by the mailbox lifecycle service for new
// vaultboxes (per-address routes are authoritative, see DESIGN.md).
func (r *Router) AddDomainRoute(ctx context.Context, domain, transport, vaultboxID string) error {
	key := domainKey(domain)
	if err := r.upsert(ctx, key, transport); err != nil {
		return err
	}
	return r.audit(ctx, domain, "", vaultboxID, model.RouteEncryptedIMAP)
}

func (r *Router) RemoveDomainRoute(ctx context.Context, domain string) error {
	return r.remove(ctx, domainKey(domain))
}

// AddCatchallRoute installs the @domain catch-all entry. target is
// rewritten to directly, matching §4.2's "@domain → <primary_email_or_username>"
// format: the catch-all line points at an address or username that already
// has its own route (or is the IMAP credential username directly), not at
// a transport prefix.
func (r *Router) AddCatchallRoute(ctx context.Context, domain, target, vaultboxID string) error {
	key := catchallKey(domain)
	if err := r.upsert(ctx, key, target); err != nil {
		return err
	}
	return r.audit(ctx, domain, "", vaultboxID, model.RouteCatchall)
}

func (r *Router) RemoveCatchallRoute(ctx context.Context, domain string) error {
	return r.remove(ctx, catchallKey(domain))
}

// ListRoutes returns every currently installed entry, parsed from the map
// file on disk (the source of truth at delivery time).
func (r *Router) ListRoutes() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.readEntries()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.key+"\t"+e.transport)
	}
	sort.Strings(lines)
	return lines, nil
}

// TestRoute reports whether any entry in the map resolves to target.
func (r *Router) TestRoute(target string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.readEntries()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.transport == target {
			return true, nil
		}
	}
	return false, nil
}

// ReloadConfiguration re-invokes the driver against the current map file
// without mutating it, for operator-triggered reloads.
func (r *Router) ReloadConfiguration(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.driver.ApplyRoutes(ctx, r.mapPath)
}

// upsert implements the Add algorithm of §4.2: read, filter out any line
// matching key, append, atomic write — all under the router mutex, which
// guards concurrent writers only. The reload itself runs after the mutex
// is released, per §5: writers never hold the lock across the MTA reload
// call's tail.
func (r *Router) upsert(ctx context.Context, key, transport string) error {
	r.mu.Lock()
	entries, err := r.readEntries()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if e.key != key {
			filtered = append(filtered, e)
		}
	}
	filtered = append(filtered, entry{key: key, transport: transport})

	err = r.writeEntries(filtered)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := r.driver.ApplyRoutes(ctx, r.mapPath); err != nil {
		r.log.Error("mta: reload after add failed", err, "key", key)
		return exterrors.Transient("mta reload failed after route write", err)
	}
	r.metrics.RouteChanged("add")
	return nil
}

// remove implements the Remove algorithm; removing an absent key is
// idempotent and succeeds silently. Like upsert, the mutex covers only the
// read-filter-write of the map file, not the reload that follows.
func (r *Router) remove(ctx context.Context, key string) error {
	r.mu.Lock()
	entries, err := r.readEntries()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	filtered := entries[:0]
	found := false
	for _, e := range entries {
		if e.key == key {
			found = true
			continue
		}
		filtered = append(filtered, e)
	}
	if !found {
		r.mu.Unlock()
		return nil
	}

	err = r.writeEntries(filtered)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := r.driver.ApplyRoutes(ctx, r.mapPath); err != nil {
		r.log.Error("mta: reload after remove failed", err, "key", key)
		return exterrors.Transient("mta reload failed after route removal", err)
	}
	r.metrics.RouteChanged("remove")
	return nil
}

func (r *Router) readEntries() ([]entry, error) {
	f, err := os.Open(r.mapPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, exterrors.External("mta: reading transport map", err)
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			parts = strings.Fields(line)
			if len(parts) < 2 {
				continue
			}
			parts = []string{parts[0], strings.Join(parts[1:], " ")}
		}
		entries = append(entries, entry{key: parts[0], transport: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, exterrors.External("mta: scanning transport map", err)
	}
	return entries, nil
}

// writeEntries rewrites the map to a temp file in the same directory,
// fsyncs it, and renames over the original — the same temp-then-rename
// discipline the teacher uses for its own atomic database sync.
func (r *Router) writeEntries(entries []entry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	dir := filepath.Dir(r.mapPath)
	tmpPath := filepath.Join(dir, ".transport_map."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return exterrors.External("mta: creating temp transport map", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", e.key, e.transport); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return exterrors.External("mta: writing temp transport map", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return exterrors.External("mta: flushing temp transport map", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return exterrors.External("mta: syncing temp transport map", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return exterrors.External("mta: closing temp transport map", err)
	}
	if err := os.Rename(tmpPath, r.mapPath); err != nil {
		os.Remove(tmpPath)
		return exterrors.External("mta: renaming transport map into place", err)
	}
	return nil
}

// audit appends a Route row via C1. Failure here means the map file and
// the MTA are already updated but the audit log lags; the caller (C5)
// is responsible for recording the inconsistency, per §7.
func (r *Router) audit(ctx context.Context, domain, emailAddress, vaultboxID string, routeType model.RouteType) error {
	if r.routes == nil {
		return nil
	}
	row := &model.Route{
		ID:           uuid.NewString(),
		Domain:       domain,
		EmailAddress: emailAddress,
		VaultboxID:   vaultboxID,
		RouteType:    routeType,
		Active:       true,
	}
	return r.routes.Insert(ctx, row)
}
