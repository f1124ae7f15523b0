package credential

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/motorical/encimap/framework/exterrors"
)

// FileIMAPDriver maintains the IMAP credential file on disk: a
// tab-separated `username:{scheme}hash[\tuserdb_...]` file, rewritten
// atomically on every mutation, then reloaded and cache-flushed via
// external commands.
type FileIMAPDriver struct {
	mu sync.Mutex

	Path          string
	MaildirRoot   string
	ReloadCmd     string
	AuthCacheFlushCmd string // optional; "" disables the flush step

	entries map[string]fileEntry
}

type fileEntry struct {
	passwordHash string
	maildirPath  string
}

func NewFileIMAPDriver(path, maildirRoot, reloadCmd, authCacheFlushCmd string) *FileIMAPDriver {
	return &FileIMAPDriver{
		Path:              path,
		MaildirRoot:       maildirRoot,
		ReloadCmd:         reloadCmd,
		AuthCacheFlushCmd: authCacheFlushCmd,
		entries:           make(map[string]fileEntry),
	}
}

func (d *FileIMAPDriver) UpsertCredential(ctx context.Context, username, passwordHash, maildirPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(); err != nil {
		return err
	}
	d.entries[username] = fileEntry{passwordHash: passwordHash, maildirPath: maildirPath}
	if err := d.write(); err != nil {
		return err
	}
	return d.reload(ctx)
}

func (d *FileIMAPDriver) RemoveCredential(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(); err != nil {
		return err
	}
	delete(d.entries, username)
	if err := d.write(); err != nil {
		return err
	}
	return d.reload(ctx)
}

func (d *FileIMAPDriver) FlushAuthCache(ctx context.Context, username string) error {
	if d.AuthCacheFlushCmd == "" {
		return nil
	}
	args := strings.Fields(d.AuthCacheFlushCmd)
	args = append(args, username)
	if err := exec.CommandContext(ctx, args[0], args[1:]...).Run(); err != nil {
		return exterrors.External("credential: flushing IMAP auth cache", err)
	}
	return nil
}

func (d *FileIMAPDriver) load() error {
	if d.entries == nil {
		d.entries = make(map[string]fileEntry)
	}
	f, err := os.Open(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return exterrors.External("credential: reading IMAP credential file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		userHash := strings.SplitN(fields[0], ":", 2)
		if len(userHash) != 2 {
			continue
		}
		e := fileEntry{passwordHash: userHash[1]}
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "userdb_mail=maildir:") {
				e.maildirPath = strings.TrimPrefix(f, "userdb_mail=maildir:")
			}
		}
		d.entries[userHash[0]] = e
	}
	return scanner.Err()
}

func (d *FileIMAPDriver) write() error {
	usernames := make([]string, 0, len(d.entries))
	for u := range d.entries {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)

	dir := filepath.Dir(d.Path)
	tmpPath := filepath.Join(dir, ".imap_creds."+uuid.NewString()+".tmp")

	// 0640: per §6 the IMAP credential file must be group-readable by the
	// IMAP service user, not owner-only.
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return exterrors.External("credential: creating temp IMAP credential file", err)
	}
	w := bufio.NewWriter(f)
	for _, username := range usernames {
		e := d.entries[username]
		line := fmt.Sprintf("%s:%s", username, e.passwordHash)
		if e.maildirPath != "" {
			line += "\tuserdb_mail=maildir:" + e.maildirPath
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return exterrors.External("credential: writing temp IMAP credential file", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return exterrors.External("credential: flushing temp IMAP credential file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return exterrors.External("credential: syncing temp IMAP credential file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return exterrors.External("credential: closing temp IMAP credential file", err)
	}
	if err := os.Rename(tmpPath, d.Path); err != nil {
		os.Remove(tmpPath)
		return exterrors.External("credential: renaming IMAP credential file into place", err)
	}
	return nil
}

func (d *FileIMAPDriver) reload(ctx context.Context) error {
	if d.ReloadCmd == "" {
		return nil
	}
	args := strings.Fields(d.ReloadCmd)
	if err := exec.CommandContext(ctx, args[0], args[1:]...).Run(); err != nil {
		return exterrors.Transient("credential: reloading IMAP daemon", err)
	}
	return nil
}
