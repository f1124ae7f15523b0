package intake

import (
	"os"
	"path/filepath"

	gomaildir "github.com/emersion/go-maildir"

	"github.com/motorical/encimap/framework/exterrors"
)

// Maildir wraps github.com/emersion/go-maildir's atomic tmp/new/cur
// delivery for a single vaultbox (or username, for simple mailboxes).
type Maildir struct {
	dir gomaildir.Dir
}

// NewMaildir returns a Maildir rooted at <maildirRoot>/<key>/Maildir, per
// §4.4 step 5.
func NewMaildir(maildirRoot, key string) *Maildir {
	return &Maildir{dir: gomaildir.Dir(filepath.Join(maildirRoot, key, "Maildir"))}
}

// Init ensures tmp/new/cur exist with secure permissions.
func (m *Maildir) Init() error {
	if err := os.MkdirAll(filepath.Dir(string(m.dir)), 0700); err != nil {
		return exterrors.External("maildir: initializing directories", err)
	}
	if err := m.dir.Init(); err != nil {
		return exterrors.External("maildir: initializing directories", err)
	}
	return nil
}

// Deliver writes data to tmp/ then renames it into new/, returning the
// path of the delivered file.
func (m *Maildir) Deliver(data []byte) (string, error) {
	tmpDir := filepath.Join(string(m.dir), "tmp")
	before, _ := os.ReadDir(tmpDir)

	delivery, err := gomaildir.NewDelivery(string(m.dir))
	if err != nil {
		return "", exterrors.External("maildir: starting delivery", err)
	}

	after, err := os.ReadDir(tmpDir)
	if err != nil {
		delivery.Abort()
		return "", exterrors.External("maildir: starting delivery", err)
	}
	key, err := newTmpEntry(before, after)
	if err != nil {
		delivery.Abort()
		return "", exterrors.External("maildir: starting delivery", err)
	}

	if _, err := delivery.Write(data); err != nil {
		delivery.Abort()
		return "", exterrors.External("maildir: writing message", err)
	}
	if err := delivery.Close(); err != nil {
		return "", exterrors.External("maildir: closing delivery", err)
	}
	return filepath.Join(string(m.dir), "new", key), nil
}

// newTmpEntry returns the name of the single entry present in after but
// not in before, i.e. the tmp/ file created by the just-started delivery.
func newTmpEntry(before, after []os.DirEntry) (string, error) {
	seen := make(map[string]bool, len(before))
	for _, e := range before {
		seen[e.Name()] = true
	}
	for _, e := range after {
		if !seen[e.Name()] {
			return e.Name(), nil
		}
	}
	return "", exterrors.External("maildir: could not identify delivered file", nil)
}
