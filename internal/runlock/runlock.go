// Package runlock provides a host-wide exclusion lock for orchestration runs.
//
// The lock is a file holding the owner's PID. It is created with an atomic
// link so two processes can never both create it, and a lock whose owner is
// no longer alive is reclaimed by renaming a new owner file over it. Reclaims
// are serialised by an advisory lock on a sidecar file.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned by Release when the lock is not held by this Lock.
var ErrNotHeld = errors.New("runlock: lock not held")

// reclaimSuffix names the sidecar file reclaimers lock while replacing a
// stale lock file. The sidecar is left in place after use.
const reclaimSuffix = ".reclaim"

// unreadableGrace is how old an unparseable lock file must be before it is
// treated as abandoned. A younger one may be mid-write by its creator.
const unreadableGrace = 10 * time.Minute

// Owner is the content of the lock file.
type Owner struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Hostname   string    `json:"hostname"`
	Token      string    `json:"token"`
}

// LockError wraps lock file errors with the operation and path.
type LockError struct {
	Op   string
	Path string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("runlock: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// Lock is a file-based run lock. A Lock value is not safe for concurrent use
// by multiple goroutines; it guards against other processes.
type Lock struct {
	path  string
	owner *Owner

	// alive reports whether a PID is a running process. Replaced in tests.
	alive func(pid int) bool
	now   func() time.Time
}

// New returns an unacquired lock at path.
func New(path string) *Lock {
	return &Lock{path: path, alive: processAlive, now: time.Now}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Held reports whether this Lock currently owns the lock file.
func (l *Lock) Held() bool { return l.owner != nil }

// Acquire tries to take the lock. It returns false with a nil error when
// another live process holds it; that is the normal "run already active" case.
func (l *Lock) Acquire() (bool, error) {
	if l.owner != nil {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, &LockError{Op: "acquire", Path: l.path, Err: err}
	}

	host, _ := os.Hostname()
	owner := &Owner{
		PID:        os.Getpid(),
		AcquiredAt: l.now().UTC(),
		Hostname:   host,
		Token:      uuid.New().String(),
	}
	tmp, err := l.writeTemp(owner)
	if err != nil {
		return false, &LockError{Op: "acquire", Path: l.path, Err: err}
	}
	defer os.Remove(tmp)

	// Link fails if the target exists, which makes creation atomic.
	err = os.Link(tmp, l.path)
	if err == nil {
		l.owner = owner
		return true, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return false, &LockError{Op: "acquire", Path: l.path, Err: err}
	}

	_, stale, err := l.inspect()
	if err != nil {
		return false, &LockError{Op: "inspect", Path: l.path, Err: err}
	}
	if !stale {
		return false, nil
	}
	return l.reclaim(tmp, owner)
}

// reclaim replaces a stale lock file with tmp. Reclaimers serialise on a
// sidecar file lock and re-check staleness while holding it, so a lock that
// another process reclaimed in the meantime is seen as live.
func (l *Lock) reclaim(tmp string, owner *Owner) (bool, error) {
	unlock, err := lockFile(l.path + reclaimSuffix)
	if err != nil {
		return false, &LockError{Op: "reclaim", Path: l.path, Err: err}
	}
	defer unlock()

	current, stale, err := l.inspect()
	if err != nil {
		return false, &LockError{Op: "inspect", Path: l.path, Err: err}
	}
	if !stale {
		return false, nil
	}

	if current == nil {
		if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
			// Released meanwhile. A fresh acquire does not take the sidecar
			// lock, so only the atomic link may create the file here.
			if err := os.Link(tmp, l.path); err != nil {
				if errors.Is(err, os.ErrExist) {
					return false, nil
				}
				return false, &LockError{Op: "reclaim", Path: l.path, Err: err}
			}
			l.owner = owner
			return true, nil
		}
	}

	// Replace in one rename, never delete-then-create.
	if err := os.Rename(tmp, l.path); err != nil {
		return false, &LockError{Op: "reclaim", Path: l.path, Err: err}
	}
	l.owner = owner
	return true, nil
}

// Release removes the lock file if it still belongs to this Lock.
func (l *Lock) Release() error {
	if l.owner == nil {
		return ErrNotHeld
	}
	defer func() { l.owner = nil }()

	got, err := readOwner(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &LockError{Op: "release", Path: l.path, Err: err}
	}
	if got.Token != l.owner.Token {
		return &LockError{Op: "release", Path: l.path, Err: ErrNotHeld}
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &LockError{Op: "release", Path: l.path, Err: err}
	}
	return nil
}

// Current returns the owner recorded in the lock file, or os.ErrNotExist.
func (l *Lock) Current() (*Owner, error) {
	return readOwner(l.path)
}

// inspect reads the existing lock file and decides whether it can be reclaimed.
func (l *Lock) inspect() (*Owner, bool, error) {
	info, err := os.Stat(l.path)
	if errors.Is(err, os.ErrNotExist) {
		// Released between our link and stat.
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	owner, err := readOwner(l.path)
	if err != nil {
		return nil, l.now().Sub(info.ModTime()) > unreadableGrace, nil
	}

	host, _ := os.Hostname()
	if owner.Hostname != "" && host != "" && owner.Hostname != host {
		// The PID belongs to another machine sharing the directory.
		return owner, false, nil
	}
	if owner.PID <= 0 {
		return owner, true, nil
	}
	return owner, !l.alive(owner.PID), nil
}

func (l *Lock) writeTemp(owner *Owner) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(l.path), ".clipsync-lock-*.tmp")
	if err != nil {
		return "", err
	}
	if err := json.NewEncoder(f).Encode(owner); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func readOwner(path string) (*Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
