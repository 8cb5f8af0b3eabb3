// Package wc implements the package-level working copy (spec §3 "package
// variant", §4.8/§4.9): the component that wires the entry tracker, the
// file status calculator, the WC lock, the update/commit planners, the
// merge engine, the transaction record, and the remote collaborator into
// the two crash-recoverable state machines a caller actually invokes.
//
// Grounded on osc2/wc/package.py's Package class (the update/commit
// state machines it implements) and on modules/host/contractmanager's
// "load, detect an interrupted WAL entry, resume or roll back" shape for
// the startup resume rules.
package wc

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/NebulousLabs/errors"

	"github.com/buildservice-client/osc/localcache"
	"github.com/buildservice-client/osc/persist"
	"github.com/buildservice-client/osc/remote"
	"github.com/buildservice-client/osc/status"
	"github.com/buildservice-client/osc/tracker"
	"github.com/buildservice-client/osc/txn"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcfs"
	"github.com/buildservice-client/osc/wclock"
	"github.com/buildservice-client/osc/wcstate"
)

// Package is a package working copy bound to one on-disk root and one
// remote client.
type Package struct {
	layout  *wcfs.Layout
	lock    *wclock.Lock
	client  *remote.Client
	ft      *tracker.FileTracker
	log     *persist.Logger
	cache   *localcache.Cache
	project string
	pkgName string
	apiurl  string
}

// Open opens an existing package WC at root. A package WC can always be
// opened standalone (per spec §9's open question decision): having a
// parent project is optional metadata this type never consults.
func Open(root string, client *remote.Client) (*Package, error) {
	layout, err := wcfs.Open(root, wcfs.Package)
	if err != nil {
		return nil, err
	}
	return fromLayout(layout, client)
}

func fromLayout(layout *wcfs.Layout, client *remote.Client) (*Package, error) {
	ft, err := tracker.OpenFileTracker(layout.ManifestFile())
	if err != nil {
		return nil, err
	}
	project, err := layout.ReadProject()
	if err != nil {
		return nil, err
	}
	pkgName, err := layout.ReadPackage()
	if err != nil {
		return nil, err
	}
	apiurl, err := layout.ReadAPIURL()
	if err != nil {
		return nil, err
	}
	log, err := persist.NewLogger(layout.LogFile())
	if err != nil {
		return nil, err
	}
	cache, err := localcache.Open(layout.CacheFile())
	if err != nil {
		log.Close()
		return nil, err
	}
	client.SetCache(cache)
	return &Package{
		layout:  layout,
		lock:    wclock.New(layout.LockFile()),
		client:  client,
		ft:      ft,
		log:     log,
		cache:   cache,
		project: project,
		pkgName: pkgName,
		apiurl:  apiurl,
	}, nil
}

// Close releases this package's resources, flushing a SHUTDOWN marker to
// its log and closing its blob cache.
func (p *Package) Close() error {
	cacheErr := p.cache.Close()
	logErr := p.log.Close()
	return errors.Compose(cacheErr, logErr)
}

// Init creates a brand-new package WC at root and opens it.
func Init(root string, opts wcfs.InitOptions, client *remote.Client) (*Package, error) {
	layout, err := wcfs.Init(root, wcfs.Package, opts)
	if err != nil {
		return nil, err
	}
	return fromLayout(layout, client)
}

// Repair reconstructs a minimally-consistent control directory (per the
// supplemented wc.Repair feature) and opens it, so a caller that hit
// InconsistentWC at Open time can heal the WC and then run Update.
func Repair(root string, opts wcfs.InitOptions, client *remote.Client) (*Package, error) {
	layout, err := wcfs.Repair(root, wcfs.Package, opts)
	if err != nil {
		return nil, err
	}
	return fromLayout(layout, client)
}

func (p *Package) workPath(name string) string {
	return filepath.Join(p.layout.Root(), name)
}

// FilePath returns name's path inside this package's working directory,
// for callers (package diffengine) that need to read its live content.
func (p *Package) FilePath(name string) string { return p.workPath(name) }

// PristinePath returns name's slot in the pristine cache.
func (p *Package) PristinePath(name string) string { return p.layout.DataPath(name) }

// DiffScratchDir returns the on-demand scratch directory a diff against
// srcmd5 downloads missing pristines into (spec §4.11).
func (p *Package) DiffScratchDir(srcmd5 string) string { return p.layout.DiffDir(srcmd5) }

// Project returns the owning project's name.
func (p *Package) Project() string { return p.project }

// PackageName returns this package's name.
func (p *Package) PackageName() string { return p.pkgName }

// RemoteClient returns the collaborator this package talks to the
// source-hosting service through.
func (p *Package) RemoteClient() *remote.Client { return p.client }

// Entries returns a snapshot of every tracked file entry.
func (p *Package) Entries() []tracker.Entry { return p.ft.Iter() }

// IsLink reports whether this package is a source link.
func (p *Package) IsLink() bool { return p.ft.IsLink() }

// LinkInfo surfaces the link descriptor when IsLink is true.
func (p *Package) LinkInfo() (project, pkg, srcmd5 string, ok bool) {
	return p.ft.LinkInfo()
}

// Status computes the effective, derived state of one name (spec §4.4).
// A name present on disk but not tracked reports Unknown with no error.
func (p *Package) Status(name string) (wcstate.EntryState, error) {
	e := p.ft.Find(name)
	if e == nil {
		return wcstate.Unknown, nil
	}
	return status.FileStatus(&status.TrackedEntry{State: e.State, MD5: e.MD5}, p.workPath(name))
}

// StatusAll computes the effective state of every tracked name plus every
// untracked name present on disk (reported as Unknown).
func (p *Package) StatusAll() (map[string]wcstate.EntryState, error) {
	result := make(map[string]wcstate.EntryState)
	for _, e := range p.ft.Iter() {
		st, err := status.FileStatus(&status.TrackedEntry{State: e.State, MD5: e.MD5}, p.workPath(e.Name))
		if err != nil {
			return nil, err
		}
		result[e.Name] = st
	}
	dirEntries, err := ioutil.ReadDir(p.layout.Root())
	if err != nil {
		return nil, err
	}
	for _, fi := range dirEntries {
		if fi.Name() == wcfs.ControlDirName {
			continue
		}
		if _, tracked := result[fi.Name()]; !tracked {
			result[fi.Name()] = wcstate.Unknown
		}
	}
	return result, nil
}

// Add starts tracking an existing, currently-untracked file as locally
// added. The file must already exist on disk; Add has no remote effect
// until the next commit.
func (p *Package) Add(name string) error {
	return p.lock.With(func() error {
		if p.ft.Find(name) != nil {
			return &wcerr.ValueError{Op: "wc.Add", Reason: "already tracked: " + name}
		}
		if _, err := os.Stat(p.workPath(name)); err != nil {
			return &wcerr.ValueError{Op: "wc.Add", Reason: "no such file: " + name}
		}
		if err := p.ft.Add(name, wcstate.Added); err != nil {
			return err
		}
		return p.ft.Write()
	})
}

// Remove marks name for deletion on the next commit. A name that was
// only locally added (never committed) is untracked outright instead,
// since the server never saw it.
func (p *Package) Remove(name string) error {
	return p.lock.With(func() error {
		e := p.ft.Find(name)
		if e == nil {
			return &wcerr.ValueError{Op: "wc.Remove", Reason: "not tracked: " + name}
		}
		if e.State == wcstate.Added {
			return p.removeAndWrite(name)
		}
		if err := p.ft.Set(name, wcstate.Deleted); err != nil {
			return err
		}
		return p.ft.Write()
	})
}

func (p *Package) removeAndWrite(name string) error {
	if err := p.ft.Remove(name); err != nil {
		return err
	}
	return p.ft.Write()
}

// Revert restores a single tracked file from its pristine copy, or
// untracks it if it was only ever locally added (the supplemented
// wc.Revert operation). Reverting a conflicted file also discards its
// side files (.mine, .rev<srcmd5>).
func (p *Package) Revert(name string) error {
	return p.lock.With(func() error {
		e := p.ft.Find(name)
		if e == nil {
			return &wcerr.ValueError{Op: "wc.Revert", Reason: "not tracked: " + name}
		}
		if e.State == wcstate.Added {
			return p.removeAndWrite(name)
		}
		if e.State == wcstate.Deleted {
			if err := p.ft.Set(name, wcstate.Normal); err != nil {
				return err
			}
		}
		if err := copyFile(p.layout.DataPath(name), p.workPath(name)); err != nil {
			return err
		}
		removeSideFiles(p.workPath(name))
		if err := p.ft.Set(name, wcstate.Normal); err != nil {
			return err
		}
		return p.ft.Write()
	})
}

// Resolved marks a conflicted file as resolved (the supplemented,
// idempotent Resolved(name) operation named in spec §8). It is a no-op
// if the name is not currently conflicted. The resulting state reflects
// whatever the file's content now hashes to: Normal if it matches the
// tracked md5 (the user restored the old content or accepted theirs
// verbatim), Modified otherwise.
func (p *Package) Resolved(name string) error {
	return p.lock.With(func() error {
		e := p.ft.Find(name)
		if e == nil {
			return &wcerr.ValueError{Op: "wc.Resolved", Reason: "not tracked: " + name}
		}
		if e.State != wcstate.Conflicted {
			return nil
		}
		newState := wcstate.Modified
		if hash, err := status.HashFile(p.workPath(name)); err == nil && hash == e.MD5 {
			newState = wcstate.Normal
		}
		if err := p.ft.Set(name, newState); err != nil {
			return err
		}
		removeSideFiles(p.workPath(name))
		return p.ft.Write()
	})
}

// IsUpdateable reports whether this package WC is currently safe for a
// parent project's state machine to recurse into without risking a
// partial side effect: it must carry no pending transaction that has
// already passed its point of no return, and no unresolved file
// conflicts (the is_updateable rule behind spec §4.10's project-level
// conflict classification). A package failing this check still resumes
// normally via its own Update/Commit; it is only the project aggregator
// that must not touch it blindly.
func (p *Package) IsUpdateable() (bool, error) {
	if p.layout.HasTransaction() {
		rec, err := txn.Load(p.layout.TransactionStateFile())
		if err != nil {
			return false, err
		}
		if rec.Kind == wcstate.TxnCommit && rec.CommitPhase == wcstate.CommitCommitting {
			return false, nil
		}
		if rec.Kind == wcstate.TxnUpdate && rec.UpdatePhase == wcstate.UpdateUpdating {
			return false, nil
		}
	}
	for _, e := range p.ft.Iter() {
		if e.State == wcstate.Conflicted {
			return false, nil
		}
	}
	return true, nil
}

func removeSideFiles(workPath string) {
	matches, _ := filepath.Glob(workPath + ".rev*")
	for _, m := range matches {
		os.Remove(m)
	}
	os.Remove(workPath + ".mine")
}
