package wc

import (
	"fmt"
	"os"
	"time"

	"github.com/NebulousLabs/errors"

	"github.com/buildservice-client/osc/notify"
	"github.com/buildservice-client/osc/planner"
	"github.com/buildservice-client/osc/remote"
	"github.com/buildservice-client/osc/status"
	"github.com/buildservice-client/osc/tracker"
	"github.com/buildservice-client/osc/txn"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcstate"
)

// CommitOptions configures Commit.
type CommitOptions struct {
	// Names restricts the commit to this set of tracked names; nil commits
	// everything currently tracked.
	Names []string

	Comment  string
	KeepLink bool

	Policies []planner.FileCommitPolicy
	Listener notify.TransactionListener
}

// Commit runs the commit executor (spec §4.9) under the WC lock: it
// classifies the tracked set, uploads any blob the server doesn't
// already have, submits the proposed filelist, and brings the working
// copy's pristine cache and tracker state in line with the accepted
// revision.
func (p *Package) Commit(opts CommitOptions) error {
	return p.lock.With(func() error {
		return p.commit(opts)
	})
}

func (p *Package) commit(opts CommitOptions) error {
	listener := listenerOrNop(opts.Listener)
	p.log.Println("commit: starting for", p.pkgName)

	if p.layout.HasTransaction() {
		rec, err := txn.Load(p.layout.TransactionStateFile())
		if err != nil {
			return err
		}
		if rec.Kind == wcstate.TxnCommit {
			return p.runCommit(rec, listener)
		}
		if rec.UpdatePhase == wcstate.UpdatePrepare {
			if err := p.rollbackUpdate(); err != nil {
				return err
			}
		} else {
			return &wcerr.PendingTransaction{Path: p.layout.TransactionStateFile(), Kind: rec.Kind.String()}
		}
	}

	if err := listener.Begin(); err != nil {
		return err
	}

	remoteSrcMD5, err := p.currentRemoteSrcMD5()
	if err != nil {
		return err
	}
	_, localSrcMD5 := p.ft.RevisionData()
	if remoteSrcMD5 != localSrcMD5 {
		return &wcerr.WCOutOfDate{Local: localSrcMD5, Remote: remoteSrcMD5}
	}

	tracked := p.ft.Iter()
	localEntries := make([]planner.LocalEntry, len(tracked))
	for i, e := range tracked {
		localEntries[i] = planner.LocalEntry{Name: e.Name, State: e.State, MD5: e.MD5}
	}

	var statusErr error
	derived := func(name string) wcstate.EntryState {
		e := p.ft.Find(name)
		st, err := status.FileStatus(&status.TrackedEntry{State: e.State, MD5: e.MD5}, p.workPath(name))
		if err != nil && statusErr == nil {
			statusErr = err
		}
		return st
	}

	var commitSet map[string]bool
	if opts.Names != nil {
		commitSet = make(map[string]bool, len(opts.Names))
		for _, n := range opts.Names {
			commitSet[n] = true
		}
	}

	plan, err := planner.PlanCommit(localEntries, commitSet, derived, opts.Policies)
	if err != nil {
		return err
	}
	if statusErr != nil {
		return statusErr
	}

	rec := txn.NewCommit(localSrcMD5).WithComment(opts.Comment)
	rec.Unchanged = plan.Unchanged
	rec.Added = plan.Added
	rec.Deleted = plan.Deleted
	rec.Modified = plan.Modified

	if err := os.MkdirAll(p.layout.TransactionDir(), 0755); err != nil {
		return err
	}
	if err := rec.Save(p.layout.TransactionStateFile()); err != nil {
		return err
	}

	return p.runCommit(rec, listener)
}

func (p *Package) currentRemoteSrcMD5() (string, error) {
	pm, err := p.client.GetPackageManifest(p.project, p.pkgName, "", false)
	if err != nil {
		return "", err
	}
	return pm.SrcMD5, nil
}

// runCommit drives the TRANSFER/COMMITTING phases of a commit record,
// whether freshly created or resumed after a crash. TRANSFER is re-run
// from scratch on resume: resubmitting an already-accepted filelist or
// re-uploading an already-staged blob is always safe, so no per-name
// progress needs to be tracked for this phase.
func (p *Package) runCommit(rec *txn.Record, listener notify.TransactionListener) error {
	if rec.CommitPhase == wcstate.CommitTransfer {
		entries, err := p.buildCommitEntries(rec)
		if err != nil {
			return err
		}
		opts := remote.CommitOptions{KeepLink: true, Comment: rec.Comment}
		for {
			res, err := p.client.CommitFileList(p.project, p.pkgName, entries, opts)
			if err != nil {
				return err
			}
			if res.Accepted {
				rec.Revision = res.Rev
				rec.SrcMD5 = res.SrcMD5
				break
			}
			if len(res.Missing) == 0 {
				return &wcerr.HTTPError{Op: "commitfilelist", Err: fmt.Errorf("server rejected the filelist without naming any missing blob")}
			}
			for _, name := range res.Missing {
				data, err := os.ReadFile(p.workPath(name))
				if err != nil {
					return err
				}
				if err := p.client.PutFile(p.project, p.pkgName, name, data); err != nil {
					return err
				}
			}
		}
		listener.Transfer()
		rec.CommitPhase = wcstate.CommitCommitting
		if err := rec.Save(p.layout.TransactionStateFile()); err != nil {
			return err
		}
	}

	pm, err := p.client.GetPackageManifest(p.project, p.pkgName, rec.Revision, false)
	if err != nil {
		return err
	}

	newStates := make(map[string]wcstate.EntryState, len(pm.Entries))
	newEntries := make([]tracker.Entry, 0, len(pm.Entries))
	for _, e := range pm.Entries {
		newStates[e.Name] = wcstate.Normal
		newEntries = append(newEntries, tracker.Entry{Name: e.Name, MD5: e.MD5, Size: e.Size, Mtime: e.Mtime})

		workPath := p.workPath(e.Name)
		if fileExists(workPath) {
			if err := replacePristine(workPath, p.layout.DataPath(e.Name)); err != nil {
				return err
			}
			mt := time.Unix(e.Mtime, 0)
			os.Chtimes(workPath, mt, mt)
		}
		if !rec.IsProcessed(e.Name) {
			rec.MarkProcessed(e.Name)
			listener.Processed(e.Name)
		}
	}
	for _, name := range rec.Deleted {
		workErr := removeIgnoreNotExist(p.workPath(name))
		dataErr := removeIgnoreNotExist(p.layout.DataPath(name))
		if err := errors.Compose(workErr, dataErr); err != nil {
			return err
		}
		if !rec.IsProcessed(name) {
			rec.MarkProcessed(name)
			listener.Processed(name)
		}
	}

	if err := p.ft.Merge(newStates, newEntries, rec.Revision, rec.SrcMD5); err != nil {
		return err
	}
	if err := p.ft.Write(); err != nil {
		return err
	}
	if err := os.RemoveAll(p.layout.TransactionDir()); err != nil {
		return err
	}
	p.log.Println("commit: finished for", p.pkgName, "at revision", rec.Revision)
	listener.Finished()
	return nil
}

// buildCommitEntries assembles the full proposed filelist (spec §4.9
// step 3): unchanged names keep their tracked md5, added/modified names
// are rehashed live since their working content is what's being
// committed. Deleted names are omitted; their absence from the filelist
// is itself the delete instruction.
func (p *Package) buildCommitEntries(rec *txn.Record) ([]remote.FileEntry, error) {
	var entries []remote.FileEntry
	for _, name := range rec.Unchanged {
		e := p.ft.Find(name)
		if e == nil {
			continue
		}
		entries = append(entries, remote.FileEntry{Name: name, MD5: e.MD5})
	}
	for _, name := range append(append([]string{}, rec.Added...), rec.Modified...) {
		sum, err := status.HashFile(p.workPath(name))
		if err != nil {
			return nil, err
		}
		entries = append(entries, remote.FileEntry{Name: name, MD5: sum})
	}
	return entries, nil
}

// rollbackUpdate discards a pending update transaction still in PREPARE:
// no working file has been touched yet, but PREPARE may have already
// fetched some of the Added/Modified content into TransactionDataDir
// before being interrupted. That scratch content is removed first (it can
// be the bulk of what's on disk), then the rest of the transaction
// directory; a failure clearing one doesn't stop the attempt at the
// other, and both are reported together.
func (p *Package) rollbackUpdate() error {
	dataErr := os.RemoveAll(p.layout.TransactionDataDir())
	dirErr := os.RemoveAll(p.layout.TransactionDir())
	return errors.Compose(dataErr, dirErr)
}

// rollbackCommit discards a pending commit transaction still in
// TRANSFER: commitfilelist was never accepted, so the server holds no
// state that depends on this attempt; any blob already staged via
// PutFile is harmless leftover that a future commit will restage anyway.
func (p *Package) rollbackCommit(rec *txn.Record) error {
	return os.RemoveAll(p.layout.TransactionDir())
}
