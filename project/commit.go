package project

import (
	"os"

	"github.com/NebulousLabs/errors"

	"github.com/buildservice-client/osc/notify"
	"github.com/buildservice-client/osc/txn"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcstate"
)

// CommitOptions configures Commit.
type CommitOptions struct {
	// Names restricts the commit to this set of tracked package names;
	// nil commits every tracked package.
	Names []string

	Listener notify.TransactionListener

	// PackageListener, if set, is called once per package name to produce
	// the listener passed to that package's own nested Commit.
	PackageListener func(name string) notify.TransactionListener
}

func (o CommitOptions) packageListener(name string) notify.TransactionListener {
	if o.PackageListener == nil {
		return nil
	}
	return o.PackageListener(name)
}

// Commit runs the project-level commit executor (spec §4.10): it creates
// any locally-added package remotely, deletes any package marked for
// removal, and recurses into every candidate package's own Commit to
// push its pending file changes, all under the project's lock.
func (pr *Project) Commit(opts CommitOptions) error {
	return pr.lock.With(func() error {
		return pr.commit(opts)
	})
}

func (pr *Project) commit(opts CommitOptions) error {
	listener := listenerOrNop(opts.Listener)
	pr.log.Println("commit: starting for", pr.project)

	if pr.layout.HasTransaction() {
		rec, err := txn.Load(pr.layout.TransactionStateFile())
		if err != nil {
			return err
		}
		if rec.Kind == wcstate.TxnCommit {
			return pr.runCommit(rec, opts)
		}
		if rec.UpdatePhase == wcstate.UpdatePrepare {
			if err := pr.rollback(); err != nil {
				return err
			}
		} else {
			return &wcerr.PendingTransaction{Path: pr.layout.TransactionStateFile(), Kind: rec.Kind.String()}
		}
	}

	if err := listener.Begin(); err != nil {
		return err
	}

	var inSet func(name string) bool
	if opts.Names == nil {
		inSet = func(string) bool { return true }
	} else {
		set := make(map[string]bool, len(opts.Names))
		for _, n := range opts.Names {
			set[n] = true
		}
		inSet = func(name string) bool { return set[name] }
	}

	var added, deleted, candidates []string
	for _, e := range pr.pt.Iter() {
		if !inSet(e.Name) {
			continue
		}
		switch e.State {
		case wcstate.Added:
			added = append(added, e.Name)
		case wcstate.Deleted:
			deleted = append(deleted, e.Name)
		case wcstate.Normal:
			candidates = append(candidates, e.Name)
		}
	}

	var conflicted []string
	for _, name := range append(append([]string{}, added...), candidates...) {
		root := pr.packagePath(name)
		if !packageExists(root) {
			continue
		}
		ok, err := isPackageUpdateable(root, pr.client)
		if err != nil {
			return err
		}
		if !ok {
			conflicted = append(conflicted, name)
		}
	}
	if len(conflicted) > 0 {
		return &wcerr.FileConflict{Names: conflicted}
	}

	rec := txn.NewCommit("")
	rec.Added = added
	rec.Deleted = deleted
	rec.Modified = candidates

	if err := os.MkdirAll(pr.layout.TransactionDir(), 0755); err != nil {
		return err
	}
	if err := rec.Save(pr.layout.TransactionStateFile()); err != nil {
		return err
	}

	return pr.runCommit(rec, opts)
}

// runCommit drives a commit record's package-level work lists, whether
// freshly created or resumed after a crash. As with runUpdate, every
// step is safe to repeat and each nested package Commit is independently
// crash-recoverable, so COMMITTING is entered unconditionally with no
// further phase split underneath it.
func (pr *Project) runCommit(rec *txn.Record, opts CommitOptions) error {
	listener := listenerOrNop(opts.Listener)

	if rec.CommitPhase == wcstate.CommitTransfer {
		listener.Transfer()
		rec.CommitPhase = wcstate.CommitCommitting
		if err := rec.Save(pr.layout.TransactionStateFile()); err != nil {
			return err
		}
	}

	for _, name := range rec.Deleted {
		if rec.IsProcessed(name) {
			continue
		}
		if err := pr.client.DeletePackage(pr.project, name); err != nil {
			return err
		}
		pathErr := os.RemoveAll(pr.packagePath(name))
		externalErr := os.RemoveAll(pr.packageExternalDir(name))
		if err := errors.Compose(pathErr, externalErr); err != nil {
			return err
		}
		if err := pr.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}
	for _, name := range rec.Added {
		if rec.IsProcessed(name) {
			continue
		}
		if err := pr.client.PutMeta(pr.project, name, []byte{}); err != nil {
			return err
		}
		pkg, err := wc.Open(pr.packagePath(name), pr.client)
		if err != nil {
			return err
		}
		err = pkg.Commit(wc.CommitOptions{Listener: opts.packageListener(name)})
		pkg.Close()
		if err != nil {
			return err
		}
		if err := pr.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}
	for _, name := range rec.Modified {
		if rec.IsProcessed(name) {
			continue
		}
		pkg, err := wc.Open(pr.packagePath(name), pr.client)
		if err != nil {
			return err
		}
		err = pkg.Commit(wc.CommitOptions{Listener: opts.packageListener(name)})
		pkg.Close()
		if err != nil {
			return err
		}
		if err := pr.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}

	newStates := make(map[string]wcstate.EntryState)
	for _, e := range pr.pt.Iter() {
		if contains(rec.Deleted, e.Name) {
			continue
		}
		if contains(rec.Added, e.Name) || contains(rec.Modified, e.Name) {
			newStates[e.Name] = wcstate.Normal
			continue
		}
		newStates[e.Name] = e.State
	}

	if err := pr.pt.Merge(newStates); err != nil {
		return err
	}
	if err := os.RemoveAll(pr.layout.TransactionDir()); err != nil {
		return err
	}
	pr.log.Println("commit: finished for", pr.project)
	listener.Finished()
	return nil
}
