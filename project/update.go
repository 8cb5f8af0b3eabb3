package project

import (
	"os"

	"github.com/NebulousLabs/errors"

	"github.com/buildservice-client/osc/notify"
	"github.com/buildservice-client/osc/txn"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcfs"
	"github.com/buildservice-client/osc/wcstate"
)

// UpdateOptions configures Update.
type UpdateOptions struct {
	Listener notify.TransactionListener

	// PackageListener, if set, is called once per package name to produce
	// the listener passed to that package's own nested Update.
	PackageListener func(name string) notify.TransactionListener
}

func (o UpdateOptions) packageListener(name string) notify.TransactionListener {
	if o.PackageListener == nil {
		return nil
	}
	return o.PackageListener(name)
}

// Update runs the project-level update executor (spec §4.10): it fetches
// the project's current package list, classifies it against the locally
// tracked package set, and materializes/removes/recurses into each
// affected package under the project's lock.
func (pr *Project) Update(opts UpdateOptions) error {
	return pr.lock.With(func() error {
		return pr.update(opts)
	})
}

func listenerOrNop(l notify.TransactionListener) notify.TransactionListener {
	if l == nil {
		return notify.NopListener{}
	}
	return l
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func (pr *Project) update(opts UpdateOptions) error {
	listener := listenerOrNop(opts.Listener)
	pr.log.Println("update: starting for", pr.project)

	if pr.layout.HasTransaction() {
		rec, err := txn.Load(pr.layout.TransactionStateFile())
		if err != nil {
			return err
		}
		if rec.Kind == wcstate.TxnUpdate {
			return pr.runUpdate(rec, opts)
		}
		if rec.CommitPhase == wcstate.CommitTransfer {
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

	remoteNames, err := pr.client.GetProjectManifest(pr.project)
	if err != nil {
		return err
	}
	remoteSet := make(map[string]bool, len(remoteNames))
	for _, n := range remoteNames {
		remoteSet[n] = true
	}

	entries := pr.pt.Iter()
	tracked := make(map[string]bool, len(entries))
	var deleted, candidates []string
	for _, e := range entries {
		tracked[e.Name] = true
		if remoteSet[e.Name] {
			candidates = append(candidates, e.Name)
		} else if e.State != wcstate.Added {
			deleted = append(deleted, e.Name)
		}
	}
	var added []string
	for name := range remoteSet {
		if !tracked[name] {
			added = append(added, name)
		}
	}

	var conflicted []string
	for _, name := range candidates {
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

	rec := txn.NewUpdate("")
	rec.Added = added
	rec.Deleted = deleted
	rec.Modified = candidates

	if err := os.MkdirAll(pr.layout.TransactionDir(), 0755); err != nil {
		return err
	}
	if err := rec.Save(pr.layout.TransactionStateFile()); err != nil {
		return err
	}

	return pr.runUpdate(rec, opts)
}

// runUpdate drives an update record's package-level work lists, whether
// freshly created or resumed after a crash. Every step below is safe to
// repeat: removing an already-removed directory is a no-op, and a
// package's own Update/Commit is independently crash-recoverable, so
// this single UPDATING phase (entered unconditionally) needs no further
// phase split of its own.
func (pr *Project) runUpdate(rec *txn.Record, opts UpdateOptions) error {
	listener := listenerOrNop(opts.Listener)

	if rec.UpdatePhase == wcstate.UpdatePrepare {
		listener.Transfer()
		rec.UpdatePhase = wcstate.UpdateUpdating
		if err := rec.Save(pr.layout.TransactionStateFile()); err != nil {
			return err
		}
	}

	for _, name := range rec.Deleted {
		if rec.IsProcessed(name) {
			continue
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
		pkg, err := wc.Init(pr.packagePath(name), wcfs.InitOptions{
			Project:     pr.project,
			Package:     name,
			APIURL:      pr.apiurl,
			ExternalDir: pr.packageExternalDir(name),
		}, pr.client)
		if err != nil {
			return err
		}
		err = pkg.Update(wc.UpdateOptions{Listener: opts.packageListener(name)})
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
		err = pkg.Update(wc.UpdateOptions{Listener: opts.packageListener(name)})
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
		if contains(rec.Modified, e.Name) {
			newStates[e.Name] = wcstate.Normal
			continue
		}
		newStates[e.Name] = e.State
	}
	for _, name := range rec.Added {
		newStates[name] = wcstate.Normal
	}

	if err := pr.pt.Merge(newStates); err != nil {
		return err
	}
	if err := os.RemoveAll(pr.layout.TransactionDir()); err != nil {
		return err
	}
	pr.log.Println("update: finished for", pr.project)
	listener.Finished()
	return nil
}

func (pr *Project) markProcessed(rec *txn.Record, name string, listener notify.TransactionListener) error {
	rec.MarkProcessed(name)
	if err := rec.Save(pr.layout.TransactionStateFile()); err != nil {
		return err
	}
	listener.Processed(name)
	return nil
}

// rollback discards a pending project transaction that has not yet
// committed the server-visible step (commitfilelist for a commit; there
// is no remote step at all for an update, so an update record is always
// rollbackable).
func (pr *Project) rollback() error {
	return os.RemoveAll(pr.layout.TransactionDir())
}
