package wc

import (
	"os"

	"github.com/buildservice-client/osc/merge"
	"github.com/buildservice-client/osc/notify"
	"github.com/buildservice-client/osc/planner"
	"github.com/buildservice-client/osc/status"
	"github.com/buildservice-client/osc/tracker"
	"github.com/buildservice-client/osc/txn"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcstate"
)

// UpdateOptions configures Update (spec's "builder-style option bags"
// note: an explicit options struct per entry point rather than a long
// parameter list).
type UpdateOptions struct {
	// Revision pins the update to a specific server revision/srcmd5;
	// empty means the latest.
	Revision string
	Expand   bool

	SkipHandlers []planner.FileSkipHandler
	Listener     notify.TransactionListener
}

// Update runs the update executor (spec §4.8) under the WC lock: fetches
// the target manifest, classifies it against the local tracker, and
// brings the working copy's files and tracker state in line with it.
func (p *Package) Update(opts UpdateOptions) error {
	return p.lock.With(func() error {
		return p.update(opts)
	})
}

func listenerOrNop(l notify.TransactionListener) notify.TransactionListener {
	if l == nil {
		return notify.NopListener{}
	}
	return l
}

func (p *Package) update(opts UpdateOptions) error {
	listener := listenerOrNop(opts.Listener)
	p.log.Println("update: starting for", p.pkgName)

	if p.layout.HasTransaction() {
		rec, err := txn.Load(p.layout.TransactionStateFile())
		if err != nil {
			return err
		}
		if rec.Kind == wcstate.TxnUpdate {
			return p.runUpdate(rec, listener)
		}
		if rec.CommitPhase == wcstate.CommitTransfer {
			if err := p.rollbackCommit(rec); err != nil {
				return err
			}
		} else {
			return &wcerr.PendingTransaction{Path: p.layout.TransactionStateFile(), Kind: rec.Kind.String()}
		}
	}

	var conflicted []string
	for _, e := range p.ft.Iter() {
		if e.State == wcstate.Conflicted {
			conflicted = append(conflicted, e.Name)
		}
	}
	if len(conflicted) > 0 {
		return &wcerr.FileConflict{Names: conflicted}
	}

	if err := listener.Begin(); err != nil {
		return err
	}

	pm, err := p.client.GetPackageManifest(p.project, p.pkgName, opts.Revision, opts.Expand)
	if err != nil {
		return err
	}

	remoteEntries := make([]planner.RemoteEntry, len(pm.Entries))
	for i, e := range pm.Entries {
		remoteEntries[i] = planner.RemoteEntry{Name: e.Name, MD5: e.MD5, Size: e.Size, Mtime: e.Mtime}
	}
	var localEntries []planner.LocalEntry
	for _, e := range p.ft.Iter() {
		localEntries = append(localEntries, planner.LocalEntry{Name: e.Name, State: e.State, MD5: e.MD5})
	}
	localExists := func(name string) bool { return fileExists(p.workPath(name)) }

	plan, err := planner.PlanUpdate(remoteEntries, localEntries, localExists, opts.SkipHandlers)
	if err != nil {
		return err
	}

	rec := txn.NewUpdate(pm.Rev)
	rec.SrcMD5 = pm.SrcMD5
	rec.Unchanged = plan.Unchanged
	rec.Added = plan.Added
	rec.Deleted = plan.Deleted
	rec.Modified = plan.Modified
	rec.Conflicted = plan.Conflicted
	rec.Skipped = plan.Skipped
	for _, re := range plan.Remote {
		rec.Remote = append(rec.Remote, txn.RemoteEntry{Name: re.Name, MD5: re.MD5, Size: re.Size, Mtime: re.Mtime})
	}

	if err := os.MkdirAll(p.layout.TransactionDataDir(), 0755); err != nil {
		return err
	}
	if err := rec.Save(p.layout.TransactionStateFile()); err != nil {
		return err
	}

	return p.runUpdate(rec, listener)
}

// runUpdate drives the PREPARE/UPDATING phases of an update record,
// whether freshly created or resumed after a crash.
func (p *Package) runUpdate(rec *txn.Record, listener notify.TransactionListener) error {
	if rec.UpdatePhase == wcstate.UpdatePrepare {
		for _, name := range append(append([]string{}, rec.Added...), rec.Modified...) {
			data, err := p.client.GetFile(p.project, p.pkgName, name, rec.SrcMD5)
			if err != nil {
				return err
			}
			if err := writeFile(p.layout.TransactionDataPath(name), data); err != nil {
				return err
			}
		}
		listener.Transfer()
		rec.UpdatePhase = wcstate.UpdateUpdating
		if err := rec.Save(p.layout.TransactionStateFile()); err != nil {
			return err
		}
	}

	for _, name := range rec.Modified {
		if rec.IsProcessed(name) {
			continue
		}
		finalState, err := p.applyModified(name, rec)
		if err != nil {
			return err
		}
		rec.SetEntryState(name, finalState)
		if err := p.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}
	for _, name := range rec.Added {
		if rec.IsProcessed(name) {
			continue
		}
		staged := p.layout.TransactionDataPath(name)
		if err := copyFile(staged, p.workPath(name)); err != nil {
			return err
		}
		if err := moveFile(staged, p.layout.DataPath(name)); err != nil {
			return err
		}
		rec.SetEntryState(name, wcstate.Normal)
		if err := p.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}
	for _, name := range rec.Deleted {
		if rec.IsProcessed(name) {
			continue
		}
		if hashMatchesPristine(p.workPath(name), p.layout.DataPath(name)) {
			os.Remove(p.workPath(name))
		}
		os.Remove(p.layout.DataPath(name))
		if err := p.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}
	for _, name := range rec.Skipped {
		if rec.IsProcessed(name) {
			continue
		}
		if hashMatchesPristine(p.workPath(name), p.layout.DataPath(name)) {
			os.Remove(p.workPath(name))
		}
		os.Remove(p.layout.DataPath(name))
		rec.SetEntryState(name, wcstate.Skipped)
		if err := p.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}
	for _, name := range rec.Conflicted {
		if rec.IsProcessed(name) {
			continue
		}
		rec.SetEntryState(name, wcstate.Conflicted)
		if err := p.markProcessed(rec, name, listener); err != nil {
			return err
		}
	}

	newStates := map[string]wcstate.EntryState{}
	for name, st := range rec.EntryStates {
		newStates[name] = st
	}
	for _, name := range rec.Unchanged {
		if _, ok := newStates[name]; ok {
			continue
		}
		if _, isRemote := remoteMap(rec)[name]; isRemote {
			newStates[name] = wcstate.Normal
		} else if e := p.ft.Find(name); e != nil {
			newStates[name] = e.State
		}
	}

	var newEntries []tracker.Entry
	for _, re := range rec.Remote {
		newEntries = append(newEntries, tracker.Entry{Name: re.Name, MD5: re.MD5, Size: re.Size, Mtime: re.Mtime})
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
	p.log.Println("update: finished for", p.pkgName, "at revision", rec.Revision)
	listener.Finished()
	return nil
}

func (p *Package) markProcessed(rec *txn.Record, name string, listener notify.TransactionListener) error {
	rec.MarkProcessed(name)
	if err := rec.Save(p.layout.TransactionStateFile()); err != nil {
		return err
	}
	listener.Processed(name)
	return nil
}

func remoteMap(rec *txn.Record) map[string]txn.RemoteEntry {
	m := make(map[string]txn.RemoteEntry, len(rec.Remote))
	for _, re := range rec.Remote {
		m[re.Name] = re
	}
	return m
}

// applyModified merges a remote-changed file into the working copy
// (spec §4.8 step 3's "modified" bullet) and reports the tracker state
// the name should end up in: Normal on a clean merge, Conflicted if
// conflict markers (or a binary mismatch) were written instead or the
// merge itself failed (the failure is logged as a wcerr.MergeFailure).
func (p *Package) applyModified(name string, rec *txn.Record) (wcstate.EntryState, error) {
	workPath := p.workPath(name)
	pristinePath := p.layout.DataPath(name)
	stagedPath := p.layout.TransactionDataPath(name)

	myPath := pristinePath
	minePath := workPath + ".mine"
	if fileExists(workPath) {
		if err := copyFile(workPath, minePath); err != nil {
			return wcstate.Conflicted, err
		}
		myPath = minePath
	}

	outcome := merge.Merge(myPath, pristinePath, stagedPath, workPath)
	if outcome.Err != nil {
		p.log.Println("update:", &wcerr.MergeFailure{Name: name, Reason: outcome.Err.Error()})
	}

	finalState := wcstate.Normal
	switch outcome.Result {
	case wcstate.MergeSuccess:
		os.Remove(minePath)
	default:
		finalState = wcstate.Conflicted
		pointerPath := workPath + ".rev" + rec.SrcMD5
		if err := copyFile(stagedPath, pointerPath); err != nil {
			return wcstate.Conflicted, err
		}
	}

	if err := moveFile(stagedPath, pristinePath); err != nil {
		return wcstate.Conflicted, err
	}
	return finalState, nil
}

func hashMatchesPristine(workPath, pristinePath string) bool {
	if !fileExists(workPath) {
		return false
	}
	wh, err := status.HashFile(workPath)
	if err != nil {
		return false
	}
	ph, err := status.HashFile(pristinePath)
	if err != nil {
		return false
	}
	return wh == ph
}
