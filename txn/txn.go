// Package txn implements the transaction record (spec §4.3 data model,
// §4.8/§4.9 state machines): a WAL-style idempotent record persisted to
// <ctrl>/_transaction/state that lets an update or commit resume exactly
// where a crash interrupted it. Grounded on
// modules/host/contractmanager/writeaheadlog.go's stateChange/
// stateChangePrefix shape: a checksum guards the record's work-lists the
// same way stateChangePrefix.Checksum guards a WAL entry, using
// crypto.HashBytes over the record's JSON encoding instead of the WAL's
// length-prefixed binary framing since this record is small and written
// whole, not appended to.
package txn

import (
	"encoding/json"

	"github.com/buildservice-client/osc/crypto"
	"github.com/buildservice-client/osc/persist"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcstate"
)

const recordHeader = "Transaction Record"
const recordVersion = "1.0"

// RemoteEntry snapshots one server-reported file's metadata at the time
// the transaction began, so the executor can resume without re-fetching
// the manifest.
type RemoteEntry struct {
	Name  string
	MD5   string
	Size  int64
	Mtime int64
}

// Record is the persisted transaction state. Exactly one of UpdatePhase/
// CommitPhase is meaningful, selected by Kind.
type Record struct {
	Kind wcstate.TxnKind

	UpdatePhase wcstate.UpdatePhase
	CommitPhase wcstate.CommitPhase

	// Revision/SrcMD5 identify the server-side state this transaction
	// targets: the requested revision for an update, the srcmd5 the
	// tracker was at when a commit's preflight ran. For a commit record,
	// both are overwritten with the accepted revision once the server
	// acknowledges the filelist.
	Revision string
	SrcMD5   string

	// Comment is the commit message a commit transaction was opened
	// with. It is unused by update records.
	Comment string

	Unchanged  []string
	Added      []string
	Deleted    []string
	Modified   []string
	Conflicted []string
	Skipped    []string

	// EntryStates is the per-name post-transaction tracker state,
	// accumulated as each name is processed, so tracker.Merge can be
	// called with a complete map once the transaction finishes.
	EntryStates map[string]wcstate.EntryState

	// Processed marks names whose on-disk effect (download, merge,
	// upload) has already completed, making step 3/4 of the update and
	// commit executors safe to re-run after a crash.
	Processed map[string]bool

	// Remote is the manifest snapshot the transaction was computed
	// against.
	Remote []RemoteEntry

	// checksum guards Unchanged..Remote against partial writes; it is
	// computed by Save and verified by Load, independent of persist's
	// own checksum, so a Record loaded out of context (e.g. by a repair
	// tool) can still be validated on its own terms.
	checksum crypto.Hash
}

// recordBody is the checksummed, versioned document written to disk.
// Record's unexported checksum field is never marshaled directly; it is
// recomputed from the body instead.
type recordBody struct {
	Kind        wcstate.TxnKind
	UpdatePhase wcstate.UpdatePhase
	CommitPhase wcstate.CommitPhase
	Revision    string
	SrcMD5      string
	Comment     string
	Unchanged   []string
	Added       []string
	Deleted     []string
	Modified    []string
	Conflicted  []string
	Skipped     []string
	EntryStates map[string]wcstate.EntryState
	Processed   map[string]bool
	Remote      []RemoteEntry
	Checksum    crypto.Hash
}

func (r *Record) body() recordBody {
	return recordBody{
		Kind:        r.Kind,
		UpdatePhase: r.UpdatePhase,
		CommitPhase: r.CommitPhase,
		Revision:    r.Revision,
		SrcMD5:      r.SrcMD5,
		Comment:     r.Comment,
		Unchanged:   r.Unchanged,
		Added:       r.Added,
		Deleted:     r.Deleted,
		Modified:    r.Modified,
		Conflicted:  r.Conflicted,
		Skipped:     r.Skipped,
		EntryStates: r.EntryStates,
		Processed:   r.Processed,
		Remote:      r.Remote,
	}
}

// checksumOf hashes the record body's JSON encoding with blake2b (via
// crypto.HashBytes). The work-lists and Remote carry []RemoteEntry/
// map[string]bool/map[string]EntryState, which encoding.Marshal's binary
// codec cannot represent (it panics on map kinds); JSON already gives a
// deterministic encoding (Go sorts map keys when marshaling), so it is
// used here as the checksum's input instead.
func checksumOf(b recordBody) crypto.Hash {
	b.Checksum = crypto.Hash{}
	data, err := json.Marshal(b)
	if err != nil {
		panic("txn: record body must always be JSON-encodable: " + err.Error())
	}
	return crypto.HashBytes(data)
}

// NewUpdate creates a fresh update transaction record in the PREPARE
// phase.
func NewUpdate(revision string) *Record {
	return &Record{
		Kind:        wcstate.TxnUpdate,
		UpdatePhase: wcstate.UpdatePrepare,
		Revision:    revision,
		EntryStates: make(map[string]wcstate.EntryState),
		Processed:   make(map[string]bool),
	}
}

// NewCommit creates a fresh commit transaction record in the TRANSFER
// phase.
func NewCommit(srcmd5 string) *Record {
	return &Record{
		Kind:        wcstate.TxnCommit,
		CommitPhase: wcstate.CommitTransfer,
		SrcMD5:      srcmd5,
		EntryStates: make(map[string]wcstate.EntryState),
		Processed:   make(map[string]bool),
	}
}

// WithComment sets the commit message on a freshly created commit
// record.
func (r *Record) WithComment(comment string) *Record {
	r.Comment = comment
	return r
}

// MarkProcessed records that name's on-disk effect has been applied.
func (r *Record) MarkProcessed(name string) {
	if r.Processed == nil {
		r.Processed = make(map[string]bool)
	}
	r.Processed[name] = true
}

// IsProcessed reports whether name has already been applied.
func (r *Record) IsProcessed(name string) bool {
	return r.Processed[name]
}

// SetEntryState records name's post-transaction tracker state.
func (r *Record) SetEntryState(name string, state wcstate.EntryState) {
	if r.EntryStates == nil {
		r.EntryStates = make(map[string]wcstate.EntryState)
	}
	r.EntryStates[name] = state
}

// Save persists the record via temp+rename+fsync (path is normally
// wcfs.Layout.TransactionStateFile()).
func (r *Record) Save(path string) error {
	b := r.body()
	b.Checksum = checksumOf(b)
	r.checksum = b.Checksum
	return persist.SaveFileSync(persist.Metadata{Header: recordHeader, Version: recordVersion}, b, path)
}

// Load reads back a record previously written by Save, rejecting it if
// its checksum does not match its content.
func Load(path string) (*Record, error) {
	var b recordBody
	if err := persist.LoadJSON(persist.Metadata{Header: recordHeader, Version: recordVersion}, &b, path); err != nil {
		return nil, err
	}
	want := b.Checksum
	if checksumOf(b) != want {
		return nil, &wcerr.InconsistentWC{Path: path, Reason: "transaction record checksum mismatch"}
	}
	r := &Record{
		Kind:        b.Kind,
		UpdatePhase: b.UpdatePhase,
		CommitPhase: b.CommitPhase,
		Revision:    b.Revision,
		SrcMD5:      b.SrcMD5,
		Comment:     b.Comment,
		Unchanged:   b.Unchanged,
		Added:       b.Added,
		Deleted:     b.Deleted,
		Modified:    b.Modified,
		Conflicted:  b.Conflicted,
		Skipped:     b.Skipped,
		EntryStates: b.EntryStates,
		Processed:   b.Processed,
		Remote:      b.Remote,
		checksum:    want,
	}
	if r.EntryStates == nil {
		r.EntryStates = make(map[string]wcstate.EntryState)
	}
	if r.Processed == nil {
		r.Processed = make(map[string]bool)
	}
	return r, nil
}
