// Package wcerr defines the closed error taxonomy surfaced by the working
// copy engine (spec §7). Every error a caller needs to branch on is a
// distinct Go type, never a bare string, so callers can use errors.As
// instead of matching on message text.
package wcerr

import "fmt"

// InconsistentWC is returned when a required control file is missing or
// corrupt at open time. A repair routine (see package wc's Repair) can
// reconstruct a minimal, consistent control directory from the server.
type InconsistentWC struct {
	Path   string
	Reason string
}

func (e *InconsistentWC) Error() string {
	return fmt.Sprintf("inconsistent working copy at %s: %s", e.Path, e.Reason)
}

// FormatVersion is returned when the on-disk _version file is outside the
// tolerance this implementation accepts.
type FormatVersion struct {
	Path     string
	OnDisk   string
	Expected string
}

func (e *FormatVersion) Error() string {
	return fmt.Sprintf("%s: format version %s is incompatible with expected %s", e.Path, e.OnDisk, e.Expected)
}

// FileConflict is returned when a package update or commit is attempted
// while tracked entries are in state C, and by a project update or commit
// when one of its packages holds such entries. An update that itself
// leaves entries in state C does not return it, and Add, Remove, Revert
// and Resolved do not check for conflicted entries.
type FileConflict struct {
	Names []string
}

func (e *FileConflict) Error() string {
	return fmt.Sprintf("conflicting entries: %v", e.Names)
}

// PendingTransaction is returned when a second transaction is attempted
// while an existing, non-rollbackable one is live.
type PendingTransaction struct {
	Path string
	Kind string
}

func (e *PendingTransaction) Error() string {
	return fmt.Sprintf("%s: a %s transaction is already in progress", e.Path, e.Kind)
}

// WCOutOfDate is returned when a commit is attempted while the server's
// srcmd5 no longer matches the tracker's recorded srcmd5.
type WCOutOfDate struct {
	Local  string
	Remote string
}

func (e *WCOutOfDate) Error() string {
	return fmt.Sprintf("working copy out of date: local revision %s, remote revision %s (update first)", e.Local, e.Remote)
}

// ValueError is returned for invalid operations attempted with no side
// effect: adding an already-tracked name, removing an untracked one,
// reverting an untracked one, etc.
type ValueError struct {
	Op     string
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// MergeFailure records that the three-way merge tool itself failed (as
// opposed to produced a conflict). The caller records the entry as
// conflicted and continues.
type MergeFailure struct {
	Name   string
	Reason string
}

func (e *MergeFailure) Error() string {
	return fmt.Sprintf("merge failed for %s: %s", e.Name, e.Reason)
}

// HTTPError wraps a failure from the remote collaborator. A transaction
// that fails with an HTTPError remains resumable: the persisted record is
// left behind for the next open to continue or roll back.
type HTTPError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }
