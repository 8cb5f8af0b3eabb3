// Package notify defines the small capability interfaces an update or
// commit transaction dispatches to (spec §9 "Dynamic dispatch of
// listeners, skip handlers, commit policies"): plain interfaces, no
// inheritance hierarchy, consulted by name at fixed points in the
// §4.8/§4.9 state machines.
package notify

// TransactionListener observes a single update or commit transaction.
// Begin may veto the transaction before any on-disk effect; the other
// methods are notifications only and cannot abort.
//
// Any of the four methods may be left as a no-op by embedding
// NopListener.
type TransactionListener interface {
	// Begin is called before the transaction record is created. A
	// non-nil error vetoes the transaction: no record is written, no
	// on-disk effect occurs.
	Begin() error

	// Transfer is called once the probe/download phase has produced a
	// concrete work list (spec §4.8 step 2 / §4.9 step 3), before any
	// file is written.
	Transfer()

	// Processed is called after each individual name's on-disk effect
	// has been applied.
	Processed(name string)

	// Finished is called once the transaction has fully committed and
	// its record has been removed.
	Finished()
}

// NopListener implements TransactionListener with all no-ops; embed it
// to implement only the methods a caller cares about.
type NopListener struct{}

func (NopListener) Begin() error     { return nil }
func (NopListener) Transfer()        {}
func (NopListener) Processed(string) {}
func (NopListener) Finished()        {}
