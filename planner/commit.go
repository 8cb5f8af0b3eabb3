package planner

import (
	"fmt"

	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcstate"
)

// CommitPlan is the bucketed classification produced by PlanCommit.
type CommitPlan struct {
	Unchanged  []string
	Added      []string
	Deleted    []string
	Modified   []string
	Conflicted []string
}

// FileCommitPolicy may move names between the Unchanged and Deleted
// buckets after the initial classification, never into Added/Modified/
// Conflicted.
type FileCommitPolicy interface {
	Apply(plan *CommitPlan) (toUnchanged, toDeleted []string)
}

// DerivedStatus reports a tracked name's displayed status, as produced by
// package status (Unknown/Missing/Conflicted are the three the commit
// planner must reject).
type DerivedStatus func(name string) wcstate.EntryState

// PlanCommit classifies the tracked names in commitSet (or, if commitSet
// is nil, every tracked name) for a commit (spec §4.6).
func PlanCommit(tracked []LocalEntry, commitSet map[string]bool, derived DerivedStatus, policies []FileCommitPolicy) (*CommitPlan, error) {
	plan := &CommitPlan{}
	inSet := func(name string) bool {
		return commitSet == nil || commitSet[name]
	}

	var conflicted []string
	for _, e := range tracked {
		if !inSet(e.Name) {
			continue
		}
		switch derived(e.Name) {
		case wcstate.Unknown, wcstate.Missing, wcstate.Conflicted:
			conflicted = append(conflicted, e.Name)
		}
	}
	if len(conflicted) > 0 {
		return nil, &wcerr.FileConflict{Names: conflicted}
	}

	for _, e := range tracked {
		if !inSet(e.Name) {
			if e.State == wcstate.Added {
				continue // silently excluded
			}
			plan.Unchanged = append(plan.Unchanged, e.Name)
			continue
		}
		switch e.State {
		case wcstate.Added:
			plan.Added = append(plan.Added, e.Name)
		case wcstate.Deleted:
			plan.Deleted = append(plan.Deleted, e.Name)
		case wcstate.Modified:
			plan.Modified = append(plan.Modified, e.Name)
		case wcstate.Normal:
			plan.Unchanged = append(plan.Unchanged, e.Name)
		}
	}

	for _, p := range policies {
		if err := applyCommitPolicy(plan, p); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func commitBucketOf(plan *CommitPlan, name string) (*[]string, bool) {
	for _, b := range []*[]string{&plan.Unchanged, &plan.Added, &plan.Deleted, &plan.Modified, &plan.Conflicted} {
		if contains(*b, name) {
			return b, true
		}
	}
	return nil, false
}

func applyCommitPolicy(plan *CommitPlan, p FileCommitPolicy) error {
	toUnchanged, toDeleted := p.Apply(plan)

	var untracked []string
	for _, name := range append(append([]string{}, toUnchanged...), toDeleted...) {
		if _, ok := commitBucketOf(plan, name); !ok {
			untracked = append(untracked, name)
		}
	}
	if len(untracked) > 0 {
		return &wcerr.ValueError{Op: "planner.commit_policy", Reason: fmt.Sprintf("policy named untracked entries: %v", untracked)}
	}

	moved := make(map[string]bool, len(toUnchanged)+len(toDeleted))
	for _, name := range toUnchanged {
		moved[name] = true
	}
	for _, name := range toDeleted {
		if moved[name] {
			return &wcerr.ValueError{Op: "planner.commit_policy", Reason: fmt.Sprintf("entry %q moved into both unchanged and deleted", name)}
		}
	}

	for _, name := range toUnchanged {
		if b, ok := commitBucketOf(plan, name); ok {
			*b = remove(*b, name)
		}
		plan.Unchanged = append(plan.Unchanged, name)
	}
	for _, name := range toDeleted {
		if b, ok := commitBucketOf(plan, name); ok {
			*b = remove(*b, name)
		}
		plan.Deleted = append(plan.Deleted, name)
	}
	return nil
}
