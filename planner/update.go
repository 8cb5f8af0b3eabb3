// Package planner implements the update and commit classification
// algorithms (spec §4.5/§4.6): pure functions from a manifest/tracker
// snapshot to a bucketed plan, with no I/O and no network calls of their
// own. A plan is reviewed and acted on by package wc's executors.
package planner

import (
	"fmt"

	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcstate"
)

// RemoteEntry is one entry from a fetched remote manifest.
type RemoteEntry struct {
	Name  string
	MD5   string
	Size  int64
	Mtime int64
}

// LocalEntry is the minimal local tracker view the planner needs.
type LocalEntry struct {
	Name  string
	State wcstate.EntryState
	MD5   string
}

// UpdatePlan is the bucketed classification produced by PlanUpdate.
type UpdatePlan struct {
	Unchanged  []string
	Added      []string
	Deleted    []string
	Modified   []string
	Conflicted []string
	Skipped    []string

	// Remote carries the fetched manifest entry for every name this plan
	// mentions except those purely local (deleted, unchanged-because-
	// locally-added).
	Remote map[string]RemoteEntry
}

// clone returns a deep copy of p so a FileSkipHandler can inspect and
// mutate it without affecting the planner's own bookkeeping.
func (p *UpdatePlan) clone() *UpdatePlan {
	cp := &UpdatePlan{
		Unchanged:  append([]string(nil), p.Unchanged...),
		Added:      append([]string(nil), p.Added...),
		Deleted:    append([]string(nil), p.Deleted...),
		Modified:   append([]string(nil), p.Modified...),
		Conflicted: append([]string(nil), p.Conflicted...),
		Skipped:    append([]string(nil), p.Skipped...),
		Remote:     make(map[string]RemoteEntry, len(p.Remote)),
	}
	for k, v := range p.Remote {
		cp.Remote[k] = v
	}
	return cp
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func remove(list []string, name string) []string {
	out := list[:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// FileSkipHandler lets a caller skip (or unskip) names on update. Skip
// implementations are handed a deep copy of the plan so far, per the
// spec's "deep copy before handler" rule, and must return disjoint
// skip/unskip name lists.
type FileSkipHandler interface {
	Skip(plan *UpdatePlan) (skip, unskip []string)
}

// PlanUpdate classifies a freshly fetched remote manifest against the
// current local tracker state (spec §4.5).
func PlanUpdate(remote []RemoteEntry, local []LocalEntry, localExists func(name string) bool, handlers []FileSkipHandler) (*UpdatePlan, error) {
	plan := &UpdatePlan{Remote: make(map[string]RemoteEntry)}

	localByName := make(map[string]LocalEntry, len(local))
	for _, l := range local {
		localByName[l.Name] = l
	}
	remoteNames := make(map[string]bool, len(remote))

	for _, r := range remote {
		remoteNames[r.Name] = true
		plan.Remote[r.Name] = r
		l, tracked := localByName[r.Name]
		switch {
		case !tracked && !localExists(r.Name):
			plan.Added = append(plan.Added, r.Name)
		case !tracked && localExists(r.Name):
			plan.Conflicted = append(plan.Conflicted, r.Name)
		case l.State == wcstate.Added:
			plan.Conflicted = append(plan.Conflicted, r.Name)
		case l.State == wcstate.Skipped:
			plan.Skipped = append(plan.Skipped, r.Name)
		case l.MD5 == r.MD5:
			plan.Unchanged = append(plan.Unchanged, r.Name)
		default:
			plan.Modified = append(plan.Modified, r.Name)
		}
	}

	for _, l := range local {
		if remoteNames[l.Name] {
			continue
		}
		if l.State == wcstate.Added {
			plan.Unchanged = append(plan.Unchanged, l.Name)
		} else {
			plan.Deleted = append(plan.Deleted, l.Name)
		}
	}

	for _, h := range handlers {
		if err := applySkipHandler(plan, h, localExists); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func bucketOf(plan *UpdatePlan, name string) (*[]string, bool) {
	for _, b := range []*[]string{&plan.Unchanged, &plan.Added, &plan.Deleted, &plan.Modified, &plan.Conflicted, &plan.Skipped} {
		if contains(*b, name) {
			return b, true
		}
	}
	return nil, false
}

func applySkipHandler(plan *UpdatePlan, h FileSkipHandler, localExists func(name string) bool) error {
	skip, unskip := h.Skip(plan.clone())

	var invalid []string
	for _, name := range skip {
		if _, ok := bucketOf(plan, name); !ok {
			invalid = append(invalid, name)
		}
	}
	for _, name := range unskip {
		if !contains(plan.Skipped, name) {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return &wcerr.ValueError{Op: "planner.skip", Reason: fmt.Sprintf("unknown skip/unskip names: %v", invalid)}
	}

	for _, name := range skip {
		if b, ok := bucketOf(plan, name); ok {
			*b = remove(*b, name)
		}
		plan.Skipped = append(plan.Skipped, name)
	}
	for _, name := range unskip {
		plan.Skipped = remove(plan.Skipped, name)
		if localExists(name) {
			plan.Conflicted = append(plan.Conflicted, name)
		} else {
			plan.Added = append(plan.Added, name)
		}
	}
	return nil
}
