// Package tracker implements the entry tracker (spec §4.2): the ordered
// set of {name, state, extra attributes} records that a working copy
// persists as XML, in two flavors — a file tracker for a package's
// _files and a package tracker for a project's _packages. Both share the
// same add/remove/set/find/iter/merge/write operations; only the merge
// rule and a couple of file-tracker-only queries differ.
package tracker

import (
	"encoding/xml"
	"fmt"
	"io/ioutil"

	"github.com/buildservice-client/osc/persist"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcstate"
)

// Entry is one tracked name: its state plus whatever attributes the wire
// format carries for it (md5, size, mtime for a file entry — nothing
// extra for a package entry).
type Entry struct {
	Name  string
	State wcstate.EntryState
	MD5   string
	Size  int64
	Mtime int64
}

// xmlEntry is Entry's on-disk shape. The state is stored as its single
// stored letter, never as a word, to match the traditional wire format.
type xmlEntry struct {
	XMLName xml.Name `xml:"entry"`
	Name    string   `xml:"name,attr"`
	State   string   `xml:"state,attr"`
	MD5     string   `xml:"md5,attr,omitempty"`
	Size    int64    `xml:"size,attr,omitempty"`
	Mtime   int64    `xml:"mtime,attr,omitempty"`
}

func (e Entry) toXML() xmlEntry {
	return xmlEntry{Name: e.Name, State: e.State.String(), MD5: e.MD5, Size: e.Size, Mtime: e.Mtime}
}

func fromXML(x xmlEntry) (Entry, error) {
	st, err := wcstate.ParseEntryState(x.State[0])
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: x.Name, State: st, MD5: x.MD5, Size: x.Size, Mtime: x.Mtime}, nil
}

// linkinfoXML carries through the linkinfo element of a package's _files
// manifest so IsLink/LinkInfo can surface it without the tracker needing
// to understand link semantics itself (spec's supplemented linkinfo
// surfacing).
type linkinfoXML struct {
	XMLName  xml.Name `xml:"linkinfo"`
	Project  string   `xml:"project,attr"`
	Package  string   `xml:"package,attr"`
	SrcMD5   string   `xml:"srcmd5,attr"`
	BaseRev  string   `xml:"baserev,attr,omitempty"`
	XSrcMD5  string   `xml:"xsrcmd5,attr,omitempty"`
	Lsrcmd5  string   `xml:"lsrcmd5,attr,omitempty"`
}

type filesXML struct {
	XMLName  xml.Name      `xml:"directory"`
	Rev      string        `xml:"rev,attr,omitempty"`
	SrcMD5   string        `xml:"srcmd5,attr,omitempty"`
	Entries  []xmlEntry    `xml:"entry"`
	Linkinfo []linkinfoXML `xml:"linkinfo"`
}

type packagesXML struct {
	XMLName xml.Name   `xml:"packages"`
	Entries []xmlEntry `xml:"package"`
}

// FileTracker is the package-level tracker backing a WC's _files file.
type FileTracker struct {
	path    string
	entries []Entry
	rev     string
	srcmd5  string
	link    *linkinfoXML
}

// PackageTracker is the project-level tracker backing a WC's _packages
// file.
type PackageTracker struct {
	path    string
	entries []Entry
}

// OpenFileTracker reads the _files document at path.
func OpenFileTracker(path string) (*FileTracker, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, &wcerr.InconsistentWC{Path: path, Reason: err.Error()}
	}
	var doc filesXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &wcerr.InconsistentWC{Path: path, Reason: "manifest is not well-formed XML: " + err.Error()}
	}
	entries := make([]Entry, 0, len(doc.Entries))
	for _, x := range doc.Entries {
		e, err := fromXML(x)
		if err != nil {
			return nil, &wcerr.InconsistentWC{Path: path, Reason: err.Error()}
		}
		entries = append(entries, e)
	}
	ft := &FileTracker{path: path, entries: entries, rev: doc.Rev, srcmd5: doc.SrcMD5}
	if len(doc.Linkinfo) > 0 {
		li := doc.Linkinfo[0]
		ft.link = &li
	}
	return ft, nil
}

// OpenPackageTracker reads the _packages document at path.
func OpenPackageTracker(path string) (*PackageTracker, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, &wcerr.InconsistentWC{Path: path, Reason: err.Error()}
	}
	var doc packagesXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &wcerr.InconsistentWC{Path: path, Reason: "manifest is not well-formed XML: " + err.Error()}
	}
	entries := make([]Entry, 0, len(doc.Entries))
	for _, x := range doc.Entries {
		e, err := fromXML(x)
		if err != nil {
			return nil, &wcerr.InconsistentWC{Path: path, Reason: err.Error()}
		}
		entries = append(entries, e)
	}
	return &PackageTracker{path: path, entries: entries}, nil
}

func indexOf(entries []Entry, name string) int {
	for i, e := range entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Add tracks a new name in the given state. It is a ValueError if name is
// already tracked.
func (t *FileTracker) Add(name string, state wcstate.EntryState) error {
	if indexOf(t.entries, name) >= 0 {
		return &wcerr.ValueError{Op: "tracker.add", Reason: fmt.Sprintf("entry %q already exists", name)}
	}
	t.entries = append(t.entries, Entry{Name: name, State: state})
	return nil
}

// Remove untracks name. It is a ValueError if name is not tracked.
func (t *FileTracker) Remove(name string) error {
	i := indexOf(t.entries, name)
	if i < 0 {
		return &wcerr.ValueError{Op: "tracker.remove", Reason: fmt.Sprintf("entry %q does not exist", name)}
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return nil
}

// Set changes name's state. It is a ValueError if name is not tracked.
func (t *FileTracker) Set(name string, state wcstate.EntryState) error {
	i := indexOf(t.entries, name)
	if i < 0 {
		return &wcerr.ValueError{Op: "tracker.set", Reason: fmt.Sprintf("entry %q does not exist", name)}
	}
	t.entries[i].State = state
	return nil
}

// Find returns the entry for name, or nil if it is not tracked. The
// returned Entry is a copy; mutating it has no effect on the tracker.
func (t *FileTracker) Find(name string) *Entry {
	i := indexOf(t.entries, name)
	if i < 0 {
		return nil
	}
	e := t.entries[i]
	return &e
}

// Iter returns a snapshot slice of every tracked entry, in tracker order.
func (t *FileTracker) Iter() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// RevisionData returns the {rev, srcmd5} pair attached to the manifest
// root.
func (t *FileTracker) RevisionData() (rev, srcmd5 string) { return t.rev, t.srcmd5 }

// IsLink reports whether the package is a source link.
func (t *FileTracker) IsLink() bool { return t.link != nil }

// LinkInfo returns the link target, or ok=false if the package is not a
// link.
func (t *FileTracker) LinkInfo() (project, pkg, srcmd5 string, ok bool) {
	if t.link == nil {
		return "", "", "", false
	}
	return t.link.Project, t.link.Package, t.link.SrcMD5, true
}

// Merge replaces the tracker's contents with newEntries (the freshly
// fetched remote filelist) stamped with newStates, except that locally
// added names (state A) are preserved verbatim. Every name in newStates
// other than those in state A must appear in newEntries, and vice versa;
// a mismatch is a hard error.
func (t *FileTracker) Merge(newStates map[string]wcstate.EntryState, newEntries []Entry, rev, srcmd5 string) error {
	remoteNames := make(map[string]bool, len(newEntries))
	for _, e := range newEntries {
		remoteNames[e.Name] = true
	}
	nonAdded := make(map[string]bool)
	for name, st := range newStates {
		if st != wcstate.Added {
			nonAdded[name] = true
		}
	}
	if len(remoteNames) != len(nonAdded) {
		return &wcerr.ValueError{Op: "tracker.merge", Reason: "new_states and new_entries have different cardinality"}
	}
	for name := range remoteNames {
		if !nonAdded[name] {
			return &wcerr.ValueError{Op: "tracker.merge", Reason: fmt.Sprintf("entry %q present in manifest but not in new_states", name)}
		}
	}

	merged := make([]Entry, len(newEntries))
	copy(merged, newEntries)
	for i := range merged {
		if st, ok := newStates[merged[i].Name]; ok {
			merged[i].State = st
		}
	}
	for name, st := range newStates {
		if st == wcstate.Added {
			merged = append(merged, Entry{Name: name, State: wcstate.Added})
		}
	}
	t.entries = merged
	t.rev = rev
	t.srcmd5 = srcmd5
	return nil
}

// Write persists the tracker to its backing file via temp+rename.
func (t *FileTracker) Write() error {
	doc := filesXML{Rev: t.rev, SrcMD5: t.srcmd5}
	for _, e := range t.entries {
		doc.Entries = append(doc.Entries, e.toXML())
	}
	if t.link != nil {
		doc.Linkinfo = []linkinfoXML{*t.link}
	}
	raw, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	sf, err := persist.NewSafeFile(t.path)
	if err != nil {
		return err
	}
	defer sf.Close()
	if _, err := sf.Write(raw); err != nil {
		return err
	}
	if _, err := sf.Write([]byte("\n")); err != nil {
		return err
	}
	return sf.CommitSync()
}

// --- PackageTracker: identical shape, no revision/link metadata. ---

// Add tracks a new package name in the given state.
func (t *PackageTracker) Add(name string, state wcstate.EntryState) error {
	if indexOf(t.entries, name) >= 0 {
		return &wcerr.ValueError{Op: "tracker.add", Reason: fmt.Sprintf("entry %q already exists", name)}
	}
	t.entries = append(t.entries, Entry{Name: name, State: state})
	return nil
}

// Remove untracks a package name.
func (t *PackageTracker) Remove(name string) error {
	i := indexOf(t.entries, name)
	if i < 0 {
		return &wcerr.ValueError{Op: "tracker.remove", Reason: fmt.Sprintf("entry %q does not exist", name)}
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return nil
}

// Set changes a package name's state.
func (t *PackageTracker) Set(name string, state wcstate.EntryState) error {
	i := indexOf(t.entries, name)
	if i < 0 {
		return &wcerr.ValueError{Op: "tracker.set", Reason: fmt.Sprintf("entry %q does not exist", name)}
	}
	t.entries[i].State = state
	return nil
}

// Find returns a copy of the entry for name, or nil.
func (t *PackageTracker) Find(name string) *Entry {
	i := indexOf(t.entries, name)
	if i < 0 {
		return nil
	}
	e := t.entries[i]
	return &e
}

// Iter returns a snapshot slice of every tracked package, in order.
func (t *PackageTracker) Iter() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Merge sets every name in newStates to its given state, adding it if
// necessary, and drops any tracked name absent from newStates.
func (t *PackageTracker) Merge(newStates map[string]wcstate.EntryState) error {
	for name, st := range newStates {
		if t.Find(name) == nil {
			if err := t.Add(name, st); err != nil {
				return err
			}
		} else if err := t.Set(name, st); err != nil {
			return err
		}
	}
	kept := t.entries[:0:0]
	for _, e := range t.entries {
		if _, ok := newStates[e.Name]; ok {
			kept = append(kept, e)
		}
	}
	t.entries = kept
	return t.Write()
}

// Write persists the tracker to its backing file via temp+rename.
func (t *PackageTracker) Write() error {
	doc := packagesXML{}
	for _, e := range t.entries {
		doc.Entries = append(doc.Entries, e.toXML())
	}
	raw, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	sf, err := persist.NewSafeFile(t.path)
	if err != nil {
		return err
	}
	defer sf.Close()
	if _, err := sf.Write(raw); err != nil {
		return err
	}
	if _, err := sf.Write([]byte("\n")); err != nil {
		return err
	}
	return sf.CommitSync()
}
