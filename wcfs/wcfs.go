// Package wcfs defines the on-disk control-directory layout shared by every
// working copy (spec §4.1): the fixed set of meta files, the manifest, the
// pristine cache, the lock file, and the scratch areas a live transaction or
// diff uses. It owns path construction only; callers (tracker, wclock,
// txn, wc, project) open and interpret the files themselves.
package wcfs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/buildservice-client/osc/persist"
	"github.com/buildservice-client/osc/wcerr"
)

// ControlDirName is the name of the control directory inside a WC's root,
// the local equivalent of a VCS's ".git".
const ControlDirName = ".osc"

// FormatVersion is the format version this implementation writes and
// accepts (subject to the tolerance rule in CheckVersion: a fractional
// difference is accepted, a whole-integer one is not).
const FormatVersion = "1.0"

const (
	fileProject   = "_project"
	filePackage   = "_package"
	fileAPIURL    = "_apiurl"
	fileFiles     = "_files"
	filePackages  = "_packages"
	fileVersion   = "_version"
	fileLock      = "wc.lock"
	fileLog       = "wc.log"
	fileCache     = "cache.db"
	dirData       = "data"
	dirTransaction = "_transaction"
	fileTxnState  = "state"
	dirTxnData    = "data"
	dirDiff       = "diff"
)

// Kind distinguishes a package control directory from a project one; the
// two differ only in which meta/manifest files they require.
type Kind int

const (
	// Package is a package working copy's control directory.
	Package Kind = iota + 1
	// Project is a project working copy's control directory.
	Project
)

// Layout resolves every path inside one WC's control directory. It holds
// no file handles and does no I/O of its own; it is a pure path
// calculator plus the open/validate/init routines below.
type Layout struct {
	root string // the WC root, P in the spec
	ctrl string // P/<ctrl>, possibly a symlink to an external location
	kind Kind
}

// Root returns the WC's root directory, P.
func (l *Layout) Root() string { return l.root }

// Ctrl returns the control directory, P/<ctrl> (or wherever its symlink
// points, transparently, since every helper here just uses the path).
func (l *Layout) Ctrl() string { return l.ctrl }

// Kind reports whether this is a package or project control directory.
func (l *Layout) Kind() Kind { return l.kind }

func (l *Layout) path(name string) string { return filepath.Join(l.ctrl, name) }

// ProjectFile is the path to the small text file naming the project.
func (l *Layout) ProjectFile() string { return l.path(fileProject) }

// PackageFile is the path to the small text file naming the package. It is
// only meaningful for a Package layout.
func (l *Layout) PackageFile() string { return l.path(filePackage) }

// APIURLFile is the path to the small text file naming the API endpoint.
func (l *Layout) APIURLFile() string { return l.path(fileAPIURL) }

// ManifestFile is the path to the manifest XML: _files for a package,
// _packages for a project.
func (l *Layout) ManifestFile() string {
	if l.kind == Project {
		return l.path(filePackages)
	}
	return l.path(fileFiles)
}

// VersionFile is the path to the decimal format-version file.
func (l *Layout) VersionFile() string { return l.path(fileVersion) }

// DataDir is the per-entry pristine cache (package) or per-package data
// directory (project).
func (l *Layout) DataDir() string { return l.path(dirData) }

// DataPath is the path of one entry's slot inside DataDir.
func (l *Layout) DataPath(name string) string { return filepath.Join(l.DataDir(), name) }

// LockFile is the path to the advisory lock file (see package wclock).
func (l *Layout) LockFile() string { return l.path(fileLock) }

// LogFile is the path to this WC's append-only log (see persist.Logger).
func (l *Layout) LogFile() string { return l.path(fileLog) }

// CacheFile is the path to this WC's local blob cache (see package
// localcache). Only a package WC opens one: it is the only layout kind
// whose client issues GetFile calls.
func (l *Layout) CacheFile() string { return l.path(fileCache) }

// TransactionDir is the scratch area used by a live transaction. It exists
// only while a transaction is in flight.
func (l *Layout) TransactionDir() string { return l.path(dirTransaction) }

// TransactionStateFile is the transaction record's path.
func (l *Layout) TransactionStateFile() string {
	return filepath.Join(l.TransactionDir(), fileTxnState)
}

// TransactionDataDir is the in-flight content area inside a live
// transaction.
func (l *Layout) TransactionDataDir() string {
	return filepath.Join(l.TransactionDir(), dirTxnData)
}

// TransactionDataPath is one entry's in-flight slot.
func (l *Layout) TransactionDataPath(name string) string {
	return filepath.Join(l.TransactionDataDir(), name)
}

// HasTransaction reports whether a transaction record is currently
// present.
func (l *Layout) HasTransaction() bool {
	_, err := os.Stat(l.TransactionStateFile())
	return err == nil
}

// DiffDir is the scratch area for a diff against a named revision,
// created on demand and deletable once the diff is rendered.
func (l *Layout) DiffDir(srcmd5 string) string {
	return filepath.Join(l.path(dirDiff), srcmd5)
}

// writeSmallFile writes a small UTF-8 text file with a trailing newline,
// through the temp+rename discipline every control-directory write uses.
func writeSmallFile(path, content string) error {
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	sf, err := persist.NewSafeFile(path)
	if err != nil {
		return err
	}
	defer sf.Close()
	if _, err := sf.Write([]byte(content)); err != nil {
		return err
	}
	return sf.CommitSync()
}

// readSmallFile reads back a file written by writeSmallFile, trimming the
// trailing newline.
func readSmallFile(path string) (string, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n"), nil
}

// ReadProject reads the project name.
func (l *Layout) ReadProject() (string, error) { return readSmallFile(l.ProjectFile()) }

// ReadPackage reads the package name (Package layouts only).
func (l *Layout) ReadPackage() (string, error) { return readSmallFile(l.PackageFile()) }

// ReadAPIURL reads the API endpoint.
func (l *Layout) ReadAPIURL() (string, error) { return readSmallFile(l.APIURLFile()) }

// CheckVersion reads the _version file and applies the tolerance rule: a
// difference of a whole integer or more between the on-disk version and
// FormatVersion is a hard error; a fractional difference is tolerated.
func (l *Layout) CheckVersion() error {
	onDisk, err := readSmallFile(l.VersionFile())
	if err != nil {
		return err
	}
	haveMajor, err1 := strconv.Atoi(strings.SplitN(onDisk, ".", 2)[0])
	wantMajor, err2 := strconv.Atoi(strings.SplitN(FormatVersion, ".", 2)[0])
	if err1 != nil || err2 != nil {
		return &wcerr.FormatVersion{Path: l.VersionFile(), OnDisk: onDisk, Expected: FormatVersion}
	}
	diff := haveMajor - wantMajor
	if diff < 0 {
		diff = -diff
	}
	if diff >= 1 {
		return &wcerr.FormatVersion{Path: l.VersionFile(), OnDisk: onDisk, Expected: FormatVersion}
	}
	return nil
}

// requiredFiles lists the members that must exist for a layout of the
// given kind to be considered consistent.
func requiredFiles(kind Kind) []string {
	files := []string{fileProject, fileAPIURL, fileVersion}
	if kind == Package {
		files = append(files, filePackage, fileFiles)
	} else {
		files = append(files, filePackages)
	}
	return files
}

// DetectKind looks inside root/ControlDirName and reports whether it is a
// package or project control directory, by checking which of _files /
// _packages is present, without otherwise validating the layout (a
// caller that doesn't already know which kind of WC it is standing in —
// cmd/osc's top-level commands — uses this before calling Open).
func DetectKind(root string) (Kind, error) {
	ctrl := filepath.Join(root, ControlDirName)
	if _, err := os.Stat(filepath.Join(ctrl, fileFiles)); err == nil {
		return Package, nil
	}
	if _, err := os.Stat(filepath.Join(ctrl, filePackages)); err == nil {
		return Project, nil
	}
	return 0, &wcerr.InconsistentWC{Path: ctrl, Reason: "neither a package nor a project manifest is present"}
}

// Open validates that root/ControlDirName exists, contains every required
// member for kind, and is within format-version tolerance. It does not
// acquire the WC lock; callers do that separately (package wclock).
func Open(root string, kind Kind) (*Layout, error) {
	ctrl := filepath.Join(root, ControlDirName)
	info, err := os.Lstat(ctrl)
	if err != nil {
		return nil, &wcerr.InconsistentWC{Path: ctrl, Reason: "control directory missing"}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if _, err := filepath.EvalSymlinks(ctrl); err != nil {
			return nil, &wcerr.InconsistentWC{Path: ctrl, Reason: "external control directory symlink is broken"}
		}
	}
	l := &Layout{root: root, ctrl: ctrl, kind: kind}
	for _, name := range requiredFiles(kind) {
		if _, err := os.Stat(l.path(name)); err != nil {
			return nil, &wcerr.InconsistentWC{Path: l.path(name), Reason: "required control file missing"}
		}
	}
	if err := l.CheckVersion(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(l.DataDir()); err != nil {
		return nil, &wcerr.InconsistentWC{Path: l.DataDir(), Reason: "pristine data directory missing"}
	}
	return l, nil
}

// InitOptions configures Init.
type InitOptions struct {
	Project string
	Package string // Package layouts only
	APIURL  string

	// ExternalDir, if non-empty, makes the control directory a relative
	// symlink to this externally supplied location instead of a plain
	// subdirectory of root.
	ExternalDir string
}

// Init creates a brand-new control directory at root/ControlDirName: meta
// files, an empty manifest, an empty pristine cache, and (if requested) an
// external-store symlink. It creates root first if it does not exist.
func Init(root string, kind Kind, opts InitOptions) (*Layout, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	ctrl := filepath.Join(root, ControlDirName)
	if opts.ExternalDir != "" {
		if err := os.MkdirAll(opts.ExternalDir, 0755); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, opts.ExternalDir)
		if err != nil {
			return nil, err
		}
		if err := os.Symlink(rel, ctrl); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(ctrl, 0755); err != nil {
		return nil, err
	}

	l := &Layout{root: root, ctrl: ctrl, kind: kind}
	if err := os.MkdirAll(l.DataDir(), 0755); err != nil {
		return nil, err
	}
	if err := writeSmallFile(l.ProjectFile(), opts.Project); err != nil {
		return nil, err
	}
	if kind == Package {
		if err := writeSmallFile(l.PackageFile(), opts.Package); err != nil {
			return nil, err
		}
	}
	if err := writeSmallFile(l.APIURLFile(), opts.APIURL); err != nil {
		return nil, err
	}
	if err := writeSmallFile(l.VersionFile(), FormatVersion); err != nil {
		return nil, err
	}
	if err := writeSmallFile(l.ManifestFile(), emptyManifest(kind)); err != nil {
		return nil, err
	}
	return l, nil
}

func emptyManifest(kind Kind) string {
	if kind == Project {
		return "<packages/>"
	}
	return "<directory/>"
}

// Repair reconstructs a minimal, consistent control directory in place:
// any required meta file that is missing or unreadable is recreated from
// the values supplied, a _version outside tolerance is rewritten, and the
// manifest is recreated empty if it is missing. An existing manifest is
// kept whatever its content (it is not parsed), and a leftover transaction
// directory is left in place. It never touches entries that are already
// consistent. Repair is meant to
// follow an InconsistentWC error, using values the caller re-derives from
// the server (project/package name, API URL) since the whole point is
// that the on-disk copies cannot be trusted.
func Repair(root string, kind Kind, opts InitOptions) (*Layout, error) {
	ctrl := filepath.Join(root, ControlDirName)
	if _, err := os.Stat(ctrl); err != nil {
		return Init(root, kind, opts)
	}
	l := &Layout{root: root, ctrl: ctrl, kind: kind}

	if err := os.MkdirAll(l.DataDir(), 0755); err != nil {
		return nil, err
	}
	if _, err := readSmallFile(l.ProjectFile()); err != nil {
		if err := writeSmallFile(l.ProjectFile(), opts.Project); err != nil {
			return nil, err
		}
	}
	if kind == Package {
		if _, err := readSmallFile(l.PackageFile()); err != nil {
			if err := writeSmallFile(l.PackageFile(), opts.Package); err != nil {
				return nil, err
			}
		}
	}
	if _, err := readSmallFile(l.APIURLFile()); err != nil {
		if err := writeSmallFile(l.APIURLFile(), opts.APIURL); err != nil {
			return nil, err
		}
	}
	if err := l.CheckVersion(); err != nil {
		if err := writeSmallFile(l.VersionFile(), FormatVersion); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(l.ManifestFile()); err != nil {
		if err := writeSmallFile(l.ManifestFile(), emptyManifest(kind)); err != nil {
			return nil, err
		}
	}
	return l, nil
}
