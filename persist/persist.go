// Package persist provides the disk-persistence primitives shared by every
// component that owns a directory on disk: atomic (temp-file-then-rename)
// writes, versioned JSON documents, a small boltdb wrapper, and a file
// logger. Every mutating write in this repository that must survive a
// crash goes through one of these helpers.
package persist

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/NebulousLabs/fastrand"
)

const (
	persistDir = "persist"

	// tempSuffix is appended to the name of a file while it is being
	// written; a filename ending in tempSuffix is never a valid load
	// target.
	tempSuffix = "_temp"
)

// Metadata identifies the type and version of a persisted document. It is
// written alongside a document's content and checked on load: a version
// whose integer part differs from the expected one is a hard error (the
// format has changed in an incompatible way), while a fractional-only
// difference is tolerated.
type Metadata struct {
	Header  string
	Version string
}

// RandomSuffix returns a random hex string suitable for appending to a
// filename to avoid collisions between concurrent temporary files.
func RandomSuffix() string {
	return hexEncode(fastrand.Bytes(8))
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}

// SafeFile is a file that is written to a temporary location and only
// becomes visible at its final path once Commit is called. It implements
// the temp-file-then-rename discipline required of every control-directory
// write.
type SafeFile struct {
	tempFile   *os.File
	finalPath  string
	committed  bool
}

// NewSafeFile creates a new SafeFile whose final destination (once
// committed) is path. path may be relative; it is resolved to an absolute
// path immediately so that a later os.Chdir does not change where Commit
// writes.
func NewSafeFile(path string) (*SafeFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(absPath)
	tf, err := ioutil.TempFile(dir, filepath.Base(absPath)+"*"+tempSuffix)
	if err != nil {
		return nil, err
	}
	return &SafeFile{
		tempFile:  tf,
		finalPath: absPath,
	}, nil
}

// Name returns the path of the temporary file backing sf. It is never equal
// to the path that will be committed to.
func (sf *SafeFile) Name() string {
	return sf.tempFile.Name()
}

// Write writes to the temporary file.
func (sf *SafeFile) Write(p []byte) (int, error) {
	return sf.tempFile.Write(p)
}

// Commit syncs and closes the temporary file and renames it over the final
// path, making the write visible atomically.
func (sf *SafeFile) Commit() error {
	if err := sf.tempFile.Sync(); err != nil {
		return err
	}
	if err := sf.tempFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(sf.tempFile.Name(), sf.finalPath); err != nil {
		return err
	}
	sf.committed = true
	return nil
}

// Close releases the temporary file. If Commit has already succeeded, Close
// is a no-op; otherwise it removes the uncommitted temporary file.
func (sf *SafeFile) Close() error {
	if sf.committed {
		return nil
	}
	sf.tempFile.Close()
	return os.Remove(sf.tempFile.Name())
}

// CommitSync behaves like Commit but additionally fsyncs the directory entry
// the rename lands in, so the rename itself is durable across a crash and
// not just the file's content. Callers that persist control-directory state
// that must survive an unclean shutdown use this instead of Commit.
func (sf *SafeFile) CommitSync() error {
	if err := sf.Commit(); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Dir(sf.finalPath))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
