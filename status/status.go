// Package status implements the file status calculator (spec §4.4): the
// pure function that derives a tracked entry's displayed state from its
// tracker record and the filesystem, plus the streaming MD5 and binary
// detection it's built on.
package status

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"

	"github.com/buildservice-client/osc/wcstate"
)

// binaryProbeSize is how much of a file's head is scanned for a NUL byte
// when deciding whether it should be treated as binary.
const binaryProbeSize = 4096

// blockSize is the chunk size used to stream a file through MD5 without
// holding the whole thing in memory.
const blockSize = 64 * 1024

// HashFile streams path through MD5 in fixed-size blocks and returns the
// lowercase hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsBinary reports whether path looks binary, by scanning its first
// binaryProbeSize bytes for a NUL byte.
func IsBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	buf := make([]byte, binaryProbeSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

// TrackedEntry is the minimal view of a tracker entry the status
// calculation needs, satisfied by tracker.Entry.
type TrackedEntry struct {
	State wcstate.EntryState
	MD5   string
}

// FileStatus derives a package entry's displayed state (spec §4.4,
// package variant).
//
//  1. no tracker entry               -> Unknown
//  2. tracker state Deleted          -> Deleted
//  3. state != Skipped, file absent  -> Missing
//  4. state == Normal, hash mismatch -> Modified
//  5. otherwise                      -> tracker state unchanged
func FileStatus(entry *TrackedEntry, workPath string) (wcstate.EntryState, error) {
	if entry == nil {
		return wcstate.Unknown, nil
	}
	if entry.State == wcstate.Deleted {
		return wcstate.Deleted, nil
	}
	_, err := os.Stat(workPath)
	absent := os.IsNotExist(err)
	if err != nil && !absent {
		return 0, err
	}
	if entry.State != wcstate.Skipped && absent {
		return wcstate.Missing, nil
	}
	if entry.State == wcstate.Normal && !absent {
		sum, err := HashFile(workPath)
		if err != nil {
			return 0, err
		}
		if sum != entry.MD5 {
			return wcstate.Modified, nil
		}
	}
	return entry.State, nil
}

// PackageStatus derives a project entry's displayed state (spec §4.4,
// project variant): the same shape, one level up, checking for a
// directory instead of hashing a file.
//
//  1. no tracker entry      -> Unknown
//  2. tracker state Deleted -> Deleted
//  3. directory absent      -> Missing
//  4. otherwise             -> tracker state unchanged
func PackageStatus(entry *TrackedEntry, packageDir string) (wcstate.EntryState, error) {
	if entry == nil {
		return wcstate.Unknown, nil
	}
	if entry.State == wcstate.Deleted {
		return wcstate.Deleted, nil
	}
	if _, err := os.Stat(packageDir); os.IsNotExist(err) {
		return wcstate.Missing, nil
	} else if err != nil {
		return 0, err
	}
	return entry.State, nil
}
