package persist

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/ioutil"
	"strconv"
	"strings"
)

var (
	// ErrBadFilenameSuffix is returned when LoadJSON is asked to load a file
	// that is still mid-write (i.e. its name ends in tempSuffix).
	ErrBadFilenameSuffix = errors.New("persist: supplied filename has the bad suffix of an incomplete write")

	// ErrBadHeader is returned when a document's header does not match the
	// header the caller expects.
	ErrBadHeader = errors.New("persist: expected different header")

	// ErrBadVersion is returned when a document's version differs from the
	// expected version by a whole integer or more.
	ErrBadVersion = errors.New("persist: version mismatch exceeds tolerance")

	// ErrBadChecksum is returned when a document's checksum does not match
	// its content.
	ErrBadChecksum = errors.New("persist: checksum does not match file content")
)

type jsonDocument struct {
	Metadata Metadata
	Checksum string
	Data     json.RawMessage
}

// checkVersion compares the version baked into a file against the version
// the caller expects. A difference in the integer part is a hard error; a
// purely fractional difference (e.g. "2.0" read by a "2.3" binary) is
// tolerated, per the format-version rule used throughout the control
// directory.
func checkVersion(have, want string) error {
	haveMajor, err1 := strconv.Atoi(strings.SplitN(have, ".", 2)[0])
	wantMajor, err2 := strconv.Atoi(strings.SplitN(want, ".", 2)[0])
	if err1 != nil || err2 != nil {
		// Non-numeric versions are compared for exact equality only.
		if have != want {
			return ErrBadVersion
		}
		return nil
	}
	diff := haveMajor - wantMajor
	if diff < 0 {
		diff = -diff
	}
	if diff >= 1 {
		return ErrBadVersion
	}
	return nil
}

// SaveJSON saves obj as a checksummed, versioned JSON document at filename,
// using the temp-file-then-rename discipline so a reader never observes a
// torn write.
func SaveJSON(meta Metadata, obj interface{}, filename string) error {
	return saveJSON(meta, obj, filename, false)
}

// SaveFileSync behaves like SaveJSON but additionally fsyncs the directory
// entry, guaranteeing the rename itself is durable across a crash. It is
// the helper used for control-directory writes that must survive an
// unclean shutdown (the transaction record, the tracker file, meta files).
func SaveFileSync(meta Metadata, obj interface{}, filename string) error {
	return saveJSON(meta, obj, filename, true)
}

func saveJSON(meta Metadata, obj interface{}, filename string, sync bool) error {
	data, err := json.MarshalIndent(obj, "", "\t")
	if err != nil {
		return err
	}
	sum := md5.Sum(data)
	doc := jsonDocument{
		Metadata: meta,
		Checksum: hex.EncodeToString(sum[:]),
		Data:     data,
	}
	docBytes, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return err
	}

	sf, err := NewSafeFile(filename)
	if err != nil {
		return err
	}
	defer sf.Close()
	if _, err := sf.Write(docBytes); err != nil {
		return err
	}
	if sync {
		return sf.CommitSync()
	}
	return sf.Commit()
}

// LoadJSON loads a JSON document previously written by SaveJSON/SaveFileSync
// into obj, verifying its header, version, and checksum.
func LoadJSON(meta Metadata, obj interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}
	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	var doc jsonDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc.Metadata.Header != meta.Header {
		return ErrBadHeader
	}
	if err := checkVersion(doc.Metadata.Version, meta.Version); err != nil {
		return err
	}
	sum := md5.Sum(doc.Data)
	if !bytes.Equal([]byte(hex.EncodeToString(sum[:])), []byte(doc.Checksum)) {
		return ErrBadChecksum
	}
	return json.Unmarshal(doc.Data, obj)
}
