package remotetest

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
)

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// combinedMD5 mirrors the protocol's srcmd5: a digest over the sorted
// name/md5 pairs of the file set, so any change to content or membership
// changes it.
func combinedMD5(files map[string]File) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	h := md5.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(files[name].MD5))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
