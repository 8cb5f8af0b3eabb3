// Package localcache implements the local package cache collaborator
// named but left out-of-scope by spec §1 ("non-hard collaborators ...
// are out of scope"): a small blob cache the remote client consults
// before issuing a GET for a file's content, keyed by
// (apiurl, project, package, srcmd5, name) per SPEC_FULL's DOMAIN STACK
// wiring. It is grounded on persist.OpenDatabase/BoltDatabase's
// Metadata-stamped bolt database contract (persist/boltdb_test.go).
package localcache

import (
	"strings"

	"github.com/NebulousLabs/bolt"
	"github.com/buildservice-client/osc/persist"
)

const (
	cacheHeader  = "Local Package Cache"
	cacheVersion = "1.0"
)

var blobBucket = []byte("Blobs")

// Cache is a bolt-backed blob cache, one per WC root's external or
// control-directory cache file.
type Cache struct {
	db *persist.BoltDatabase
}

// Open opens (creating if necessary) the cache database at filename.
func Open(filename string) (*Cache, error) {
	db, err := persist.OpenDatabase(persist.Metadata{Header: cacheHeader, Version: cacheVersion}, filename)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// key joins the cache's identity tuple with a separator that cannot
// appear in any of its components (apiurl/project/package names and
// srcmd5 are all restricted to URL- and filesystem-safe characters by
// the remote protocol).
func key(apiurl, project, pkg, srcmd5, name string) []byte {
	return []byte(strings.Join([]string{apiurl, project, pkg, srcmd5, name}, "\x00"))
}

// Get returns the cached blob for the given identity tuple, or ok=false
// if it is not present.
func (c *Cache) Get(apiurl, project, pkg, srcmd5, name string) (data []byte, ok bool, err error) {
	k := key(apiurl, project, pkg, srcmd5, name)
	err = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobBucket).Get(k)
		if v != nil {
			data = append([]byte{}, v...)
			ok = true
		}
		return nil
	})
	return data, ok, err
}

// Put stores data under the given identity tuple, overwriting any
// previous entry for the same tuple.
func (c *Cache) Put(apiurl, project, pkg, srcmd5, name string, data []byte) error {
	k := key(apiurl, project, pkg, srcmd5, name)
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobBucket).Put(k, data)
	})
}

// Delete removes the entry for the given identity tuple, if present.
func (c *Cache) Delete(apiurl, project, pkg, srcmd5, name string) error {
	k := key(apiurl, project, pkg, srcmd5, name)
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobBucket).Delete(k)
	})
}
