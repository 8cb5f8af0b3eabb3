package persist

import (
	"github.com/NebulousLabs/bolt"
)

// BoltDatabase wraps a bolt.DB with the Metadata header/version convention
// used by every other persisted document in this repository.
type BoltDatabase struct {
	*bolt.DB
	Header  string
	Version string
}

// metaBucketName holds the single bucket used to stash a BoltDatabase's
// Metadata inside the database file itself.
var metaBucketName = []byte("PersistMetadata")

const (
	metaHeaderKey  = "header"
	metaVersionKey = "version"
)

// OpenDatabase opens (creating if necessary) the bolt database at filename,
// stamping it with meta if it is new, and checking meta against the
// existing stamp (with the same version tolerance as LoadJSON) if it
// already exists.
func OpenDatabase(meta Metadata, filename string) (*BoltDatabase, error) {
	db, err := bolt.Open(filename, 0600, nil)
	if err != nil {
		return nil, err
	}
	bd := &BoltDatabase{DB: db, Header: meta.Header, Version: meta.Version}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(metaBucketName)
		if err != nil {
			return err
		}
		header := b.Get([]byte(metaHeaderKey))
		version := b.Get([]byte(metaVersionKey))
		if header == nil {
			if err := b.Put([]byte(metaHeaderKey), []byte(meta.Header)); err != nil {
				return err
			}
			return b.Put([]byte(metaVersionKey), []byte(meta.Version))
		}
		if string(header) != meta.Header {
			return ErrBadHeader
		}
		if version != nil {
			if err := checkVersion(string(version), meta.Version); err != nil {
				return err
			}
		}
		return b.Put([]byte(metaVersionKey), []byte(meta.Version))
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return bd, nil
}
