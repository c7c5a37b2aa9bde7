package store

import (
	"encoding/json"
	"time"

	"github.com/alecthomas/errors"
	"go.etcd.io/bbolt"
)

//nolint:gochecknoglobals
var downloadsBucketName = []byte("downloads")

// LedgerEntry records provenance for one successfully downloaded crate. It
// is purely observational: store.Backend.Exists, not the ledger, remains
// the authoritative idempotence signal (spec §3). Deleting the ledger file
// never changes serving or dedupe behavior.
type LedgerEntry struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Cksum        string    `json:"cksum"`
	Bytes        int64     `json:"bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Ledger is a small bbolt-backed side table recording download provenance.
// Grounded on the same embedded-KV idiom the teacher uses for cache
// metadata, repurposed here to give the index's carried-but-unverified
// cksum field somewhere to be recorded.
type Ledger struct {
	db *bbolt.DB
}

// OpenLedger opens (creating if absent) the bbolt database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open download ledger")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(downloadsBucketName)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, errors.Join(errors.Wrap(err, "create downloads bucket"), db.Close())
	}

	return &Ledger{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (l *Ledger) Close() error {
	return errors.WithStack(l.db.Close())
}

// Record stores (or overwrites) the ledger entry for (name, version).
func (l *Ledger) Record(entry LedgerEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode ledger entry")
	}

	key := ledgerKey(entry.Name, entry.Version)
	return errors.WithStack(l.db.Update(func(tx *bbolt.Tx) error {
		return errors.WithStack(tx.Bucket(downloadsBucketName).Put(key, value))
	}))
}

// Lookup returns the recorded entry for (name, version), and whether one
// was found.
func (l *Ledger) Lookup(name, version string) (LedgerEntry, bool, error) {
	var entry LedgerEntry
	var found bool
	key := ledgerKey(name, version)
	err := l.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(downloadsBucketName).Get(key)
		if value == nil {
			return nil
		}
		found = true
		return errors.WithStack(json.Unmarshal(value, &entry))
	})
	if err != nil {
		return LedgerEntry{}, false, errors.WithStack(err)
	}
	return entry, found, nil
}

func ledgerKey(name, version string) []byte {
	return []byte(name + "/" + version)
}
