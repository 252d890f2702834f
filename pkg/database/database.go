package database

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/platforms"
	bolt "go.etcd.io/bbolt"
)

const (
	BucketHistory = "history"
	// DefaultHistoryResults is used when a caller asks for no limit.
	DefaultHistoryResults = 25
	// MaxHistoryEntries is the number of entries kept, older are pruned.
	MaxHistoryEntries = 1000
	openTimeout       = 1 * time.Second
)

var ErrDatabaseClosed = errors.New("database is closed")

func dbFile(pl platforms.Platform) string {
	return filepath.Join(pl.DataFolder(), config.HistoryDbFilename)
}

// Check if the db exists on disk.
func DbExists(pl platforms.Platform) bool {
	_, err := os.Stat(dbFile(pl))
	return err == nil
}

// Open the db with the given options. If the database does not exist it
// will be created and the buckets will be initialized.
func open(path string, options *bolt.Options) (*bolt.DB, error) {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, options)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists([]byte(BucketHistory))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

type Database struct {
	bdb *bolt.DB
}

func Open(pl platforms.Platform) (*Database, error) {
	db, err := open(dbFile(pl), &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, err
	}

	return &Database{bdb: db}, nil
}

// OpenReadOnly opens an existing db without taking the write lock, so it
// can be read while the service is running.
func OpenReadOnly(pl platforms.Platform) (*Database, error) {
	db, err := bolt.Open(dbFile(pl), 0600, &bolt.Options{
		Timeout:  openTimeout,
		ReadOnly: true,
	})
	if err != nil {
		return nil, err
	}

	return &Database{bdb: db}, nil
}

func (d *Database) Close() error {
	if d == nil || d.bdb == nil {
		return ErrDatabaseClosed
	}
	return d.bdb.Close()
}

// HistoryEntry records the outcome of one scanner operation. Captured
// images and templates are never stored.
type HistoryEntry struct {
	Id        uint64    `json:"id" csv:"id"`
	Time      time.Time `json:"time" csv:"time"`
	Operation string    `json:"operation" csv:"operation"`
	DeviceId  string    `json:"deviceId" csv:"device_id"`
	Finger    string    `json:"finger,omitempty" csv:"finger"`
	Success   bool      `json:"success" csv:"success"`
	Code      int       `json:"code" csv:"code"`
	Quality   float64   `json:"quality,omitempty" csv:"quality"`
	Message   string    `json:"message,omitempty" csv:"message"`
}

func historyKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// AddHistory appends an entry, assigning its id, and prunes the oldest
// entries past MaxHistoryEntries.
func (d *Database) AddHistory(entry HistoryEntry) error {
	return d.bdb.Update(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Id = id
		if entry.Time.IsZero() {
			entry.Time = time.Now()
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		err = b.Put(historyKey(id), data)
		if err != nil {
			return err
		}

		if id <= MaxHistoryEntries {
			return nil
		}

		cutoff := historyKey(id - MaxHistoryEntries)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) <= 0; k, _ = c.Next() {
			stale = append(stale, k)
		}
		for _, k := range stale {
			err := b.Delete(k)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// GetHistory returns up to maxResults entries, newest first.
func (d *Database) GetHistory(maxResults int) ([]HistoryEntry, error) {
	if maxResults <= 0 {
		maxResults = DefaultHistoryResults
	}

	entries := make([]HistoryEntry, 0)
	err := d.bdb.View(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))

		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < maxResults; k, v = c.Prev() {
			var entry HistoryEntry
			err := json.Unmarshal(v, &entry)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

// ExportHistory writes every entry as CSV, oldest first.
func (d *Database) ExportHistory(w io.Writer) error {
	entries := make([]HistoryEntry, 0)
	err := d.bdb.View(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))
		return b.ForEach(func(_, v []byte) error {
			var entry HistoryEntry
			err := json.Unmarshal(v, &entry)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return err
	}

	return gocsv.Marshal(&entries, w)
}
