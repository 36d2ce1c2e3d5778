// Package journal keeps a persistent history of applied code updates in a
// bbolt database.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const bucketUpdates = "updates"

// Entry records one update request and its outcome.
type Entry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	App       string    `json:"app"`
	Target    string    `json:"target"`
	Kind      string    `json:"kind,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Instances int       `json:"instances"`
	Relinked  int       `json:"relinked"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// Journal is an append-only update history. It is safe for concurrent use.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketUpdates))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends e, assigning its ID, sequence number and, when unset, its
// timestamp. The stored entry is returned.
func (j *Journal) Record(e Entry) (Entry, error) {
	e.ID = uuid.New().String()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketUpdates))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(marshalSeq(seq), data)
	})
	if err != nil {
		return e, fmt.Errorf("failed to record update of %s: %w", e.Target, err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
func (j *Journal) List(limit int) ([]Entry, error) {
	entries := []Entry{}
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketUpdates)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt journal entry %d: %w", unmarshalSeq(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func unmarshalSeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
