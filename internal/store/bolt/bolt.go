// Package bolt provides a bbolt-backed durable GroupStore.
//
// bbolt is chosen because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID — every store operation is one transaction, so a crash never
//     leaves a group half-mutated
//   - Single file (groups.db inside the data directory)
//   - Well-maintained (used by etcd in production)
//
// Layout: one root bucket ("groups") holding one nested bucket per group id.
// Keys inside a group bucket are 8-byte big-endian sequence numbers assigned
// by bbolt's per-bucket NextSequence, so byte-order iteration IS insertion
// order — the property the queue's Poll and drain forms rely on. Values are
// JSON-encoded records carrying the message and its marked flag.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/groupq-io/groupq/internal/store"
	"github.com/groupq-io/groupq/internal/types"
)

var bucketGroups = []byte("groups")

// record is the persisted form of one group member.
type record struct {
	Message *types.Message `json:"message"`
	Marked  bool           `json:"marked"`
}

// Store is a durable GroupStore over a single bbolt database file.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := &bbolt.Options{Timeout: 0} // non-blocking open
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	// Ensure the root bucket exists.
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketGroups)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Group returns a snapshot of the group. Groups never written to behave as
// empty groups.
func (s *Store) Group(id string) (store.GroupView, error) {
	var (
		total    int
		unmarked []*types.Message
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGroups).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			rec, err := unmarshalRecord(v)
			if err != nil {
				return fmt.Errorf("group %s key %x: %w", id, k, err)
			}
			total++
			if !rec.Marked {
				unmarked = append(unmarked, rec.Message)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return store.NewSnapshot(id, total, unmarked), nil
}

// AddToGroup appends msg to the group, unmarked, in one transaction.
func (s *Store) AddToGroup(id string, msg *types.Message) error {
	val, err := json.Marshal(record{Message: msg})
	if err != nil {
		return fmt.Errorf("bolt: marshal message %s: %w", msg.ID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketGroups).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return fmt.Errorf("bolt: group bucket %s: %w", id, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), val)
	})
}

// RemoveFromGroup deletes the member whose ID matches msg.ID.
func (s *Store) RemoveFromGroup(id string, msg *types.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGroups).Bucket([]byte(id))
		if b == nil {
			return store.ErrNotFound
		}

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := unmarshalRecord(v)
			if err != nil {
				return fmt.Errorf("group %s key %x: %w", id, k, err)
			}
			if rec.Message.ID == msg.ID {
				return b.Delete(k)
			}
		}
		return store.ErrNotFound
	})
}

// MarkGroup marks every currently-unmarked member of the viewed group.
// Keys are collected before any Put: bbolt cursors do not tolerate writes to
// the bucket they are iterating.
func (s *Store) MarkGroup(g store.GroupView) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGroups).Bucket([]byte(g.ID()))
		if b == nil {
			return nil
		}

		type pending struct {
			key []byte
			rec record
		}
		var writes []pending

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := unmarshalRecord(v)
			if err != nil {
				return fmt.Errorf("group %s key %x: %w", g.ID(), k, err)
			}
			if !rec.Marked {
				rec.Marked = true
				key := make([]byte, len(k))
				copy(key, k)
				writes = append(writes, pending{key: key, rec: rec})
			}
		}

		for _, w := range writes {
			val, err := json.Marshal(w.rec)
			if err != nil {
				return err
			}
			if err := b.Put(w.key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.GroupStore = (*Store)(nil)

// ─── serialisation helpers ────────────────────────────────────────────────────

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func unmarshalRecord(v []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return record{}, fmt.Errorf("%w: %v", store.ErrCorrupted, err)
	}
	if rec.Message == nil {
		return record{}, fmt.Errorf("%w: record has no message", store.ErrCorrupted)
	}
	return rec, nil
}
