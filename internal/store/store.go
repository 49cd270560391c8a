// Package store provides a BoltDB-backed persistence layer for the point
// ledger, the schedule watermark, and the live leaderboard message ID.
//
// Everything lives in a single database file, so no external database
// process is required. Each mutation runs inside one Bolt transaction:
// either the whole write commits or nothing is visible, which is what
// keeps the ledger and its durable form from ever diverging.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
)

const (
	balancesBucket = "balances"
	metaBucket     = "meta"

	watermarkKey        = "schedule_watermark"
	leaderboardMsgIDKey = "leaderboard_message_id"
)

// Entry is one row of a sorted balance snapshot.
type Entry struct {
	UserID  string
	Balance int
}

// balanceRecord is the stored form of a user's balance. Seq is assigned
// once, at the user's first credit, and orders users with equal balances
// so that ranking never depends on map iteration order.
type balanceRecord struct {
	Balance int    `json:"balance"`
	Seq     uint64 `json:"seq"`
}

// Store wraps a BoltDB database holding the point ledger and scheduler
// state. All methods are safe for concurrent use; Bolt serializes writers.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures the buckets
// exist. Safe to call on every startup.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{balancesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Balance returns the user's current point total, 0 if the user has never
// been credited.
func (s *Store) Balance(userID string) int {
	var balance int
	s.db.View(func(tx *bolt.Tx) error {
		if rec, ok := getRecord(tx, userID); ok {
			balance = rec.Balance
		}
		return nil
	})
	return balance
}

// Adjust applies delta to the user's balance and persists the result
// before returning. The balance is clamped at 0, so a debit can never
// drive it negative. A user's first positive credit creates their ledger
// entry and stamps the sequence number used to break ranking ties.
//
// A debit against an absent user is a no-op: absence already means zero,
// and no entry is created.
func (s *Store) Adjust(userID string, delta int) (int, error) {
	var newBalance int

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(balancesBucket))

		rec, exists := getRecord(tx, userID)
		if !exists {
			if delta <= 0 {
				return nil
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec = balanceRecord{Seq: seq}
		}

		rec.Balance += delta
		if rec.Balance < 0 {
			rec.Balance = 0
		}
		newBalance = rec.Balance

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(userID), data)
	})
	if err != nil {
		// The transaction rolled back; memory and disk both still hold
		// the pre-adjustment balance.
		return s.Balance(userID), fmt.Errorf("persisting balance for %s: %w", userID, err)
	}

	return newBalance, nil
}

// Rank returns the user's 1-based position ordered by descending balance,
// ties broken by earliest first credit. The second return is false when
// the user has no ledger entry.
func (s *Store) Rank(userID string) (int, bool) {
	entries := s.SnapshotSorted()
	for i, e := range entries {
		if e.UserID == userID {
			return i + 1, true
		}
	}
	return 0, false
}

// SnapshotSorted returns all balances ordered by descending balance, ties
// broken by ascending first-credit sequence. The ordering is total and
// deterministic across restarts.
func (s *Store) SnapshotSorted() []Entry {
	type row struct {
		Entry
		seq uint64
	}
	var rows []row

	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(balancesBucket))
		return b.ForEach(func(k, v []byte) error {
			var rec balanceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			rows = append(rows, row{
				Entry: Entry{UserID: string(k), Balance: rec.Balance},
				seq:   rec.Seq,
			})
			return nil
		})
	})

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Balance != rows[j].Balance {
			return rows[i].Balance > rows[j].Balance
		}
		return rows[i].seq < rows[j].seq
	})

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.Entry
	}
	return entries
}

// Watermark returns the timestamp of the last reminder fire. The second
// return is false when no reminder has ever fired.
func (s *Store) Watermark() (time.Time, bool) {
	var (
		wm time.Time
		ok bool
	)
	s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(metaBucket)).Get([]byte(watermarkKey))
		if v == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return err
		}
		wm, ok = t, true
		return nil
	})
	return wm, ok
}

// SetWatermark durably records the last fire time. Attempts to move the
// watermark backwards are ignored: it is monotonically non-decreasing.
func (s *Store) SetWatermark(t time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metaBucket))
		if v := b.Get([]byte(watermarkKey)); v != nil {
			prev, err := time.Parse(time.RFC3339Nano, string(v))
			if err == nil && t.Before(prev) {
				return nil
			}
		}
		return b.Put([]byte(watermarkKey), []byte(t.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("persisting schedule watermark: %w", err)
	}
	return nil
}

// LeaderboardMessageID returns the stored ID of the live leaderboard
// message, "" if none has been created yet.
func (s *Store) LeaderboardMessageID() string {
	var id string
	s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(metaBucket)).Get([]byte(leaderboardMsgIDKey)); v != nil {
			id = string(v)
		}
		return nil
	})
	return id
}

// SetLeaderboardMessageID records the ID of the live leaderboard message
// so it can be edited in place across restarts.
func (s *Store) SetLeaderboardMessageID(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(leaderboardMsgIDKey), []byte(id))
	})
	if err != nil {
		return fmt.Errorf("persisting leaderboard message id: %w", err)
	}
	return nil
}

func getRecord(tx *bolt.Tx, userID string) (balanceRecord, bool) {
	var rec balanceRecord
	v := tx.Bucket([]byte(balancesBucket)).Get([]byte(userID))
	if v == nil {
		return rec, false
	}
	if err := json.Unmarshal(v, &rec); err != nil {
		return rec, false
	}
	return rec, true
}
