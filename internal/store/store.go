// Package store provides a BoltDB-backed history of packet decisions.
package store

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var decisionsBucket = []byte("decisions")

// DefaultMaxRecords bounds the history when no explicit cap is configured.
const DefaultMaxRecords = 10000

// Decision records what the listener did with one datagram.
type Decision struct {
	Time     time.Time `msgpack:"time"`
	Source   string    `msgpack:"source"`
	Target   string    `msgpack:"target,omitempty"`
	Verdict  string    `msgpack:"verdict"`
	Accepted bool      `msgpack:"accepted"`
}

// Store wraps a bbolt database of decisions keyed by insertion sequence.
// It never holds more than maxRecords decisions; the oldest go first.
type Store struct {
	db         *bolt.DB
	log        zerolog.Logger
	maxRecords int
	stop       chan struct{}
	once       sync.Once

	mu    sync.Mutex
	count int
}

// New opens or creates a BoltDB file at the given path. maxRecords <= 0
// disables the cap.
func New(path string, maxRecords int, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	count := 0
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(decisionsBucket)
		if err != nil {
			return err
		}
		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating decisions bucket: %w", err)
	}

	s := &Store{db: db, log: log, maxRecords: maxRecords, stop: make(chan struct{}), count: count}
	if s.overCap() > 0 {
		if err := s.RecordBatch(nil); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close stops the retention goroutine and closes the underlying BoltDB.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	return s.db.Close()
}

// Record appends a decision.
func (s *Store) Record(d Decision) error {
	return s.RecordBatch([]Decision{d})
}

// RecordBatch appends decisions in a single transaction and trims the
// oldest ones beyond the cap.
func (s *Store) RecordBatch(ds []Decision) error {
	values := make([][]byte, 0, len(ds))
	for i := range ds {
		data, err := msgpack.Marshal(&ds[i])
		if err != nil {
			return fmt.Errorf("marshaling decision: %w", err)
		}
		values = append(values, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.count
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(decisionsBucket)
		for _, data := range values {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating sequence: %w", err)
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
			count++
		}

		if s.maxRecords <= 0 || count <= s.maxRecords {
			return nil
		}
		excess := count - s.maxRecords
		var oldest [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(oldest) < excess; k, _ = c.Next() {
			oldest = append(oldest, append([]byte(nil), k...))
		}
		for _, k := range oldest {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("deleting decision: %w", err)
			}
		}
		count -= len(oldest)
		return nil
	})
	if err != nil {
		return err
	}
	s.count = count
	return nil
}

// Len returns the number of stored decisions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Store) overCap() int {
	if s.maxRecords <= 0 {
		return 0
	}
	return s.count - s.maxRecords
}

// Recent returns up to limit decisions, newest first. A limit <= 0 returns all.
func (s *Store) Recent(limit int) ([]Decision, error) {
	var out []Decision
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(decisionsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var d Decision
			if err := msgpack.Unmarshal(v, &d); err != nil {
				s.log.Warn().Err(err).Uint64("seq", binary.BigEndian.Uint64(k)).Msg("Skipping corrupt decision")
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// Prune deletes decisions recorded before cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(decisionsBucket)

		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d Decision
			if err := msgpack.Unmarshal(v, &d); err == nil && !d.Time.Before(cutoff) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("deleting decision: %w", err)
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.count -= removed
	return removed, nil
}

// RunRetention starts a background goroutine that prunes decisions older than
// retention every interval, until Close.
func (s *Store) RunRetention(interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				n, err := s.Prune(time.Now().Add(-retention))
				if err != nil {
					s.log.Error().Err(err).Msg("Database error during retention pass")
					continue
				}
				if n > 0 {
					s.log.Debug().Int("removed", n).Msg("Pruned old decisions")
				}
			}
		}
	}()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
