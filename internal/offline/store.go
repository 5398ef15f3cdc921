package offline

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/models"
	"github.com/ovillere/dinerate/internal/store"
)

// Key prefixes for the three logical tables plus identity records.
// Sync-queue keys are big-endian sequence numbers, so iterating the
// prefix in key order yields strict FIFO.
const (
	prefixAggCache = "aggcache/"
	prefixLog      = "oflog/"
	prefixQueue    = "syncq/"
	prefixIdentity = "identity/"
)

// ErrNotFound is returned when a key is absent or expired
var ErrNotFound = errors.New("offline: not found")

// SyncOp is one queued write operation awaiting synchronization
type SyncOp struct {
	Op         store.ChangeOp `json:"op"`
	Rating     models.Rating  `json:"rating"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// QueueEntry pairs a queue key with its decoded operation
type QueueEntry struct {
	Key []byte
	Op  SyncOp
}

type cachedAggregate struct {
	Aggregate models.Aggregate `json:"aggregate"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Store is the local embedded persistent store backing offline
// continuity: a TTL-stamped aggregate cache, an append log of offline
// ratings, a FIFO sync queue and the identity records.
type Store struct {
	db       *badger.DB
	queueSeq *badger.Sequence
	logSeq   *badger.Sequence
	logger   zerolog.Logger
	stopGC   chan struct{}
}

// OpenStore opens the badger-backed store. InMemory mode is for tests.
func OpenStore(cfg *config.OfflineConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}

	queueSeq, err := db.GetSequence([]byte("seq/queue"), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("queue sequence: %w", err)
	}
	logSeq, err := db.GetSequence([]byte("seq/log"), 64)
	if err != nil {
		queueSeq.Release()
		db.Close()
		return nil, fmt.Errorf("log sequence: %w", err)
	}

	s := &Store{
		db:       db,
		queueSeq: queueSeq,
		logSeq:   logSeq,
		logger:   logging.NewLogger("offline-store"),
		stopGC:   make(chan struct{}),
	}

	if !cfg.InMemory {
		go s.gcLoop()
	}

	return s, nil
}

// Close releases the sequences and closes the database
func (s *Store) Close() error {
	close(s.stopGC)
	_ = s.queueSeq.Release()
	_ = s.logSeq.Release()
	return s.db.Close()
}

// gcLoop runs badger value-log garbage collection periodically
func (s *Store) gcLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// PutAggregate caches an aggregate with a TTL stamp
func (s *Store) PutAggregate(agg models.Aggregate, ttl time.Duration) error {
	entry := cachedAggregate{Aggregate: agg, ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := []byte(prefixAggCache + agg.RestaurantID.String())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// GetAggregate returns an unexpired cached aggregate or ErrNotFound
func (s *Store) GetAggregate(restaurantID uuid.UUID) (*models.Aggregate, error) {
	key := []byte(prefixAggCache + restaurantID.String())

	var entry cachedAggregate
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &entry.Aggregate, nil
}

// AppendRating appends a rating to the offline log
func (s *Store) AppendRating(r models.Rating) error {
	seq, err := s.logSeq.Next()
	if err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s/%016x", prefixLog, r.RestaurantID.String(), seq)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// RatingsFor returns the offline-logged ratings for one restaurant in
// append order.
func (s *Store) RatingsFor(restaurantID uuid.UUID) ([]models.Rating, error) {
	prefix := []byte(prefixLog + restaurantID.String() + "/")

	var ratings []models.Rating
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r models.Rating
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			ratings = append(ratings, r)
		}
		return nil
	})
	return ratings, err
}

// Enqueue appends a pending write operation to the sync queue
func (s *Store) Enqueue(op SyncOp) error {
	seq, err := s.queueSeq.Next()
	if err != nil {
		return err
	}
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}

	key := make([]byte, len(prefixQueue)+8)
	copy(key, prefixQueue)
	binary.BigEndian.PutUint64(key[len(prefixQueue):], seq)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// NextBatch returns up to limit queue entries in enqueue order
func (s *Store) NextBatch(limit int) ([]QueueEntry, error) {
	prefix := []byte(prefixQueue)

	var batch []QueueEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(batch) < limit; it.Next() {
			item := it.Item()
			var op SyncOp
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			}); err != nil {
				return err
			}
			batch = append(batch, QueueEntry{Key: item.KeyCopy(nil), Op: op})
		}
		return nil
	})
	return batch, err
}

// DeleteEntry removes a drained queue entry
func (s *Store) DeleteEntry(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// QueueDepth counts pending queue entries
func (s *Store) QueueDepth() (int, error) {
	prefix := []byte(prefixQueue)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// PutIdentity persists a derived identity record
func (s *Store) PutIdentity(rec *models.IdentityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := []byte(prefixIdentity + rec.PseudonymID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// GetIdentity loads a persisted identity record
func (s *Store) GetIdentity(pseudonymID string) (*models.IdentityRecord, error) {
	key := []byte(prefixIdentity + pseudonymID)

	var rec models.IdentityRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
