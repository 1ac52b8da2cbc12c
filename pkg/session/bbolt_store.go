package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const sessionBucket = "sessions"

// wireRecord is what actually gets stored in bbolt: the record plus its
// expiry, since bbolt itself has no notion of key TTL.
type wireRecord struct {
	Rec    SessionRecord `json:"rec"`
	Expiry time.Time     `json:"expiry"`
}

// BoltStore is a Store backed by an embedded bbolt database. Entries
// survive process restarts. Atomic take-and-delete is a single db.Update
// transaction: bbolt's transaction isolation gives the required atomicity.
type BoltStore struct {
	db   *bolt.DB
	stop chan struct{}
}

// OpenBoltStore opens (or creates) the bbolt database at path, ensures the
// sessions bucket exists, and starts a background sweep that reclaims
// expired-but-never-taken entries every sweepInterval.
func OpenBoltStore(path string, sweepInterval time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt session store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}

	s := &BoltStore{db: db, stop: make(chan struct{})}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go s.sweep(sweepInterval)
	return s, nil
}

func (s *BoltStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.db.Update(func(tx *bolt.Tx) error {
				b := tx.Bucket([]byte(sessionBucket))
				now := time.Now()
				var expired [][]byte
				err := b.ForEach(func(k, v []byte) error {
					var w wireRecord
					if err := json.Unmarshal(v, &w); err != nil {
						return nil
					}
					if now.After(w.Expiry) {
						expired = append(expired, append([]byte(nil), k...))
					}
					return nil
				})
				if err != nil {
					return err
				}
				for _, k := range expired {
					if err := b.Delete(k); err != nil {
						return err
					}
				}
				return nil
			})
		}
	}
}

func (s *BoltStore) Put(_ context.Context, id string, rec SessionRecord, ttl time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionBucket))
		if existing := b.Get([]byte(id)); existing != nil {
			var w wireRecord
			if err := json.Unmarshal(existing, &w); err == nil && time.Now().Before(w.Expiry) {
				return ErrDuplicate
			}
		}

		w := wireRecord{Rec: rec, Expiry: time.Now().Add(ttl)}
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("marshal session record: %w", err)
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) Take(_ context.Context, id string) (SessionRecord, error) {
	var rec SessionRecord
	expired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionBucket))
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}

		var w wireRecord
		if err := json.Unmarshal(raw, &w); err != nil {
			return fmt.Errorf("unmarshal session record: %w", err)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		if time.Now().After(w.Expiry) {
			// Commit the delete; returning an error here would roll it back.
			expired = true
			return nil
		}
		rec = w.Rec
		return nil
	})
	if err != nil {
		return SessionRecord{}, err
	}
	if expired {
		return SessionRecord{}, ErrExpired
	}
	return rec, nil
}

func (s *BoltStore) Remove(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Delete([]byte(id))
	})
}

func (s *BoltStore) Close() error {
	close(s.stop)
	return s.db.Close()
}
