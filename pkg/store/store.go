// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the embedded-queue persistence layer for the standalone
// deployment topology (variant A): a single bbolt file holding the pending
// queue, the dead-letter queue, and the dedup/cooldown indexes that survive
// a process restart.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/idempotency"
)

var (
	bucketPending  = []byte("pending")
	bucketDLQ      = []byte("dlq")
	bucketDedup    = []byte("dedup_index")
	bucketCooldown = []byte("cooldown_index")
)

// Store wraps a bbolt database file holding the four buckets the forward
// worker needs.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt file at path and ensures all
// required buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketPending, bucketDLQ, bucketDedup, bucketCooldown} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// pendingKey orders pending rows by next-retry epoch so PopDue can scan in
// ascending key order and stop at the first row not yet due; ties within the
// same second are broken by event ID, appended after the timestamp.
func pendingKey(nextRetryAtEpoch int64, id string) []byte {
	buf := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(buf[:8], uint64(nextRetryAtEpoch))
	copy(buf[8:], id)
	return buf
}

// expiryValue encodes an expiration epoch as the dedup_index/cooldown_index
// value: key -> expires, per §4.8's literal data model.
func expiryValue(expiresEpoch int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(expiresEpoch))
	return buf
}

// readExpiry returns the expiry epoch stored for key in b, if any.
func readExpiry(b *bbolt.Bucket, key string) (int64, bool) {
	v := b.Get([]byte(key))
	if len(v) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(v[:8])), true
}

// Enqueue performs the §4.6 dedup/cooldown admission decision transactionally
// against the durable dedup_index/cooldown_index buckets and, on Accept,
// inserts the pending row in the same bbolt write transaction — so a
// delivery retried after a crash/restart is still recognized as a duplicate
// or still-cooling-down entity, the same as it would have been had the
// process never restarted. As in idempotency.Store.Check, an empty dedup key
// skips both windows, and a dedup key that is not live is indexed before the
// cooldown stage runs (so it stays indexed even on a Cooldown decision).
// dedupTTL/cooldownTTL set how long the keys stay indexed.
func (s *Store) Enqueue(pe events.PendingEvent, dedupTTL, cooldownTTL time.Duration, now time.Time) (idempotency.Decision, error) {
	raw, err := json.Marshal(pe)
	if err != nil {
		return idempotency.Accept, fmt.Errorf("failed to marshal pending event %s: %w", pe.Envelope.ID, err)
	}

	nowEpoch := now.Unix()
	decision := idempotency.Accept

	err = s.db.Update(func(tx *bbolt.Tx) error {
		dedupBucket := tx.Bucket(bucketDedup)
		cooldownBucket := tx.Bucket(bucketCooldown)

		if pe.DedupKey != "" {
			if exp, ok := readExpiry(dedupBucket, pe.DedupKey); ok && exp > nowEpoch {
				decision = idempotency.Duplicate
				return nil
			}
			if err := dedupBucket.Put([]byte(pe.DedupKey), expiryValue(nowEpoch+int64(dedupTTL/time.Second))); err != nil {
				return fmt.Errorf("failed to index dedup key for %s: %w", pe.Envelope.ID, err)
			}
			if pe.CooldownKey != "" {
				if exp, ok := readExpiry(cooldownBucket, pe.CooldownKey); ok && exp > nowEpoch {
					decision = idempotency.Cooldown
					return nil
				}
				if err := cooldownBucket.Put([]byte(pe.CooldownKey), expiryValue(nowEpoch+int64(cooldownTTL/time.Second))); err != nil {
					return fmt.Errorf("failed to index cooldown key for %s: %w", pe.Envelope.ID, err)
				}
			}
		}

		if err := tx.Bucket(bucketPending).Put(pendingKey(pe.NextRetryAtEpoch, pe.Envelope.ID), raw); err != nil {
			return fmt.Errorf("failed to enqueue pending event %s: %w", pe.Envelope.ID, err)
		}
		return nil
	})
	if err != nil {
		return idempotency.Accept, err
	}
	return decision, nil
}

// PopDue scans the pending bucket in key order (oldest next-retry first) and
// removes up to max rows whose NextRetryAtEpoch has passed, returning them.
// Any due row is a valid pick; bbolt's btree iteration order (lexicographic
// on the big-endian-epoch-prefixed key) already gives the oldest-due rows
// first, so no secondary sort is required.
func (s *Store) PopDue(now time.Time, max int) ([]events.PendingEvent, error) {
	var due []events.PendingEvent
	var keysToDelete [][]byte

	if err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPending).Cursor()
		nowEpoch := now.Unix()
		for k, v := c.First(); k != nil && len(due) < max; k, v = c.Next() {
			if len(k) < 8 {
				continue
			}
			ts := int64(binary.BigEndian.Uint64(k[:8]))
			if ts > nowEpoch {
				break
			}
			var pe events.PendingEvent
			if err := json.Unmarshal(v, &pe); err != nil {
				return fmt.Errorf("failed to unmarshal pending row: %w", err)
			}
			due = append(due, pe)
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if len(keysToDelete) == 0 {
		return nil, nil
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		for _, k := range keysToDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete popped pending row: %w", err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return due, nil
}

// Requeue writes pe back into the pending bucket at its (presumably
// updated) NextRetryAtEpoch, for a retryable failure.
func (s *Store) Requeue(pe events.PendingEvent) error {
	raw, err := json.Marshal(pe)
	if err != nil {
		return fmt.Errorf("failed to marshal requeued event %s: %w", pe.Envelope.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketPending).Put(pendingKey(pe.NextRetryAtEpoch, pe.Envelope.ID), raw); err != nil {
			return fmt.Errorf("failed to requeue pending event %s: %w", pe.Envelope.ID, err)
		}
		return nil
	})
}

// MoveToDLQ writes de into the dead-letter bucket. The dedup/cooldown index
// entries for the original event are deliberately left in place: a later
// retry of the same delivery should still be recognized as a duplicate
// rather than re-enqueued and re-failed.
func (s *Store) MoveToDLQ(de events.DlqEvent) error {
	raw, err := json.Marshal(de)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq event %s: %w", de.PendingEvent.Envelope.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDLQ).Put([]byte(de.PendingEvent.Envelope.ID), raw); err != nil {
			return fmt.Errorf("failed to write dlq event %s: %w", de.PendingEvent.Envelope.ID, err)
		}
		return nil
	})
}

// ListDLQ returns every row currently in the dead-letter bucket.
func (s *Store) ListDLQ() ([]events.DlqEvent, error) {
	var out []events.DlqEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDLQ).ForEach(func(k, v []byte) error {
			var de events.DlqEvent
			if err := json.Unmarshal(v, &de); err != nil {
				return fmt.Errorf("failed to unmarshal dlq row %s: %w", k, err)
			}
			out = append(out, de)
			return nil
		})
	})
	return out, err
}

// Replay removes id from the dead-letter bucket and re-enqueues it for
// immediate delivery, incrementing its replay count and resetting its
// attempt counter.
func (s *Store) Replay(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dlqBucket := tx.Bucket(bucketDLQ)
		raw := dlqBucket.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("dlq event %s not found", id)
		}
		var de events.DlqEvent
		if err := json.Unmarshal(raw, &de); err != nil {
			return fmt.Errorf("failed to unmarshal dlq event %s: %w", id, err)
		}
		if err := dlqBucket.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete dlq event %s: %w", id, err)
		}

		de.ReplayCount++
		de.PendingEvent.Attempts = 0
		de.PendingEvent.NextRetryAtEpoch = time.Now().Unix()

		rePending, err := json.Marshal(de.PendingEvent)
		if err != nil {
			return fmt.Errorf("failed to marshal replayed event %s: %w", id, err)
		}
		key := pendingKey(de.PendingEvent.NextRetryAtEpoch, de.PendingEvent.Envelope.ID)
		if err := tx.Bucket(bucketPending).Put(key, rePending); err != nil {
			return fmt.Errorf("failed to re-enqueue replayed event %s: %w", id, err)
		}
		return nil
	})
}

// PendingCount reports the number of rows currently queued for delivery.
func (s *Store) PendingCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return count, err
}

// DlqCount reports the number of rows currently in the dead-letter queue.
func (s *Store) DlqCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketDLQ).Stats().KeyN
		return nil
	})
	return count, err
}

// HasDedupKey reports whether key is currently within its dedup window, per
// the durable index Enqueue maintains. Exposed for inspection/tests; the
// admission decision itself is made inside Enqueue's transaction, not here.
func (s *Store) HasDedupKey(key string, now time.Time) (bool, error) {
	if key == "" {
		return false, nil
	}
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		exp, ok := readExpiry(tx.Bucket(bucketDedup), key)
		found = ok && exp > now.Unix()
		return nil
	})
	return found, err
}

// HasCooldownKey reports whether key is currently within its cooldown
// window, per the durable index Enqueue maintains.
func (s *Store) HasCooldownKey(key string, now time.Time) (bool, error) {
	if key == "" {
		return false, nil
	}
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		exp, ok := readExpiry(tx.Bucket(bucketCooldown), key)
		found = ok && exp > now.Unix()
		return nil
	})
	return found, err
}
