package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hotspotbill/backend/internal/metrics"
	"github.com/vmihailenco/msgpack"
	"go.etcd.io/bbolt"
)

// Kind names a router change that can be replayed
type Kind string

const (
	KindProfileSync        Kind = "profile.sync"
	KindProfileDelete      Kind = "profile.delete"
	KindVoucherSync        Kind = "voucher.sync"
	KindVoucherDelete      Kind = "voucher.delete"
	KindSubscriptionSync   Kind = "subscription.sync"
	KindSubscriptionDelete Kind = "subscription.delete"
	KindKickHotspot        Kind = "kick.hotspot"
	KindKickPPP            Kind = "kick.ppp"
)

// Job is a router change that failed and waits for another attempt.
// Name carries the router-side name so deletes work after the row is gone.
type Job struct {
	ID          string    `msgpack:"id" json:"id"`
	Kind        Kind      `msgpack:"kind" json:"kind"`
	EntityID    uint      `msgpack:"entity_id" json:"entity_id"`
	RouterID    uint      `msgpack:"router_id" json:"router_id"`
	Name        string    `msgpack:"name" json:"name"`
	ProfileType string    `msgpack:"profile_type" json:"profile_type,omitempty"`
	Attempts    int       `msgpack:"attempts" json:"attempts"`
	NextAttempt time.Time `msgpack:"next_attempt" json:"next_attempt"`
	LastError   string    `msgpack:"last_error" json:"last_error"`
	CreatedAt   time.Time `msgpack:"created_at" json:"created_at"`
}

// Key identifies the entity a job acts on. A newer job for the same entity
// replaces the older one, so a delete supersedes a pending sync.
func (j Job) Key() string {
	switch j.Kind {
	case KindProfileSync, KindProfileDelete:
		return fmt.Sprintf("profile:%d", j.EntityID)
	case KindVoucherSync, KindVoucherDelete:
		return fmt.Sprintf("voucher:%d", j.EntityID)
	case KindSubscriptionSync, KindSubscriptionDelete:
		return fmt.Sprintf("subscription:%d", j.EntityID)
	default:
		return fmt.Sprintf("%s:%d:%s", j.Kind, j.RouterID, j.Name)
	}
}

var jobsBucket = []byte("jobs")

// Queue is a durable job store backed by a bbolt file
type Queue struct {
	db *bbolt.DB
}

// OpenQueue opens or creates the queue file at path
func OpenQueue(path string) (*Queue, error) {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		path = abs
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	q := &Queue{db: db}
	q.report()
	return q, nil
}

// Close closes the queue file
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue stores jobs, replacing pending jobs for the same entities
func (q *Queue) Enqueue(jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	now := time.Now()
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(jobsBucket)
		for _, j := range jobs {
			if j.ID == "" {
				j.ID = uuid.NewString()
			}
			if j.CreatedAt.IsZero() {
				j.CreatedAt = now
			}
			if j.NextAttempt.IsZero() {
				j.NextAttempt = now
			}
			data, err := msgpack.Marshal(&j)
			if err != nil {
				return err
			}
			if err := bkt.Put([]byte(j.Key()), data); err != nil {
				return err
			}
		}
		return nil
	})
	q.report()
	return err
}

// Finish removes j once it has been replayed. A job enqueued for the same
// entity while j was running is kept. It reports whether j was removed.
func (q *Queue) Finish(j Job) (bool, error) {
	return q.swap(j, false)
}

// Reschedule rewrites j after a failed attempt, unless a newer job for the
// same entity replaced it meanwhile
func (q *Queue) Reschedule(j Job) (bool, error) {
	return q.swap(j, true)
}

// swap touches the stored job only while it is still j
func (q *Queue) swap(j Job, keep bool) (bool, error) {
	key := []byte(j.Key())
	current := false
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(jobsBucket)
		data := bkt.Get(key)
		if data == nil {
			return nil
		}
		var stored Job
		if err := msgpack.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("decode job %s: %w", key, err)
		}
		if stored.ID != j.ID {
			return nil
		}
		current = true
		if !keep {
			return bkt.Delete(key)
		}
		data, err := msgpack.Marshal(&j)
		if err != nil {
			return err
		}
		return bkt.Put(key, data)
	})
	q.report()
	return current && err == nil, err
}

// Remove deletes the jobs stored under keys
func (q *Queue) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(jobsBucket)
		for _, k := range keys {
			if err := bkt.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	q.report()
	return err
}

// Cancel drops any pending job for an entity of the given kind
func (q *Queue) Cancel(kind Kind, entityID uint) error {
	return q.Remove(Job{Kind: kind, EntityID: entityID}.Key())
}

// Due returns up to limit jobs whose next attempt is not after now, oldest first
func (q *Queue) Due(now time.Time, limit int) ([]Job, error) {
	all, err := q.List()
	if err != nil {
		return nil, err
	}
	due := all[:0]
	for _, j := range all {
		if !j.NextAttempt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextAttempt.Before(due[k].NextAttempt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// List returns every pending job
func (q *Queue) List() ([]Job, error) {
	var jobs []Job
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			var j Job
			if err := msgpack.Unmarshal(v, &j); err != nil {
				return fmt.Errorf("decode job %s: %w", k, err)
			}
			jobs = append(jobs, j)
			return nil
		})
	})
	return jobs, err
}

// Get returns the job stored under key
func (q *Queue) Get(key string) (Job, error) {
	var j Job
	err := q.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get([]byte(key))
		if data == nil {
			return ErrJobNotFound
		}
		return msgpack.Unmarshal(data, &j)
	})
	return j, err
}

// Len returns the number of pending jobs
func (q *Queue) Len() int {
	n := 0
	q.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(jobsBucket).Stats().KeyN
		return nil
	})
	return n
}

func (q *Queue) report() {
	metrics.QueueDepth.Set(float64(q.Len()))
}

// ErrJobNotFound is returned by Get for an unknown key
var ErrJobNotFound = errors.New("provision: job not found")
