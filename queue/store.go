package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v3"
)

// ErrNoJob is returned by Claim when no eligible job is pending.
var ErrNoJob = errors.New("queue: no eligible job")

// maxClaimSkips bounds how many delayed entries a single claim scan will
// step over before giving up for this poll.
const maxClaimSkips = 128

// claimRetries bounds transaction conflict retries when multiple workers
// race for the head of a lane.
const claimRetries = 3

// StoreOptions configure the backing badger database.
type StoreOptions struct {
	// Path is the on-disk location of the database. Ignored when InMemory
	// is set.
	Path string

	// InMemory keeps all state in memory. Used by tests.
	InMemory bool

	Logger *slog.Logger
}

// Store persists jobs in badger and hands them out with transactional
// claims. All methods are safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	mutex sync.Mutex
	seqs  map[string]*badger.Sequence
}

// OpenStore opens or creates the job database.
func OpenStore(opts StoreOptions) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
		seqs:   map[string]*badger.Sequence{},
	}, nil
}

// Close releases sequences and closes the database.
func (s *Store) Close() error {
	for _, seq := range s.seqs {
		_ = seq.Release()
	}
	return s.db.Close()
}

func (s *Store) nextSeq(lane string) (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	seq, ok := s.seqs[lane]
	if !ok {
		var err error
		seq, err = s.db.GetSequence(sequenceKey(lane), 64)
		if err != nil {
			return 0, err
		}
		s.seqs[lane] = seq
	}
	return seq.Next()
}

// Enqueue writes a job into its lane's pending set.
func (s *Store) Enqueue(job *Job) error {
	seq, err := s.nextSeq(job.Lane)
	if err != nil {
		return fmt.Errorf("failed to allocate job sequence: %w", err)
	}
	value, err := job.toBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	key := pendingKey(job.Lane, job.Options.Priority, job.EligibleAt.UnixNano(), seq)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim removes the highest-priority eligible pending job from a lane and
// marks it claimed, atomically. At most one caller wins any given job.
// Returns ErrNoJob when the lane is paused or nothing is eligible.
func (s *Store) Claim(lane string) (*Job, error) {
	var claimed *Job
	for attempt := 0; attempt < claimRetries; attempt++ {
		claimed = nil
		err := s.db.Update(func(txn *badger.Txn) error {
			if lanePaused(txn, lane) {
				return ErrNoJob
			}
			key, job, err := nextEligible(txn, lane)
			if err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			value, err := job.toBytes()
			if err != nil {
				return err
			}
			if err := txn.Set(claimedKey(lane, job.ID), value); err != nil {
				return err
			}
			claimed = job
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}
	return nil, ErrNoJob
}

func lanePaused(txn *badger.Txn, lane string) bool {
	_, err := txn.Get(pausedKey(lane))
	return err == nil
}

// nextEligible walks the pending prefix in key order and returns the first
// entry whose eligible time has passed. Entries that are still delayed are
// skipped without consuming them.
func nextEligible(txn *badger.Txn, lane string) ([]byte, *Job, error) {
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         pendingPrefix(lane),
		PrefetchValues: true,
		PrefetchSize:   16,
	})
	defer it.Close()

	now := time.Now()
	skips := 0
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}
		job, err := jobFromBytes(value)
		if err != nil {
			return nil, nil, err
		}
		if job.EligibleAt.After(now) {
			skips++
			if skips >= maxClaimSkips {
				break
			}
			continue
		}
		return item.KeyCopy(nil), job, nil
	}
	return nil, nil, ErrNoJob
}

// Complete removes a job's claim and archives it, or drops it entirely
// when RemoveOnComplete is set.
func (s *Store) Complete(job *Job) error {
	job.ProcessedAt = time.Now()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(claimedKey(job.Lane, job.ID)); err != nil {
			return err
		}
		if job.Options.RemoveOnComplete {
			return nil
		}
		value, err := job.toBytes()
		if err != nil {
			return err
		}
		return txn.Set(doneKey(job.Lane, job.ID), value)
	})
}

// Retry releases a failed job's claim and re-enqueues it with a new
// eligible time. The caller is expected to have bumped Attempts and set
// LastError.
func (s *Store) Retry(job *Job, delay time.Duration) error {
	job.EligibleAt = time.Now().Add(delay)
	seq, err := s.nextSeq(job.Lane)
	if err != nil {
		return err
	}
	value, err := job.toBytes()
	if err != nil {
		return err
	}
	key := pendingKey(job.Lane, job.Options.Priority, job.EligibleAt.UnixNano(), seq)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(claimedKey(job.Lane, job.ID)); err != nil {
			return err
		}
		return txn.Set(key, value)
	})
}

// DeadLetter moves a job that exhausted its attempts out of rotation, or
// drops it when RemoveOnFail is set.
func (s *Store) DeadLetter(job *Job) error {
	job.FailedAt = time.Now()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(claimedKey(job.Lane, job.ID)); err != nil {
			return err
		}
		if job.Options.RemoveOnFail {
			return nil
		}
		value, err := job.toBytes()
		if err != nil {
			return err
		}
		return txn.Set(deadKey(job.Lane, job.ID), value)
	})
}

// Pause stops a lane from handing out claims. Jobs already claimed are
// unaffected and run to completion.
func (s *Store) Pause(lane string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pausedKey(lane), []byte{1})
	})
}

// Resume re-enables claiming on a paused lane.
func (s *Store) Resume(lane string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(pausedKey(lane))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Paused reports whether a lane is currently paused.
func (s *Store) Paused(lane string) (bool, error) {
	paused := false
	err := s.db.View(func(txn *badger.Txn) error {
		paused = lanePaused(txn, lane)
		return nil
	})
	return paused, err
}

// Stats summarize a lane's job populations.
type Stats struct {
	Pending int  `json:"pending"`
	Claimed int  `json:"claimed"`
	Done    int  `json:"done"`
	Dead    int  `json:"dead"`
	Paused  bool `json:"paused"`
}

// Stats counts the jobs in each state of a lane.
func (s *Store) Stats(lane string) (Stats, error) {
	var stats Stats
	err := s.db.View(func(txn *badger.Txn) error {
		stats.Pending = countPrefix(txn, pendingPrefix(lane))
		stats.Claimed = countPrefix(txn, claimedPrefix(lane))
		stats.Done = countPrefix(txn, donePrefix(lane))
		stats.Dead = countPrefix(txn, deadPrefix(lane))
		stats.Paused = lanePaused(txn, lane)
		return nil
	})
	return stats, err
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         prefix,
		PrefetchValues: false,
	})
	defer it.Close()
	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		count++
	}
	return count
}

// DeadLetters returns the jobs dead-lettered on a lane.
func (s *Store) DeadLetters(lane string) ([]*Job, error) {
	var jobs []*Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         deadPrefix(lane),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			job, err := jobFromBytes(value)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}
