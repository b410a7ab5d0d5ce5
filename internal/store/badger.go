package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dgraph-io/badger/v4"

	"github.com/book-expert/transcription-service/internal/cache"
	"github.com/book-expert/transcription-service/internal/core"
)

// Key layout:
//
//	job:<jobId>                                        -> jobRecord
//	chunk:<jobId>:<sequence, 10-digit zero-padded>      -> chunkRecord
//	chunkidx:<chunkId>                                  -> "<jobId>:<sequence>"
//	jobsbyuser:<userId>:<invertedNano20>:<jobId>         -> jobId
//	jobsbystatus:<status>:<invertedNano20>:<jobId>       -> jobId
//
// Inverted timestamps (math.MaxInt64 - UnixNano, zero-padded to 20 digits)
// make a forward prefix scan yield descending-by-createdAt order, since
// Badger iterates keys in lexicographic order.
const (
	prefixJob          = "job:"
	prefixChunk        = "chunk:"
	prefixChunkIndex   = "chunkidx:"
	prefixJobsByUser   = "jobsbyuser:"
	prefixJobsByStatus = "jobsbystatus:"
)

// BadgerRepository is the default, embedded Repository backend.
type BadgerRepository struct {
	db    *badger.DB
	exist *bloom.BloomFilter
	cache *cache.JobCache
}

// BadgerConfig configures BadgerRepository.
type BadgerConfig struct {
	Path        string
	BloomSize   uint
	BloomFPRate float64
}

// DefaultBadgerConfig returns sensible defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:        path,
		BloomSize:   1_000_000,
		BloomFPRate: 0.01,
	}
}

// NewBadgerRepository opens (creating if necessary) a BadgerDB directory at
// cfg.Path and returns a Repository backed by it. A bloom filter over job
// ids is rebuilt from the store's existing keys, giving CreateJob a cheap
// negative pre-check: when the filter reports a job id as definitely
// absent, the existence check can skip straight to the insert instead of
// round-tripping through Badger first.
func NewBadgerRepository(cfg BadgerConfig) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	filter := bloom.NewWithEstimates(cfg.BloomSize, cfg.BloomFPRate)

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixJob)})
		defer it.Close()

		for it.Seek([]byte(prefixJob)); it.ValidForPrefix([]byte(prefixJob)); it.Next() {
			key := it.Item().KeyCopy(nil)
			filter.Add(key)
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rebuild bloom filter: %w", err)
	}

	return &BadgerRepository{db: db, exist: filter, cache: cache.New(cache.DefaultConfig())}, nil
}

// Close implements Repository.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

// jobRecord is the on-disk encoding of core.Job.
type jobRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Status         string     `json:"status"`
	TranscriptText string     `json:"transcriptText"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

func toJobRecord(j core.Job) jobRecord {
	return jobRecord{
		ID:             j.ID,
		UserID:         j.UserID,
		Status:         string(j.Status),
		TranscriptText: j.TranscriptText,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func (rec jobRecord) toCore() core.Job {
	return core.Job{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Status:         core.JobStatus(rec.Status),
		TranscriptText: rec.TranscriptText,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		CompletedAt:    rec.CompletedAt,
	}
}

// chunkRecord is the on-disk encoding of core.AudioChunk.
type chunkRecord struct {
	ID             string    `json:"id"`
	JobID          string    `json:"jobId"`
	Sequence       int       `json:"sequence"`
	AudioPath      string    `json:"audioPath"`
	Status         string    `json:"status"`
	TranscriptText string    `json:"transcriptText"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toChunkRecord(c core.AudioChunk) chunkRecord {
	return chunkRecord{
		ID:             c.ID,
		JobID:          c.JobID,
		Sequence:       c.Sequence,
		AudioPath:      c.AudioPath,
		Status:         string(c.Status),
		TranscriptText: c.TranscriptText,
		Attempts:       c.Attempts,
		LastError:      c.LastError,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (rec chunkRecord) toCore() core.AudioChunk {
	return core.AudioChunk{
		ID:             rec.ID,
		JobID:          rec.JobID,
		Sequence:       rec.Sequence,
		AudioPath:      rec.AudioPath,
		Status:         core.ChunkStatus(rec.Status),
		TranscriptText: rec.TranscriptText,
		Attempts:       rec.Attempts,
		LastError:      rec.LastError,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func jobKey(jobID string) []byte {
	return []byte(prefixJob + jobID)
}

func chunkKeyPrefix(jobID string) []byte {
	return []byte(prefixChunk + jobID + ":")
}

func chunkKey(jobID string, sequence int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", prefixChunk, jobID, sequence))
}

func chunkIndexKey(chunkID string) []byte {
	return []byte(prefixChunkIndex + chunkID)
}

// invertedTimestamp maps t so that a lexicographic ascending scan visits
// newer timestamps first.
func invertedTimestamp(t time.Time) string {
	inverted := uint64(math.MaxInt64 - t.UnixNano())
	return fmt.Sprintf("%020d", inverted)
}

func jobsByUserKey(userID string, createdAt time.Time, jobID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixJobsByUser, userID, invertedTimestamp(createdAt), jobID))
}

func jobsByUserPrefix(userID string) []byte {
	return []byte(prefixJobsByUser + userID + ":")
}

func jobsByStatusKey(status core.JobStatus, createdAt time.Time, jobID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixJobsByStatus, status, invertedTimestamp(createdAt), jobID))
}

func jobsByStatusPrefix(status core.JobStatus) []byte {
	return []byte(prefixJobsByStatus + string(status) + ":")
}

// CreateJob implements Repository.
func (r *BadgerRepository) CreateJob(_ context.Context, job core.Job, chunks []core.AudioChunk) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		key := jobKey(job.ID)

		if r.exist.Test(key) {
			_, err := txn.Get(key)
			if err == nil {
				return ErrJobExists
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
		}

		jobBytes, err := json.Marshal(toJobRecord(job))
		if err != nil {
			return err
		}

		if err := txn.Set(key, jobBytes); err != nil {
			return err
		}

		if err := txn.Set(jobsByUserKey(job.UserID, job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
			return err
		}

		if err := txn.Set(jobsByStatusKey(job.Status, job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
			return err
		}

		for _, chunk := range chunks {
			chunkBytes, err := json.Marshal(toChunkRecord(chunk))
			if err != nil {
				return err
			}

			if err := txn.Set(chunkKey(chunk.JobID, chunk.Sequence), chunkBytes); err != nil {
				return err
			}

			idx := []byte(fmt.Sprintf("%s:%010d", chunk.JobID, chunk.Sequence))
			if err := txn.Set(chunkIndexKey(chunk.ID), idx); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.exist.Add(jobKey(job.ID))

	return nil
}

// GetJobWithChunks implements Repository.
func (r *BadgerRepository) GetJobWithChunks(_ context.Context, jobID string) (*core.JobWithChunks, error) {
	if cached, ok := r.cache.Get(jobID); ok {
		return &cached, nil
	}

	var result core.JobWithChunks

	err := r.db.View(func(txn *badger.Txn) error {
		job, err := getJob(txn, jobID)
		if err != nil {
			return err
		}

		chunks, err := getChunksForJob(txn, jobID)
		if err != nil {
			return err
		}

		result = core.JobWithChunks{Job: job, Chunks: chunks}

		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Set(jobID, result)

	return &result, nil
}

func getJob(txn *badger.Txn, jobID string) (core.Job, error) {
	item, err := txn.Get(jobKey(jobID))
	if err == badger.ErrKeyNotFound {
		return core.Job{}, ErrJobNotFound
	}
	if err != nil {
		return core.Job{}, err
	}

	var rec jobRecord

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return core.Job{}, err
	}

	return rec.toCore(), nil
}

func getChunksForJob(txn *badger.Txn, jobID string) ([]core.AudioChunk, error) {
	prefix := chunkKeyPrefix(jobID)

	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var chunks []core.AudioChunk

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var rec chunkRecord

		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, rec.toCore())
	}

	return chunks, nil
}

// UpdateJobStatus implements Repository.
func (r *BadgerRepository) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status core.JobStatus,
	completedAt *time.Time,
	transcriptText *string,
) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		job, err := getJob(txn, jobID)
		if err != nil {
			return err
		}

		oldStatusKey := jobsByStatusKey(job.Status, job.CreatedAt, job.ID)

		job.Status = status
		job.UpdatedAt = time.Now().UTC()

		if completedAt != nil {
			job.CompletedAt = completedAt
		}

		if transcriptText != nil {
			job.TranscriptText = *transcriptText
		}

		jobBytes, err := json.Marshal(toJobRecord(job))
		if err != nil {
			return err
		}

		if err := txn.Set(jobKey(job.ID), jobBytes); err != nil {
			return err
		}

		if err := txn.Delete(oldStatusKey); err != nil && err != badger.ErrKeyNotFound {
			return err
		}

		return txn.Set(jobsByStatusKey(job.Status, job.CreatedAt, job.ID), []byte(job.ID))
	})
	if err != nil {
		return err
	}

	r.cache.Invalidate(jobID)

	return nil
}

// ListChunkIDsForJob implements Repository.
func (r *BadgerRepository) ListChunkIDsForJob(_ context.Context, jobID string) ([]string, error) {
	var ids []string

	err := r.db.View(func(txn *badger.Txn) error {
		chunks, err := getChunksForJob(txn, jobID)
		if err != nil {
			return err
		}

		for _, c := range chunks {
			ids = append(ids, c.ID)
		}

		return nil
	})

	return ids, err
}

func resolveChunkLocation(txn *badger.Txn, chunkID string) (jobID string, sequence int, err error) {
	item, err := txn.Get(chunkIndexKey(chunkID))
	if err == badger.ErrKeyNotFound {
		return "", 0, ErrChunkNotFound
	}
	if err != nil {
		return "", 0, err
	}

	var raw []byte

	err = item.Value(func(val []byte) error {
		raw = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("corrupt chunk index for %s", chunkID)
	}

	seq, err := parseSequence(parts[1])
	if err != nil {
		return "", 0, err
	}

	return parts[0], seq, nil
}

func parseSequence(s string) (int, error) {
	var seq int

	_, err := fmt.Sscanf(s, "%d", &seq)

	return seq, err
}

func getChunkByLocation(txn *badger.Txn, jobID string, sequence int) (core.AudioChunk, error) {
	item, err := txn.Get(chunkKey(jobID, sequence))
	if err == badger.ErrKeyNotFound {
		return core.AudioChunk{}, ErrChunkNotFound
	}
	if err != nil {
		return core.AudioChunk{}, err
	}

	var rec chunkRecord

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return core.AudioChunk{}, err
	}

	return rec.toCore(), nil
}

func putChunk(txn *badger.Txn, chunk core.AudioChunk) error {
	chunkBytes, err := json.Marshal(toChunkRecord(chunk))
	if err != nil {
		return err
	}

	return txn.Set(chunkKey(chunk.JobID, chunk.Sequence), chunkBytes)
}

// GetChunk implements Repository.
func (r *BadgerRepository) GetChunk(_ context.Context, chunkID string) (*core.AudioChunk, error) {
	var chunk core.AudioChunk

	err := r.db.View(func(txn *badger.Txn) error {
		jobID, sequence, err := resolveChunkLocation(txn, chunkID)
		if err != nil {
			return err
		}

		chunk, err = getChunkByLocation(txn, jobID, sequence)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &chunk, nil
}

// UpdateChunk implements Repository.
func (r *BadgerRepository) UpdateChunk(_ context.Context, chunkID string, fields ChunkFields) error {
	var jobID string

	err := r.db.Update(func(txn *badger.Txn) error {
		var sequence int

		var err error

		jobID, sequence, err = resolveChunkLocation(txn, chunkID)
		if err != nil {
			return err
		}

		chunk, err := getChunkByLocation(txn, jobID, sequence)
		if err != nil {
			return err
		}

		if fields.SetStatus {
			chunk.Status = fields.Status
		}

		if fields.SetTranscriptText {
			chunk.TranscriptText = fields.TranscriptText
		}

		if fields.SetLastError {
			chunk.LastError = fields.LastError
		}

		chunk.UpdatedAt = time.Now().UTC()

		return putChunk(txn, chunk)
	})
	if err != nil {
		return err
	}

	r.cache.Invalidate(jobID)

	return nil
}

// ClaimChunk implements Repository. It is the single conditional-transition
// serialization point: COMPLETED/PERMANENT_FAILURE short-circuit with no
// mutation, anything else moves to IN_PROGRESS with Attempts incremented
// and LastError cleared, all inside one transaction.
func (r *BadgerRepository) ClaimChunk(_ context.Context, chunkID string) (ClaimResult, error) {
	var result ClaimResult

	var ownerJobID string

	err := r.db.Update(func(txn *badger.Txn) error {
		jobID, sequence, err := resolveChunkLocation(txn, chunkID)
		if err != nil {
			return err
		}

		ownerJobID = jobID

		chunk, err := getChunkByLocation(txn, jobID, sequence)
		if err != nil {
			return err
		}

		switch chunk.Status {
		case core.ChunkCompleted:
			result = ClaimResult{State: ClaimAlreadyCompleted, AudioPath: chunk.AudioPath, Attempts: chunk.Attempts}
			return nil
		case core.ChunkPermanentFailure:
			result = ClaimResult{State: ClaimAlreadyFailed, AudioPath: chunk.AudioPath, Attempts: chunk.Attempts}
			return nil
		}

		chunk.Status = core.ChunkInProgress
		chunk.Attempts++
		chunk.LastError = nil
		chunk.UpdatedAt = time.Now().UTC()

		if err := putChunk(txn, chunk); err != nil {
			return err
		}

		result = ClaimResult{State: ClaimAcquired, AudioPath: chunk.AudioPath, Attempts: chunk.Attempts}

		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}

	r.cache.Invalidate(ownerJobID)

	return result, nil
}

// ResetInProgressChunks implements Repository.
func (r *BadgerRepository) ResetInProgressChunks(_ context.Context) (int, error) {
	reset := 0

	var touchedJobs []string

	err := r.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixChunk)})
		defer it.Close()

		var toReset []chunkRecord

		for it.Seek([]byte(prefixChunk)); it.ValidForPrefix([]byte(prefixChunk)); it.Next() {
			var rec chunkRecord

			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}

			if rec.Status == string(core.ChunkInProgress) {
				toReset = append(toReset, rec)
			}
		}

		for _, rec := range toReset {
			rec.Status = string(core.ChunkPending)
			rec.UpdatedAt = time.Now().UTC()

			chunkBytes, err := json.Marshal(rec)
			if err != nil {
				return err
			}

			if err := txn.Set(chunkKey(rec.JobID, rec.Sequence), chunkBytes); err != nil {
				return err
			}

			reset++

			touchedJobs = append(touchedJobs, rec.JobID)
		}

		return nil
	})
	if err != nil {
		return reset, err
	}

	for _, jobID := range touchedJobs {
		r.cache.Invalidate(jobID)
	}

	return reset, nil
}

// ListNonTerminalJobIDs implements Repository.
func (r *BadgerRepository) ListNonTerminalJobIDs(_ context.Context) ([]string, error) {
	var ids []string

	err := r.db.View(func(txn *badger.Txn) error {
		for _, status := range []core.JobStatus{core.JobQueued, core.JobInProgress} {
			prefix := jobsByStatusPrefix(status)

			it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				err := it.Item().Value(func(val []byte) error {
					ids = append(ids, string(val))
					return nil
				})
				if err != nil {
					it.Close()
					return err
				}
			}

			it.Close()
		}

		return nil
	})

	return ids, err
}

// SearchJobs implements Repository.
func (r *BadgerRepository) SearchJobs(_ context.Context, filter SearchFilter) ([]core.JobWithChunks, error) {
	var results []core.JobWithChunks

	err := r.db.View(func(txn *badger.Txn) error {
		var prefix []byte

		switch {
		case filter.UserID != nil:
			prefix = jobsByUserPrefix(*filter.UserID)
		case filter.Status != nil:
			prefix = jobsByStatusPrefix(*filter.Status)
		default:
			prefix = []byte(prefixJob)
		}

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		seen := make(map[string]bool)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var jobID string

			if bytes.HasPrefix(prefix, []byte(prefixJob)) {
				jobID = strings.TrimPrefix(string(it.Item().KeyCopy(nil)), prefixJob)
			} else {
				err := it.Item().Value(func(val []byte) error {
					jobID = string(val)
					return nil
				})
				if err != nil {
					return err
				}
			}

			if seen[jobID] {
				continue
			}

			seen[jobID] = true

			job, err := getJob(txn, jobID)
			if err != nil {
				return err
			}

			if filter.Status != nil && job.Status != *filter.Status {
				continue
			}

			if filter.UserID != nil && job.UserID != *filter.UserID {
				continue
			}

			chunks, err := getChunksForJob(txn, jobID)
			if err != nil {
				return err
			}

			results = append(results, core.JobWithChunks{Job: job, Chunks: chunks})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if filter.UserID == nil && filter.Status == nil {
		sortJobsByCreatedAtDesc(results)
	}

	return results, nil
}

func sortJobsByCreatedAtDesc(results []core.JobWithChunks) {
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && results[j-1].Job.CreatedAt.Before(results[j].Job.CreatedAt) {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
}
