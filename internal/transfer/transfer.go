package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plyfetch/plyfetch/internal/api"
	"github.com/plyfetch/plyfetch/internal/progress"
	"github.com/plyfetch/plyfetch/pkg/chunked"
)

// Fetcher fetches a single chunk of an artifact. *api.Client satisfies it.
type Fetcher interface {
	FetchChunk(ctx context.Context, jobID string, chunk chunked.Chunk) ([]byte, error)
}

// Options configures a transfer session.
type Options struct {
	// Concurrency bounds the number of simultaneously in-flight chunk
	// fetches. Default: 8
	Concurrency int

	// MaxRetries is the total number of attempts allowed per chunk before
	// the session fails. Default: 3
	MaxRetries int

	// RetryBackoff is the initial delay before a retry attempt.
	// Default: 500ms
	RetryBackoff time.Duration

	// RetryMaxBackoff caps the retry delay. Default: 10s
	RetryMaxBackoff time.Duration

	// SessionTimeout bounds the whole transfer's wall-clock time.
	// Zero means no session timeout.
	SessionTimeout time.Duration

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Log is an optional structured logger.
	Log *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = 10 * time.Second
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// TransferError is the single terminal error of a failed session. It carries
// the chunk that caused the failure and how many attempts it was given.
type TransferError struct {
	JobID    string
	Chunk    int
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	if e.Chunk < 0 {
		return fmt.Sprintf("transfer job %s: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("transfer job %s: chunk %d failed after %d attempt(s): %v",
		e.JobID, e.Chunk, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Stats summarizes a completed transfer session.
type Stats struct {
	// ChunkAttempts records how many fetch attempts each chunk index took.
	ChunkAttempts []int

	// BytesFetched is the total payload size written to the destination.
	BytesFetched int64

	// Retries is the number of transient failures absorbed by the retry
	// loop across all chunks.
	Retries int

	Elapsed time.Duration
}

type taskState int8

const (
	statePending taskState = iota
	stateInFlight
	stateDone
	stateFailed
)

type chunkTask struct {
	chunk    chunked.Chunk
	state    taskState
	attempts int
}

// workItem is what the coordinator hands a worker. It carries the attempt
// number by value: chunkTask fields belong to the coordinator and workers
// must not read them after the send.
type workItem struct {
	task    *chunkTask
	attempt int
}

type taskResult struct {
	task *chunkTask
	err  error
}

// Transfer fetches every chunk of manifest through fetcher and writes them
// into dest at their offsets. Completion order is irrelevant; the session
// succeeds only once every chunk is written and the destination's byte
// count verifies against the manifest.
//
// Transient chunk failures are retried with exponential backoff and jitter.
// A permanent failure, retry exhaustion, session timeout or cancellation
// aborts the session: in-flight fetches are cancelled and awaited, the
// destination is discarded and a single *TransferError is returned.
func Transfer(ctx context.Context, fetcher Fetcher, manifest chunked.Manifest, dest Destination, opts Options) (*Stats, error) {
	opts.applyDefaults()

	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	sessionID := uuid.NewString()
	log := opts.Log.With(
		zap.String("session_id", sessionID),
		zap.String("job_id", manifest.JobID),
	)
	log.Info("transfer started",
		zap.Int64("total_size", manifest.TotalSize),
		zap.Int("chunks", manifest.ChunkCount),
		zap.Int("concurrency", opts.Concurrency),
	)

	var tctx context.Context
	var cancel context.CancelFunc
	if opts.SessionTimeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, opts.SessionTimeout)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	tasks := make([]*chunkTask, manifest.ChunkCount)
	queue := make([]*chunkTask, 0, manifest.ChunkCount)
	for i, c := range manifest.Chunks() {
		tasks[i] = &chunkTask{chunk: c}
		queue = append(queue, tasks[i])
	}

	workCh := make(chan workItem)
	// Buffered so aborting workers never block on their final result.
	resultCh := make(chan taskResult, opts.Concurrency)

	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				resultCh <- runTask(tctx, fetcher, manifest.JobID, dest, item, opts)
			}
		}()
	}

	var (
		failure  error
		done     int
		inflight int
		retries  int
	)

	for done < len(tasks) {
		if failure == nil && tctx.Err() != nil {
			failure = &TransferError{JobID: manifest.JobID, Chunk: -1, Err: tctx.Err()}
		}
		if failure != nil && inflight == 0 {
			break
		}

		var sendCh chan workItem
		var next workItem
		if failure == nil && len(queue) > 0 {
			sendCh = workCh
			next = workItem{task: queue[0], attempt: queue[0].attempts + 1}
		}

		// Once aborting, only drain results; tctx.Done would otherwise
		// keep this select busy.
		doneCh := tctx.Done()
		if failure != nil {
			doneCh = nil
		}

		select {
		case sendCh <- next:
			queue = queue[1:]
			next.task.state = stateInFlight
			next.task.attempts = next.attempt
			inflight++

		case r := <-resultCh:
			inflight--
			task := r.task

			switch {
			case r.err == nil:
				task.state = stateDone
				done++

			case failure != nil || tctx.Err() != nil:
				// Already aborting; don't reschedule.
				task.state = stateFailed

			case api.Transient(r.err) && task.attempts < opts.MaxRetries:
				retries++
				task.state = statePending
				queue = append(queue, task)
				log.Warn("chunk fetch failed, retrying",
					zap.Int("chunk", task.chunk.Index),
					zap.Int("attempt", task.attempts),
					zap.Error(r.err),
				)

			default:
				task.state = stateFailed
				failure = &TransferError{
					JobID:    manifest.JobID,
					Chunk:    task.chunk.Index,
					Attempts: task.attempts,
					Err:      r.err,
				}
				cancel()

			}

		case <-doneCh:
			// Picked up at the top of the next iteration.
		}
	}

	close(workCh)
	cancel()
	wg.Wait()

	if failure != nil {
		if err := dest.Discard(); err != nil {
			log.Warn("discard partial destination", zap.Error(err))
		}
		log.Error("transfer failed", zap.Error(failure))
		return nil, failure
	}

	if err := dest.Complete(); err != nil {
		log.Error("transfer failed", zap.Error(err))
		return nil, err
	}

	stats := &Stats{
		ChunkAttempts: make([]int, len(tasks)),
		BytesFetched:  manifest.TotalSize,
		Retries:       retries,
		Elapsed:       time.Since(start),
	}
	for i, t := range tasks {
		stats.ChunkAttempts[i] = t.attempts
	}

	log.Info("transfer complete",
		zap.Int64("bytes", stats.BytesFetched),
		zap.Int("retries", stats.Retries),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

// runTask executes one fetch attempt for a chunk, writing the payload into
// the destination before reporting success.
func runTask(ctx context.Context, fetcher Fetcher, jobID string, dest Destination, item workItem, opts Options) taskResult {
	chunk := item.task.chunk

	// Retry attempts wait out the backoff inside the worker so other
	// chunks keep the remaining slots busy.
	if item.attempt > 1 {
		if err := backoff(ctx, opts, item.attempt-1); err != nil {
			return taskResult{task: item.task, err: err}
		}
	}

	if opts.Progress != nil {
		opts.Progress.ChunkStarted()
	}

	data, err := fetcher.FetchChunk(ctx, jobID, chunk)
	if err == nil {
		err = dest.WriteChunk(chunk, data)
	}

	if opts.Progress != nil {
		if err != nil {
			opts.Progress.ChunkFailed()
		} else {
			opts.Progress.ChunkCompleted(chunk.Length)
		}
	}

	return taskResult{task: item.task, err: err}
}

// backoff waits for an exponentially increasing duration with jitter.
func backoff(ctx context.Context, opts Options, retry int) error {
	d := opts.RetryBackoff * time.Duration(1<<uint(retry-1))
	if d > opts.RetryMaxBackoff || d <= 0 {
		d = opts.RetryMaxBackoff
	}

	// Jitter: 0.5 to 1.5 of the base delay.
	jittered := time.Duration(float64(d) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jittered):
		return nil
	}
}

// IsTerminal reports whether err is a transfer's terminal failure rather
// than a validation or reassembly error.
func IsTerminal(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
