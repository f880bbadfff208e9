package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/redmonkez12/go-auth-api/internal/logging"
)

// job is the queued form of a message.
type job struct {
	Message    Message   `json:"message"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// DeadLetterKey is where messages go after exhausting their attempts.
func DeadLetterKey(queue string) string {
	return queue + ":dead"
}

// QueueSender pushes messages onto a Redis list for a Worker to deliver.
// Send succeeds once the message is queued.
type QueueSender struct {
	client redis.Cmdable
	queue  string
}

func NewQueueSender(client redis.Cmdable, queue string) *QueueSender {
	return &QueueSender{client: client, queue: queue}
}

func (q *QueueSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(job{Message: msg, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// Worker delivers queued messages through a Sender, retrying each with
// exponential backoff.
type Worker struct {
	client      redis.Cmdable
	queue       string
	sender      Sender
	maxAttempts int
	backoff     time.Duration
	poll        time.Duration
	logger      *logging.Logger
}

type WorkerOption func(*Worker)

// WithBackoff sets the delay before the first retry. It doubles per attempt.
func WithBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) { w.backoff = d }
}

// WithPollTimeout bounds each blocking pop so cancellation is noticed.
func WithPollTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.poll = d }
}

func NewWorker(client redis.Cmdable, queue string, sender Sender, maxAttempts int, logger *logging.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		client:      client,
		queue:       queue,
		sender:      sender,
		maxAttempts: max(maxAttempts, 1),
		backoff:     time.Second,
		poll:        time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run delivers messages until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("email worker started", "queue", w.queue)
	defer w.logger.Info("email worker stopped", "queue", w.queue)

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := w.client.BRPop(ctx, w.poll, w.queue).Result()
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case ctx.Err() != nil:
				return nil
			}
			w.logger.Error("failed to pop email job", "error", err)
			if !sleep(ctx, w.poll) {
				return nil
			}
			continue
		}

		// res is [key, value]
		w.process(ctx, res[1])
	}
}

func (w *Worker) process(ctx context.Context, payload string) {
	var j job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		w.logger.Error("dropping malformed email job", "error", err)
		return
	}

	logger := w.logger.WithFields(map[string]any{"to": j.Message.To, "subject": j.Message.Subject})

	backoff := retry.WithMaxRetries(uint64(w.maxAttempts-1), retry.NewExponential(w.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		j.Attempts++
		if err := w.sender.Send(ctx, j.Message); err != nil {
			logger.Warn("email delivery attempt failed", "attempt", j.Attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		logger.Info("email delivered", "attempts", j.Attempts)
		return
	}

	if ctx.Err() != nil {
		// back to the consuming end so it is delivered next
		w.push(context.WithoutCancel(ctx), w.queue, j, true, logger)
		return
	}

	j.LastError = err.Error()
	logger.Error("email delivery failed, moving to dead letter queue", "attempts", j.Attempts, "error", err)
	w.push(ctx, DeadLetterKey(w.queue), j, false, logger)
}

func (w *Worker) push(ctx context.Context, key string, j job, front bool, logger *logging.Logger) {
	payload, err := json.Marshal(j)
	if err != nil {
		logger.Error("failed to encode email job", "error", err)
		return
	}

	var cmd *redis.IntCmd
	if front {
		cmd = w.client.RPush(ctx, key, payload)
	} else {
		cmd = w.client.LPush(ctx, key, payload)
	}
	if err := cmd.Err(); err != nil {
		logger.Error("failed to push email job", "key", key, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
