// Package outbox publishes audit outbox rows to Kafka.
//
// Delivery is at least once: rows are locked with SKIP LOCKED, published,
// then marked in the same transaction. A crash between publish and commit
// republishes the batch; the consumer de-duplicates on event ID.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"paygate/internal/platform/kafka/producer"
	audit "paygate/pkg/platform/audit"
	auditpostgres "paygate/pkg/platform/audit/store/postgres"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Publisher is the Kafka side of the worker.
type Publisher interface {
	PublishSync(ctx context.Context, msgs ...producer.Message) error
}

// Topics maps audit categories to Kafka topics. Categories without an entry
// go to Default.
type Topics struct {
	Default  string
	Security string
}

func (t Topics) forCategory(category audit.EventCategory) string {
	if category == audit.CategorySecurity && t.Security != "" {
		return t.Security
	}
	return t.Default
}

// All lists the distinct configured topics.
func (t Topics) All() []string {
	if t.Security == "" || t.Security == t.Default {
		return []string{t.Default}
	}
	return []string{t.Default, t.Security}
}

// Worker polls the outbox and publishes pending rows.
type Worker struct {
	db           *sql.DB
	publisher    Publisher
	topics       Topics
	batchSize    int
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *Metrics
}

// Option configures the Worker.
type Option func(*Worker)

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// New constructs an outbox worker.
func New(db *sql.DB, publisher Publisher, topics Topics, opts ...Option) (*Worker, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topics.Default == "" {
		return nil, fmt.Errorf("default topic is required")
	}
	w := &Worker{
		db:           db,
		publisher:    publisher,
		topics:       topics,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run publishes batches until ctx is cancelled. A full batch is followed
// immediately by the next one; otherwise the worker sleeps one interval.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		n, err := w.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.ErrorContext(ctx, "outbox batch failed", "error", err)
		}
		if n == w.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch publishes up to one batch and returns how many rows it marked.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		SELECT id, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, query, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select outbox rows: %w", err)
	}

	var (
		ids  []string
		msgs []producer.Message
	)
	for rows.Next() {
		var (
			id, aggregateID string
			payload         []byte
		)
		if err := rows.Scan(&id, &aggregateID, &payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		var p auditpostgres.Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			w.logger.ErrorContext(ctx, "CRITICAL: undecodable outbox payload, marking published",
				"outbox_id", id,
				"error", err,
			)
			ids = append(ids, id)
			continue
		}
		ids = append(ids, id)
		msgs = append(msgs, producer.Message{
			Topic: w.topics.forCategory(audit.EventCategory(p.Category)),
			Key:   []byte(aggregateID),
			Value: payload,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if len(msgs) > 0 {
		if err := w.publisher.PublishSync(ctx, msgs...); err != nil {
			if w.metrics != nil {
				w.metrics.IncPublishFailures()
			}
			return 0, fmt.Errorf("publish outbox batch: %w", err)
		}
	}

	mark := `UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`
	if _, err := tx.ExecContext(ctx, mark, time.Now(), pq.Array(ids)); err != nil {
		return 0, fmt.Errorf("mark outbox rows published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}

	if w.metrics != nil {
		w.metrics.AddPublished(len(msgs))
		w.metrics.ObserveBatchDuration(time.Since(start).Seconds())
	}
	return len(ids), nil
}

// Pending counts unpublished rows.
func (w *Worker) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := w.db.QueryRowContext(ctx, `SELECT count(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox rows: %w", err)
	}
	return n, nil
}
