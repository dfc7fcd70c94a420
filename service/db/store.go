package db

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/homepass/service/metrics"
	"github.com/brojonat/homepass/service/shares"
)

//go:embed schema.sql
var schema string

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics records query durations on m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Migrate creates the receipt table and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Receipt is one submitted share action as stored in the database.
type Receipt struct {
	ID          uuid.UUID     `json:"id"`
	Action      string        `json:"action"`
	PropertyID  string        `json:"property_id"`
	Signer      string        `json:"signer"`
	Amount      uint64        `json:"amount"`
	Signature   *string       `json:"signature,omitempty"` // nil when the transaction never got a signature
	Status      string        `json:"status"`
	Error       *string       `json:"error,omitempty"`
	Generation  uint64        `json:"generation"`
	Duration    time.Duration `json:"duration"`
	SubmittedAt time.Time     `json:"submitted_at"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ListReceiptsParams filters ListReceipts. Empty fields match everything.
type ListReceiptsParams struct {
	PropertyID string
	Signer     string
	Limit      int32
	Offset     int32
}

const receiptColumns = `id, action, property_id, signer, amount, signature, status, error, generation, duration_ms, submitted_at, created_at`

// RecordAction inserts the receipt for an action outcome.
func (s *Store) RecordAction(ctx context.Context, o shares.ActionOutcome) error {
	if o.Amount > math.MaxInt64 {
		return fmt.Errorf("amount %d does not fit in a BIGINT column", o.Amount)
	}
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO action_receipts (id, action, property_id, signer, amount, signature, status, error, generation, duration_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID,
		o.Action,
		o.PropertyID,
		o.Signer,
		int64(o.Amount),
		pgtextFromString(o.Signature),
		o.Status,
		pgtextFromString(o.Error),
		int64(o.Generation),
		o.Duration.Milliseconds(),
		pgtype.Timestamptz{Time: o.SubmittedAt, Valid: true},
	)
	s.record("insert", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert receipt %s: %w", o.ID, err)
	}
	return nil
}

// GetReceipt retrieves a receipt by id. It returns pgx.ErrNoRows when absent.
func (s *Store) GetReceipt(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM action_receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	s.record("get", start, err)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReceipts returns receipts newest first.
func (s *Store) ListReceipts(ctx context.Context, params ListReceiptsParams) ([]*Receipt, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+receiptColumns+`
		FROM action_receipts
		WHERE ($1 = '' OR property_id = $1)
		  AND ($2 = '' OR signer = $2)
		ORDER BY submitted_at DESC
		LIMIT $3 OFFSET $4`,
		params.PropertyID, params.Signer, params.Limit, params.Offset,
	)
	if err != nil {
		s.record("list", start, err)
		return nil, err
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			s.record("list", start, err)
			return nil, err
		}
		receipts = append(receipts, r)
	}
	err = rows.Err()
	s.record("list", start, err)
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "action_receipts", time.Since(start).Seconds(), err)
	}
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		r          Receipt
		amount     int64
		generation int64
		durationMS int64
		signature  pgtype.Text
		errText    pgtype.Text
		submitted  pgtype.Timestamptz
		created    pgtype.Timestamptz
	)
	if err := row.Scan(
		&r.ID,
		&r.Action,
		&r.PropertyID,
		&r.Signer,
		&amount,
		&signature,
		&r.Status,
		&errText,
		&generation,
		&durationMS,
		&submitted,
		&created,
	); err != nil {
		return nil, err
	}
	r.Amount = uint64(amount)
	r.Generation = uint64(generation)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Signature = stringPtrFromPgtext(signature)
	r.Error = stringPtrFromPgtext(errText)
	r.SubmittedAt = submitted.Time
	r.CreatedAt = created.Time
	return &r, nil
}

// Helper functions for converting between Go types and pgtype

func pgtextFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
