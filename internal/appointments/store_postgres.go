package appointments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lmoretti/frontdesk/internal/reliability"
)

const (
	writeAttempts     = 3
	writeBackoffBase  = 50 * time.Millisecond
	writeBackoffLimit = 500 * time.Millisecond
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initAppointmentSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initAppointmentSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			contact_number TEXT NOT NULL,
			user_name TEXT NOT NULL DEFAULT '',
			slot_time TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_contact_created ON appointments (contact_number, created_at DESC);`,
		// The one hard atomicity guarantee of the system: at most one
		// confirmed appointment per slot, enforced even when two sessions
		// pass the advisory availability check concurrently.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_slot_confirmed ON appointments (slot_time) WHERE status = 'confirmed';`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init appointment schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetByContact(ctx context.Context, contactNumber string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contact_number, user_name, slot_time, details, status, created_at, updated_at
		   FROM appointments WHERE contact_number=$1 ORDER BY created_at ASC`,
		contactNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		var (
			rec    Record
			status string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ContactNumber,
			&rec.UserName,
			&rec.Slot,
			&rec.Details,
			&status,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan appointment row: %w", err)
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointment rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Create(ctx context.Context, contactNumber, userName, slot, details string) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		ID:            uuid.NewString(),
		ContactNumber: contactNumber,
		UserName:      userName,
		Slot:          slot,
		Details:       details,
		Status:        StatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.writeWithRetry(ctx, "insert",
		`INSERT INTO appointments (id, contact_number, user_name, slot_time, details, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.ContactNumber, rec.UserName, rec.Slot, rec.Details, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrSlotTaken
		}
		return Record{}, fmt.Errorf("insert appointment: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, id string) error {
	tag, err := s.writeWithRetry(ctx,
		"cancel",
		`UPDATE appointments SET status=$2, updated_at=$3 WHERE id=$1 AND status <> $2`,
		id, string(StatusCancelled), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateSlot(ctx context.Context, id, newSlot string) error {
	tag, err := s.writeWithRetry(ctx,
		"update_slot",
		`UPDATE appointments SET slot_time=$2, updated_at=$3 WHERE id=$1 AND status=$4`,
		id, newSlot, time.Now().UTC(), string(StatusConfirmed),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("update appointment slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IsSlotAvailable(ctx context.Context, slot string) bool {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE slot_time=$1 AND status=$2`,
		slot, string(StatusConfirmed),
	).Scan(&count)
	if err != nil {
		// Availability over strict consistency: the unique index catches
		// the case where this optimism was wrong.
		log.Printf("slot availability check failed, assuming available: %v", err)
		return true
	}
	return count == 0
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// writeWithRetry retries a write on transient connection-level failures.
// Constraint violations come back immediately so the caller can map them.
func (s *PostgresStore) writeWithRetry(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt-1, writeBackoffBase, writeBackoffLimit)
			log.Printf("appointments: retrying %s after transient error in %v: %v", op, backoff, err)
			select {
			case <-ctx.Done():
				return tag, ctx.Err()
			case <-time.After(backoff):
			}
		}
		tag, err = s.pool.Exec(ctx, sql, args...)
		if err == nil || !reliability.IsTransientPgError(err) {
			return tag, err
		}
	}
	return tag, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
