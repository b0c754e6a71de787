package workouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/repcount/internal/telemetry/tracing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var _ Store = (*Repo)(nil)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS workout_event (
		id            SERIAL PRIMARY KEY,
		user_id       INTEGER     NOT NULL,
		exercise_type TEXT        NOT NULL,
		count         INTEGER     NOT NULL CHECK (count > 0),
		timestamp     TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS workout_event_user_ts_idx ON workout_event (user_id, timestamp);
`

// Repo is the postgres backed event log.
type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Init(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.init")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if _, err = r.db.Exec(ctx, schemaSQL); err != nil {
		return storageErr("init", err)
	}
	return nil
}

func (r *Repo) Append(ctx context.Context, userID int, event Event) (_ *Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.append")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user-id", userID))
	span.SetAttributes(attribute.String("exercise-type", event.ExerciseType.String()))

	if err := event.Validate(); err != nil {
		return nil, storageErr("append", errors.Join(ErrInvalidEvent, err))
	}

	event.UserID = userID
	err = r.db.QueryRow(ctx, `
		INSERT INTO workout_event (user_id, exercise_type, count, timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`,
		userID,
		event.ExerciseType,
		event.Count,
		event.Date,
	).Scan(&event.ID)
	if err != nil {
		return nil, storageErr("append", err)
	}

	return &event, nil
}

func (r *Repo) QueryByDateRange(ctx context.Context, userID int, from, to *time.Time) (_ []Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.query")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user-id", userID))
	if from != nil {
		span.SetAttributes(attribute.String("from", from.String()))
	}
	if to != nil {
		span.SetAttributes(attribute.String("to", to.String()))
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, exercise_type, count, timestamp
		FROM workout_event
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR timestamp >= $2)
		  AND ($3::timestamptz IS NULL OR timestamp <= $3)
		ORDER BY timestamp ASC, id ASC;
	`, userID, from, to)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.ExerciseType, &e.Count, &e.Date); err != nil {
			return nil, storageErr("query", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query", err)
	}

	return events, nil
}

// BulkReplace swaps the user's whole event set in one transaction. Either
// all events land or the previous set stays untouched.
func (r *Repo) BulkReplace(ctx context.Context, userID int, events []Event) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.bulkreplace")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user-id", userID))
	span.SetAttributes(attribute.Int("events", len(events)))

	for _, e := range events {
		if err := e.Validate(); err != nil {
			return storageErr("bulk replace", errors.Join(ErrInvalidEvent, err))
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storageErr("bulk replace", err)
	}
	defer func() {
		err = finishTx(ctx, tx, "bulk replace", err)
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM workout_event WHERE user_id = $1`, userID); err != nil {
		return storageErr("bulk replace", err)
	}

	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{userID, e.ExerciseType.String(), e.Count, e.Date})
	}
	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"workout_event"},
		[]string{"user_id", "exercise_type", "count", "timestamp"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return storageErr("bulk replace", err)
	}

	return nil
}

// finishTx commits when err is nil and rolls back otherwise. A failed commit
// or rollback is reported as a StorageError too.
func finishTx(ctx context.Context, tx pgx.Tx, op string, err error) error {
	if err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return storageErr(op, fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err))
		}
		return err
	}
	return storageErr(op, tx.Commit(ctx))
}

func (r *Repo) Reset(ctx context.Context, userID int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.reset")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user-id", userID))

	if _, err = r.db.Exec(ctx, `DELETE FROM workout_event WHERE user_id = $1`, userID); err != nil {
		return storageErr("reset", err)
	}
	return nil
}

func (r *Repo) Count(ctx context.Context, userID int) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.workouts.count")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var count int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM workout_event WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return -1, storageErr("count", err)
	}
	return count, nil
}

// Teardown is a no-op, the pool is owned and closed by the caller.
func (r *Repo) Teardown() {}
