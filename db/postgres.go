package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"paste-analytics-service/models"
	"time"

	"github.com/lib/pq"
)

type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks database connectivity
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// RunMigration applies the schema file at the given path.
func (p *PostgresDB) RunMigration(ctx context.Context, path string) error {
	stmts, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(stmts)); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

// classifyWriteError maps transient Postgres contention codes to
// ConflictError so callers can retry them locally.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03": // serialization, deadlock, lock not available
			return &models.ConflictError{Err: err}
		}
	}
	return err
}

func (p *PostgresDB) CreatePaste(ctx context.Context, paste *models.Paste) error {
	query := `INSERT INTO pastes (short_url, content, expires_at)
	          VALUES ($1, $2, $3) RETURNING id, created_at`

	err := p.db.QueryRowContext(ctx, query, paste.ShortURL, paste.Content, paste.ExpiresAt).
		Scan(&paste.ID, &paste.CreatedAt)
	if err != nil {
		// A short-URL collision surfaces as a unique violation; callers
		// retry it with a fresh code.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &models.ConflictError{Err: err}
		}
		return fmt.Errorf("failed to create paste: %w", err)
	}
	return nil
}

func (p *PostgresDB) GetPasteByShortURL(ctx context.Context, shortURL string) (*models.Paste, error) {
	query := `SELECT id, short_url, content, created_at, expires_at, view_count
	          FROM pastes WHERE short_url = $1`

	paste := &models.Paste{}
	err := p.db.QueryRowContext(ctx, query, shortURL).
		Scan(&paste.ID, &paste.ShortURL, &paste.Content, &paste.CreatedAt, &paste.ExpiresAt, &paste.ViewCount)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Message: "paste not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get paste: %w", err)
	}
	return paste, nil
}

func (p *PostgresDB) GetPasteByID(ctx context.Context, id int64) (*models.Paste, error) {
	query := `SELECT id, short_url, content, created_at, expires_at, view_count
	          FROM pastes WHERE id = $1`

	paste := &models.Paste{}
	err := p.db.QueryRowContext(ctx, query, id).
		Scan(&paste.ID, &paste.ShortURL, &paste.Content, &paste.CreatedAt, &paste.ExpiresAt, &paste.ViewCount)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Message: "paste not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get paste: %w", err)
	}
	return paste, nil
}

func (p *PostgresDB) DeletePaste(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM pastes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete paste: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &models.NotFoundError{Message: "paste not found"}
	}
	return nil
}

// MergeViewCount adds a reconciled live-counter delta to the durable view
// count and returns the merged total. Write contention surfaces as
// ConflictError for the caller's retry loop.
func (p *PostgresDB) MergeViewCount(ctx context.Context, shortURL string, delta int64) (int64, error) {
	query := `UPDATE pastes SET view_count = view_count + $2
	          WHERE short_url = $1 RETURNING view_count`

	var total int64
	err := p.db.QueryRowContext(ctx, query, shortURL, delta).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, &models.NotFoundError{Message: "paste not found"}
	}
	if err != nil {
		return 0, classifyWriteError(err)
	}
	return total, nil
}

func (p *PostgresDB) InsertViewEvent(ctx context.Context, event *models.ViewEvent) error {
	query := `INSERT INTO view_events
	          (paste_id, short_url, view_count, ip_address, user_id, session_id, referrer, user_agent, created_at)
	          VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9)
	          RETURNING id`

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	err := p.db.QueryRowContext(ctx, query,
		event.PasteID, event.ShortURL, event.ViewCount,
		event.IPAddress, event.UserID, event.SessionID, event.Referrer, event.UserAgent,
		event.CreatedAt).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert view event: %w", err)
	}
	return nil
}

// UnprocessedEvents returns events that have waited at least minAge without
// being marked processed, oldest first. The aggregator re-enqueues these to
// recover deliveries that never made it into the in-memory queue.
func (p *PostgresDB) UnprocessedEvents(ctx context.Context, minAge time.Duration, limit int) ([]*models.ViewEvent, error) {
	query := `SELECT id, paste_id, short_url, view_count,
	                 COALESCE(ip_address,''), COALESCE(user_id,''), COALESCE(session_id,''),
	                 COALESCE(referrer,''), COALESCE(user_agent,''), created_at
	          FROM view_events
	          WHERE processed = FALSE AND created_at < $1
	          ORDER BY created_at ASC
	          LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, time.Now().UTC().Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*models.ViewEvent
	for rows.Next() {
		ev := &models.ViewEvent{}
		if err := rows.Scan(&ev.ID, &ev.PasteID, &ev.ShortURL, &ev.ViewCount,
			&ev.IPAddress, &ev.UserID, &ev.SessionID, &ev.Referrer, &ev.UserAgent, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan view event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

// ProcessViewEvent recomputes the paste's aggregate from its raw events and
// marks the event processed, all in one transaction. The elapsed time of
// that work is recorded as the event's processing_time. Returns false
// without touching anything when the event was already processed
// (at-least-once redelivery).
func (p *PostgresDB) ProcessViewEvent(ctx context.Context, eventID int64) (bool, error) {
	start := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pasteID int64
	var processed bool
	err = tx.QueryRowContext(ctx,
		`SELECT paste_id, processed FROM view_events WHERE id = $1 FOR UPDATE`, eventID).
		Scan(&pasteID, &processed)
	if err == sql.ErrNoRows {
		return false, &models.NotFoundError{Message: "view event not found"}
	}
	if err != nil {
		return false, classifyWriteError(err)
	}
	if processed {
		return false, nil
	}

	// Totals are recomputed from the raw event rows rather than trusting
	// event delivery order. COUNT(DISTINCT ...) skips NULLs, so only events
	// carrying the field participate. Distinct IPs and distinct user IDs are
	// summed, not deduplicated against each other.
	var total, ips, users, sessions int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT ip_address), COUNT(DISTINCT user_id), COUNT(DISTINCT session_id)
		 FROM view_events WHERE paste_id = $1`, pasteID).
		Scan(&total, &ips, &users, &sessions)
	if err != nil {
		return false, classifyWriteError(err)
	}

	avg := 0.0
	if sessions > 0 {
		avg = float64(total) / float64(sessions)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO analytics_aggregates (paste_id, total_views, unique_viewers, avg_views_per_session, last_updated)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (paste_id) DO UPDATE SET
		   total_views = $2,
		   unique_viewers = $3,
		   avg_views_per_session = $4,
		   last_updated = NOW()`,
		pasteID, total, ips+users, avg)
	if err != nil {
		return false, classifyWriteError(err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE view_events SET processed = TRUE, processing_time = $2 WHERE id = $1`,
		eventID, time.Since(start).Seconds())
	if err != nil {
		return false, classifyWriteError(err)
	}

	if err := tx.Commit(); err != nil {
		return false, classifyWriteError(err)
	}
	return true, nil
}

// SkipViewEvent marks a permanently failing event processed with a note so
// it stops blocking the queue.
func (p *PostgresDB) SkipViewEvent(ctx context.Context, eventID int64, note string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE view_events SET processed = TRUE, processing_note = $2 WHERE id = $1`,
		eventID, note)
	if err != nil {
		return fmt.Errorf("failed to skip view event: %w", err)
	}
	return nil
}

func (p *PostgresDB) GetAggregate(ctx context.Context, pasteID int64) (*models.AnalyticsAggregate, error) {
	query := `SELECT paste_id, total_views, unique_viewers, avg_views_per_session, last_updated
	          FROM analytics_aggregates WHERE paste_id = $1`

	agg := &models.AnalyticsAggregate{}
	err := p.db.QueryRowContext(ctx, query, pasteID).
		Scan(&agg.PasteID, &agg.TotalViews, &agg.UniqueViewers, &agg.AvgViewsPerSession, &agg.LastUpdated)
	if err == sql.ErrNoRows {
		return &models.AnalyticsAggregate{PasteID: pasteID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}
	return agg, nil
}

func (p *PostgresDB) ListAggregates(ctx context.Context) ([]*models.AnalyticsAggregate, error) {
	query := `SELECT paste_id, total_views, unique_viewers, avg_views_per_session, last_updated
	          FROM analytics_aggregates ORDER BY total_views DESC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*models.AnalyticsAggregate
	for rows.Next() {
		agg := &models.AnalyticsAggregate{}
		if err := rows.Scan(&agg.PasteID, &agg.TotalViews, &agg.UniqueViewers, &agg.AvgViewsPerSession, &agg.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggs = append(aggs, agg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return aggs, nil
}

// InsertProcessingError records a background-path failure for later
// inspection. Callers log a failed insert and move on.
func (p *PostgresDB) InsertProcessingError(ctx context.Context, errorType, message, payload string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO processing_errors (error_type, message, payload) VALUES ($1, $2, NULLIF($3,''))`,
		errorType, message, payload)
	if err != nil {
		return fmt.Errorf("failed to insert processing error: %w", err)
	}
	return nil
}
