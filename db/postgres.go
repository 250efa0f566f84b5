package db

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/session"
	"parley/transcript"
)

//go:embed schema.sql
var sqlFS embed.FS

// Store persists sessions and finalized transcript segments in Postgres.
// It satisfies session.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// Open connects to the database and applies the embedded schema.
func Open(ctx context.Context, databaseURL string, logger *log.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	schema, err := sqlFS.ReadFile("schema.sql")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("read embedded schema.sql: %w", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	s.logger.Debug("saving session", "session", sess.ID)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, title, started_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET title = $2`,
		sess.ID, sess.Title, sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sess *session.Session) error {
	s.logger.Debug("ending session", "session", sess.ID)
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = $2, duration_ms = $3 WHERE id = $1`,
		sess.ID, sess.EndedAt, sess.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// SaveSegment records one finalized segment under its session.
func (s *Store) SaveSegment(ctx context.Context, sessionID string, seg transcript.Segment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO segments
		   (id, session, speaker, text, started_at, ended_at, confidence, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		seg.ID, sessionID, seg.Speaker, seg.Text,
		seg.StartedAt, seg.EndedAt, seg.Confidence, string(seg.Reason),
	)
	if err != nil {
		return fmt.Errorf("save segment: %w", err)
	}
	return nil
}

// SessionRow is one line of the session listing.
type SessionRow struct {
	ID        string
	Title     string
	StartedAt time.Time
	EndedAt   *time.Time
	Duration  time.Duration
	Segments  int
}

// ListSessions returns recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.title, s.started_at, s.ended_at, s.duration_ms,
		        count(g.id)
		 FROM sessions s
		 LEFT JOIN segments g ON g.session = s.id
		 GROUP BY s.id
		 ORDER BY s.started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			r          SessionRow
			durationMS int64
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.StartedAt, &r.EndedAt, &durationMS, &r.Segments); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Segments returns the finalized transcript of one session in order.
func (s *Store) Segments(ctx context.Context, sessionID string) ([]transcript.Segment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, speaker, text, started_at, ended_at, confidence, reason
		 FROM segments
		 WHERE session = $1
		 ORDER BY started_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}
	defer rows.Close()

	var out []transcript.Segment
	for rows.Next() {
		var (
			seg    transcript.Segment
			reason string
		)
		if err := rows.Scan(&seg.ID, &seg.Speaker, &seg.Text,
			&seg.StartedAt, &seg.EndedAt, &seg.Confidence, &reason); err != nil {
			return nil, fmt.Errorf("scan segment row: %w", err)
		}
		seg.Reason = transcript.FinalizeReason(reason)
		out = append(out, seg)
	}
	return out, rows.Err()
}
