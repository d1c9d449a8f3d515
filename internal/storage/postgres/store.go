// Package postgres persists speakers, lives and crawl runs in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store implements crawler.LiveStore and crawler.RunRecorder.
type Store struct {
	pool     execCloser
	speakers string
	lives    string
	runs     string
}

// New creates a Store backed by a new connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.TablePrefix)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(pool execCloser, prefix string) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	s := &Store{
		pool:     pool,
		speakers: prefix + "speakers",
		lives:    prefix + "lives",
		runs:     prefix + "crawl_runs",
	}
	for _, table := range []string{s.speakers, s.lives, s.runs} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return s, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	headline TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	url_token TEXT NOT NULL DEFAULT '',
	gender INTEGER NOT NULL DEFAULT 0,
	bio TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
)`, s.speakers),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	speaker_id TEXT NOT NULL REFERENCES %s (id),
	speaker_name TEXT NOT NULL,
	subject TEXT NOT NULL,
	outline TEXT NOT NULL DEFAULT '',
	topics TEXT[] NOT NULL DEFAULT '{}',
	topic_names TEXT NOT NULL DEFAULT '',
	tag_names TEXT NOT NULL DEFAULT '',
	seats_taken INTEGER NOT NULL DEFAULT 0,
	amount NUMERIC(10,2) NOT NULL DEFAULT 0,
	public BOOLEAN NOT NULL DEFAULT FALSE,
	starts_at TIMESTAMPTZ,
	suggestions JSONB NOT NULL DEFAULT '[]',
	run_id TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
)`, s.lives, s.speakers),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	seeds INTEGER NOT NULL DEFAULT 0,
	enqueued INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0
)`, s.runs),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertSpeaker inserts or refreshes a speaker row.
func (s *Store) UpsertSpeaker(ctx context.Context, speaker crawler.Speaker) error {
	if speaker.ID == "" {
		return errors.New("speaker id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, headline, avatar_url, url_token, gender, bio, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	headline = EXCLUDED.headline,
	avatar_url = EXCLUDED.avatar_url,
	url_token = EXCLUDED.url_token,
	gender = EXCLUDED.gender,
	bio = EXCLUDED.bio,
	updated_at = EXCLUDED.updated_at`, s.speakers)

	_, err := s.pool.Exec(ctx, query,
		speaker.ID,
		speaker.Name,
		speaker.Headline,
		speaker.AvatarURL,
		speaker.URLToken,
		speaker.Gender,
		speaker.Bio,
		speaker.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert speaker: %w", err)
	}
	return nil
}

// UpsertLive inserts or refreshes a live row.
func (s *Store) UpsertLive(ctx context.Context, live crawler.Live) error {
	if live.ID == "" {
		return errors.New("live id is required")
	}
	suggestions, err := json.Marshal(normalizeSuggestions(live.Suggestions))
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}
	topics := live.Topics
	if topics == nil {
		topics = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, speaker_id, speaker_name, subject, outline, topics, topic_names, tag_names,
	seats_taken, amount, public, starts_at, suggestions, run_id, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
	speaker_id = EXCLUDED.speaker_id,
	speaker_name = EXCLUDED.speaker_name,
	subject = EXCLUDED.subject,
	outline = EXCLUDED.outline,
	topics = EXCLUDED.topics,
	topic_names = EXCLUDED.topic_names,
	tag_names = EXCLUDED.tag_names,
	seats_taken = EXCLUDED.seats_taken,
	amount = EXCLUDED.amount,
	public = EXCLUDED.public,
	starts_at = EXCLUDED.starts_at,
	suggestions = EXCLUDED.suggestions,
	run_id = EXCLUDED.run_id,
	fetched_at = EXCLUDED.fetched_at`, s.lives)

	_, err = s.pool.Exec(ctx, query,
		live.ID,
		live.SpeakerID,
		live.SpeakerName,
		live.Subject,
		live.Outline,
		topics,
		live.TopicNames,
		live.TagNames,
		live.SeatsTaken,
		live.Amount,
		live.Public,
		live.StartsAt,
		suggestions,
		live.RunID,
		live.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert live: %w", err)
	}
	return nil
}

// RecordRun inserts or updates the summary row for a crawl run.
func (s *Store) RecordRun(ctx context.Context, run crawler.RunSummary) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, status, started_at, finished_at, seeds, enqueued, completed, duplicates)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	seeds = EXCLUDED.seeds,
	enqueued = EXCLUDED.enqueued,
	completed = EXCLUDED.completed,
	duplicates = EXCLUDED.duplicates`, s.runs)

	_, err := s.pool.Exec(ctx, query,
		run.RunID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		run.Seeds,
		run.Enqueued,
		run.Completed,
		run.Duplicates,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func normalizeSuggestions(in []crawler.Suggestion) []crawler.Suggestion {
	if in == nil {
		return []crawler.Suggestion{}
	}
	return in
}
