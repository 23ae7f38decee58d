// Package postgres implements the memory store on a Postgres connection pool.
//
// Expected schema:
//
//	CREATE TABLE sitewatch_seen_urls (url text PRIMARY KEY);
//	CREATE TABLE sitewatch_details  (url text PRIMARY KEY, item jsonb NOT NULL);
//	CREATE TABLE sitewatch_reports  (id bigserial PRIMARY KEY, ts text NOT NULL, new_urls jsonb NOT NULL, report text NOT NULL);
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/watch"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store persists the watch memory across the three sitewatch tables. Save
// replaces the whole document inside one transaction, so readers observe
// either the previous or the new memory.
type Store struct {
	pool   pgxPool
	logger *zap.Logger
}

// New creates a Postgres-backed store using the provided config.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres_dsn is required")
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
	return NewWithPool(pool, logger)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load reads the full memory document. Unlike the file store, failures here
// are surfaced: an unreachable database must not masquerade as an empty
// memory and re-report every known URL.
func (s *Store) Load(ctx context.Context) (*watch.Memory, error) {
	m := watch.NewMemory()
	if err := s.loadSeen(ctx, m); err != nil {
		return nil, err
	}
	if err := s.loadDetails(ctx, m); err != nil {
		return nil, err
	}
	if err := s.loadReports(ctx, m); err != nil {
		return nil, err
	}
	m.Normalize()
	return m, nil
}

func (s *Store) loadSeen(ctx context.Context, m *watch.Memory) error {
	rows, err := s.pool.Query(ctx, `SELECT url FROM sitewatch_seen_urls`)
	if err != nil {
		return fmt.Errorf("query seen urls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return fmt.Errorf("scan seen url: %w", err)
		}
		m.SeenURLs = append(m.SeenURLs, url)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate seen urls: %w", err)
	}
	return nil
}

func (s *Store) loadDetails(ctx context.Context, m *watch.Memory) error {
	rows, err := s.pool.Query(ctx, `SELECT url, item FROM sitewatch_details`)
	if err != nil {
		return fmt.Errorf("query details: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			url     string
			payload []byte
		)
		if err := rows.Scan(&url, &payload); err != nil {
			return fmt.Errorf("scan detail: %w", err)
		}
		var item watch.Item
		if err := json.Unmarshal(payload, &item); err != nil {
			s.logger.Warn("detail row not decodable, skipping",
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}
		m.Details[url] = item
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate details: %w", err)
	}
	return nil
}

func (s *Store) loadReports(ctx context.Context, m *watch.Memory) error {
	rows, err := s.pool.Query(ctx, `SELECT ts, new_urls, report FROM sitewatch_reports ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry watch.ReportEntry
			urls  []byte
		)
		if err := rows.Scan(&entry.Timestamp, &urls, &entry.Report); err != nil {
			return fmt.Errorf("scan report: %w", err)
		}
		if err := json.Unmarshal(urls, &entry.NewURLs); err != nil {
			return fmt.Errorf("decode report urls: %w", err)
		}
		m.Reports = append(m.Reports, entry)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reports: %w", err)
	}
	return nil
}

// Save replaces the stored document with m inside one transaction.
func (s *Store) Save(ctx context.Context, m *watch.Memory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		`DELETE FROM sitewatch_reports`,
		`DELETE FROM sitewatch_details`,
		`DELETE FROM sitewatch_seen_urls`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("clear memory tables: %w", err)
		}
	}

	for _, url := range m.SeenURLs {
		if _, err := tx.Exec(ctx, `INSERT INTO sitewatch_seen_urls (url) VALUES ($1)`, url); err != nil {
			return fmt.Errorf("insert seen url: %w", err)
		}
	}

	urls := make([]string, 0, len(m.Details))
	for url := range m.Details {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		payload, err := json.Marshal(m.Details[url])
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO sitewatch_details (url, item) VALUES ($1, $2)`, url, payload); err != nil {
			return fmt.Errorf("insert detail: %w", err)
		}
	}

	for _, entry := range m.Reports {
		newURLs, err := json.Marshal(entry.NewURLs)
		if err != nil {
			return fmt.Errorf("marshal report urls: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO sitewatch_reports (ts, new_urls, report) VALUES ($1, $2, $3)`,
			entry.Timestamp, newURLs, entry.Report); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}
