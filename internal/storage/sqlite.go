package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS feeds (
	link       TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	ttl        INTEGER,
	down_since TEXT
);
CREATE TABLE IF NOT EXISTS feed_hashes (
	link TEXT NOT NULL,
	pos  INTEGER NOT NULL,
	hash INTEGER NOT NULL,
	PRIMARY KEY (link, pos)
);
CREATE TABLE IF NOT EXISTS feed_subscribers (
	link    TEXT NOT NULL,
	chat_id INTEGER NOT NULL,
	pos     INTEGER NOT NULL,
	PRIMARY KEY (link, chat_id)
);
`

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (persister, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) load() (map[string]*Feed, error) {
	feeds := map[string]*Feed{}

	rows, err := s.db.Query(`SELECT link, title, ttl, down_since FROM feeds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var f Feed
		var ttl sql.NullInt64
		var downSince sql.NullString
		if err := rows.Scan(&f.Link, &f.Title, &ttl, &downSince); err != nil {
			return nil, err
		}
		if ttl.Valid {
			v := uint32(ttl.Int64)
			f.TTL = &v
		}
		if downSince.Valid {
			if at, err := time.Parse(time.RFC3339Nano, downSince.String); err == nil {
				f.DownSince = &at
			}
		}
		feeds[f.Link] = &f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := s.db.Query(`SELECT link, hash FROM feed_hashes ORDER BY link, pos`)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var link string
		var hash int64
		if err := hrows.Scan(&link, &hash); err != nil {
			return nil, err
		}
		if f, ok := feeds[link]; ok {
			f.Hashes = append(f.Hashes, uint64(hash))
		}
	}
	if err := hrows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.Query(`SELECT link, chat_id FROM feed_subscribers ORDER BY link, pos`)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var link string
		var chat int64
		if err := srows.Scan(&link, &chat); err != nil {
			return nil, err
		}
		if f, ok := feeds[link]; ok {
			f.Subscribers = append(f.Subscribers, chat)
		}
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}
	return feeds, nil
}

func (s *sqliteStore) save(feeds []*Feed) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"feeds", "feed_hashes", "feed_subscribers"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	for _, f := range feeds {
		var ttl any
		if f.TTL != nil {
			ttl = int64(*f.TTL)
		}
		var downSince any
		if f.DownSince != nil {
			downSince = f.DownSince.Format(time.RFC3339Nano)
		}
		if _, err := tx.Exec(
			`INSERT INTO feeds(link, title, ttl, down_since) VALUES(?,?,?,?)`,
			f.Link, f.Title, ttl, downSince,
		); err != nil {
			return err
		}
		for i, h := range f.Hashes {
			if _, err := tx.Exec(
				`INSERT INTO feed_hashes(link, pos, hash) VALUES(?,?,?)`,
				f.Link, i, int64(h),
			); err != nil {
				return err
			}
		}
		for i, chat := range f.Subscribers {
			if _, err := tx.Exec(
				`INSERT INTO feed_subscribers(link, chat_id, pos) VALUES(?,?,?)`,
				f.Link, chat, i,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
