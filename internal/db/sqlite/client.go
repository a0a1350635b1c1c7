package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/resources"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

func NewSQLiteClient(ctx context.Context, dir, name string) (*sqliteClient, error) {
	dbx, err := sqlx.Open("sqlite", filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	dbx.SetMaxOpenConns(1)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	if n > 0 {
		log.Infof("applied %d migrations", n)
	}

	return &sqliteClient{db: dbx}, nil
}

func (s *sqliteClient) Close() error {
	return s.db.Close()
}

func (s *sqliteClient) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	res := &db.Settings{}
	err := s.db.GetContext(ctx, res, `SELECT * FROM settings WHERE id = ?`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.DefaultSettings(chatID), nil
		}
		return nil, err
	}
	return res, nil
}

func (s *sqliteClient) SetSettings(ctx context.Context, settings *db.Settings) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO settings (id, enabled, confidence_threshold, global_ban_optout, community_voting_enabled, language)
		VALUES (:id, :enabled, :confidence_threshold, :global_ban_optout, :community_voting_enabled, :language)
		ON CONFLICT(id) DO UPDATE SET
		enabled = excluded.enabled,
		confidence_threshold = excluded.confidence_threshold,
		global_ban_optout = excluded.global_ban_optout,
		community_voting_enabled = excluded.community_voting_enabled,
		language = excluded.language
	`
	_, err := s.db.NamedExecContext(ctx, query, settings)
	return err
}

func (s *sqliteClient) GetCustomRules(ctx context.Context, chatID int64) ([]*db.CustomRule, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var rules []*db.CustomRule
	err := s.db.SelectContext(ctx, &rules, `
		SELECT * FROM custom_rules WHERE chat_id = ? ORDER BY position ASC
	`, chatID)
	return rules, err
}

func (s *sqliteClient) SetCustomRules(ctx context.Context, chatID int64, rules []*db.CustomRule) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_rules WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO custom_rules (chat_id, position, kind, pattern) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rule := range rules {
		if _, err := stmt.ExecContext(ctx, chatID, i, rule.Kind, rule.Pattern); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteClient) IsTrustedUser(ctx context.Context, chatID, userID int64) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM trusted_users WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	return count > 0, err
}

func (s *sqliteClient) SetTrustedUser(ctx context.Context, chatID, userID int64, trusted bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if trusted {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO trusted_users (chat_id, user_id) VALUES (?, ?)
		`, chatID, userID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM trusted_users WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	return err
}
