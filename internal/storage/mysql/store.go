// Package mysql persists credentials in MySQL with schema migrations
// applied at startup.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/session"
)

// Store is a mysql-backed session.Store.
type Store struct {
	db *sql.DB
}

// NewStore opens the connection pool and applies pending migrations.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, plugin string) (*session.Credential, error) {
	const query = `SELECT access_token, refresh_token, expiry, revoked
FROM plugin_credentials WHERE plugin_name = ?`
	row := s.db.QueryRowContext(ctx, query, plugin)

	var (
		cred    session.Credential
		refresh sql.NullString
		expiry  int64
		revoked int
	)
	if err := row.Scan(&cred.AccessToken, &refresh, &expiry, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound,
				fmt.Sprintf("no credential stored for %s", plugin))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("loading credential for %s failed", plugin))
	}
	cred.PluginName = plugin
	cred.RefreshToken = refresh.String
	if expiry > 0 {
		cred.Expiry = time.Unix(expiry, 0)
	}
	cred.Revoked = revoked == 1
	return &cred, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, cred *session.Credential) error {
	if cred == nil || cred.PluginName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "credential must name a plugin")
	}
	now := time.Now().Unix()
	var expiry int64
	if !cred.Expiry.IsZero() {
		expiry = cred.Expiry.Unix()
	}
	const upsert = `INSERT INTO plugin_credentials
(plugin_name, access_token, refresh_token, expiry, revoked, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE access_token = VALUES(access_token),
refresh_token = VALUES(refresh_token), expiry = VALUES(expiry),
revoked = VALUES(revoked), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, upsert, cred.PluginName, cred.AccessToken,
		cred.RefreshToken, expiry, boolToInt(cred.Revoked), now, now); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("saving credential for %s failed", cred.PluginName))
	}
	return s.recordEvent(ctx, cred.PluginName, "saved", now)
}

// Invalidate implements session.Store.
func (s *Store) Invalidate(ctx context.Context, plugin string) error {
	now := time.Now().Unix()
	const update = `UPDATE plugin_credentials SET revoked = 1, updated_at = ? WHERE plugin_name = ?`
	if _, err := s.db.ExecContext(ctx, update, now, plugin); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("revoking credential for %s failed", plugin))
	}
	return s.recordEvent(ctx, plugin, "revoked", now)
}

func (s *Store) recordEvent(ctx context.Context, plugin, event string, at int64) error {
	const insert = `INSERT INTO credential_audit (plugin_name, event, occurred_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insert, plugin, event, at); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("recording credential event for %s failed", plugin))
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
