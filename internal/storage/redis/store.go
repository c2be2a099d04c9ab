// Package redis persists credentials in Redis so sessions survive process
// restarts without a relational database.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"quackcore/internal/config"
	xerrors "quackcore/internal/errors"
	"quackcore/pkg/session"
)

const keyPrefix = "quackcore:credential:"

// Store is a redis-backed session.Store. Credentials are stored as JSON
// under a per-plugin key with a TTL so abandoned integrations age out.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("connecting to redis at %s failed", cfg.Addr))
	}
	return &Store{client: client, ttl: cfg.TTL.Std()}, nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, plugin string) (*session.Credential, error) {
	payload, err := s.client.Get(ctx, keyPrefix+plugin).Bytes()
	if err == goredis.Nil {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("no credential stored for %s", plugin))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("loading credential for %s failed", plugin))
	}
	var cred session.Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("decoding credential for %s failed", plugin))
	}
	return &cred, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, cred *session.Credential) error {
	if cred == nil || cred.PluginName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "credential must name a plugin")
	}
	payload, err := json.Marshal(cred)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("encoding credential for %s failed", cred.PluginName))
	}
	if err := s.client.Set(ctx, keyPrefix+cred.PluginName, payload, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("saving credential for %s failed", cred.PluginName))
	}
	return nil
}

// Invalidate implements session.Store. The credential is kept but flagged,
// so a later load reports the revocation instead of vanishing.
func (s *Store) Invalidate(ctx context.Context, plugin string) error {
	cred, err := s.Load(ctx, plugin)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return nil
		}
		return err
	}
	cred.Revoked = true
	return s.Save(ctx, cred)
}

// Close implements session.Store.
func (s *Store) Close() error {
	return s.client.Close()
}
