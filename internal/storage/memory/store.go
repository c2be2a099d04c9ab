// Package memory provides an in-process credential store, the default
// backend for development and tests.
package memory

import (
	"context"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/session"
)

// Store keeps credentials in a concurrent map. Contents do not survive a
// restart.
type Store struct {
	creds cmap.ConcurrentMap[string, session.Credential]
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{creds: cmap.New[session.Credential]()}
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, plugin string) (*session.Credential, error) {
	cred, ok := s.creds.Get(plugin)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("no credential stored for %s", plugin))
	}
	copied := cred
	return &copied, nil
}

// Save implements session.Store.
func (s *Store) Save(_ context.Context, cred *session.Credential) error {
	if cred == nil || cred.PluginName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "credential must name a plugin")
	}
	s.creds.Set(cred.PluginName, *cred)
	return nil
}

// Invalidate implements session.Store.
func (s *Store) Invalidate(_ context.Context, plugin string) error {
	cred, ok := s.creds.Get(plugin)
	if !ok {
		return nil
	}
	cred.Revoked = true
	s.creds.Set(plugin, cred)
	return nil
}

// Close implements session.Store.
func (s *Store) Close() error { return nil }
