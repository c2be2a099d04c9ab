package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	xerrors "quackcore/internal/errors"
	"quackcore/internal/observability/metrics"
	"quackcore/pkg/capability"
	"quackcore/pkg/logger"
)

const defaultAcquireTimeout = 30 * time.Second

// Manager owns the authentication state, rate budgets and retry policy of
// every integration plugin. State is keyed per plugin; operations on
// distinct plugins never contend with each other, and no per-plugin lock is
// held while remote I/O is in flight.
type Manager struct {
	store          Store
	mu             sync.Mutex
	sessions       map[string]*pluginSession
	rates          map[string]RateConfig
	retries        map[string]RetryConfig
	defaultRate    RateConfig
	defaultRetry   RetryConfig
	acquireTimeout time.Duration
	now            func() time.Time
	log            *slog.Logger
	audit          *slog.Logger
}

type pluginSession struct {
	mu          sync.Mutex
	name        string
	auth        capability.Authenticator
	state       AuthState
	cred        *Credential
	lastAuthErr error
	// acquiring is non-nil while exactly one acquisition is in flight;
	// waiters block on it with their own deadlines.
	acquiring chan struct{}
	budget    *RateBudget
	retry     RetryConfig
	loaded    bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRateConfig overrides the rate budget for one plugin.
func WithRateConfig(plugin string, cfg RateConfig) ManagerOption {
	return func(m *Manager) { m.rates[plugin] = cfg }
}

// WithRetryConfig overrides the retry policy for one plugin.
func WithRetryConfig(plugin string, cfg RetryConfig) ManagerOption {
	return func(m *Manager) { m.retries[plugin] = cfg }
}

// WithDefaultRate sets the rate budget applied to plugins without an
// explicit override.
func WithDefaultRate(cfg RateConfig) ManagerOption {
	return func(m *Manager) { m.defaultRate = cfg }
}

// WithClock injects a time source, used by tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSessionLogger overrides the manager logger.
func WithSessionLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a session manager backed by the given credential
// store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:          store,
		sessions:       make(map[string]*pluginSession),
		rates:          make(map[string]RateConfig),
		retries:        make(map[string]RetryConfig),
		acquireTimeout: defaultAcquireTimeout,
		now:            time.Now,
		log:            logger.Named("session"),
		audit:          logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// CallOption adjusts a single call through the envelope.
type CallOption func(*callOptions)

type callOptions struct {
	waitOnRateLimit bool
}

// WaitOnRateLimit makes an exhausted budget block until the window resets,
// bounded by the caller's context, instead of failing with RateLimited.
func WaitOnRateLimit() CallOption {
	return func(o *callOptions) { o.waitOnRateLimit = true }
}

// Call dispatches one integration operation through the auth, rate-limit
// and retry envelope. Failures are always coded errors; automatic retries
// happen only for retriable failures of idempotent operations.
func (m *Manager) Call(ctx context.Context, name string, integ capability.Integration, opName string, args map[string]any, opts ...CallOption) (any, error) {
	var callOpts callOptions
	for _, opt := range opts {
		opt(&callOpts)
	}

	op, ok := capability.OperationByName(integ, opName)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("integration %s does not expose operation %s", name, opName))
	}

	s := m.sessionFor(ctx, name, integ)
	bo := newBackOff(s.retry)

	var lastErr error
	for attempt := 1; ; attempt++ {
		payload, err := m.attempt(ctx, s, integ, opName, args, callOpts)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		// Envelope failures are terminal for this call; only operation
		// failures enter the retry loop.
		code := xerrors.CodeOf(err)
		if code == xerrors.CodeAuthRevoked || code == xerrors.CodeAuthFailed ||
			code == xerrors.CodeRateLimited || code == xerrors.CodeTimeout {
			return nil, err
		}
		if !xerrors.RetryableError(err) || !op.Idempotent {
			return nil, err
		}
		if attempt >= s.retry.MaxAttempts {
			break
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			break
		}
		metrics.ObserveRetry(name, opName)
		m.log.Debug("retrying integration call",
			slog.String("plugin", name), slog.String("operation", opName),
			slog.Int("attempt", attempt), slog.Duration("backoff", next))

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, xerrors.New(xerrors.CodeTimeout,
				fmt.Sprintf("cancelled while backing off before retry of %s.%s", name, opName))
		case <-timer.C:
		}
	}
	return nil, xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr,
		fmt.Sprintf("retries exhausted for %s.%s", name, opName))
}

// attempt performs a single authenticated, budgeted dispatch.
func (m *Manager) attempt(ctx context.Context, s *pluginSession, integ capability.Integration, opName string, args map[string]any, opts callOptions) (any, error) {
	token, err := m.ensureToken(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := s.budget.Acquire(ctx, opts.waitOnRateLimit, m.now); err != nil {
		return nil, err
	}

	payload, err := integ.Call(WithToken(ctx, token), opName, args)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeAuthFailed {
			m.markExpired(s)
		}
		return nil, err
	}
	return payload, nil
}

// Paginate wraps a paginated operation so every page fetch passes through
// the same auth and rate envelope as a plain call.
func (m *Manager) Paginate(ctx context.Context, name string, integ capability.Integration, opName string, args map[string]any, opts ...CallOption) (capability.Pager, error) {
	var callOpts callOptions
	for _, opt := range opts {
		opt(&callOpts)
	}
	op, ok := capability.OperationByName(integ, opName)
	if !ok || !op.Paginated {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("integration %s does not expose paginated operation %s", name, opName))
	}
	s := m.sessionFor(ctx, name, integ)
	return &envelopePager{mgr: m, session: s, integ: integ, op: opName, args: args, opts: callOpts}, nil
}

type envelopePager struct {
	mgr     *Manager
	session *pluginSession
	integ   capability.Integration
	op      string
	args    map[string]any
	opts    callOptions
	inner   capability.Pager
	done    bool
}

func (p *envelopePager) Next(ctx context.Context) (*capability.Page, error) {
	if p.done {
		return nil, nil
	}
	token, err := p.mgr.ensureToken(ctx, p.session)
	if err != nil {
		return nil, err
	}
	if err := p.session.budget.Acquire(ctx, p.opts.waitOnRateLimit, p.mgr.now); err != nil {
		return nil, err
	}
	callCtx := WithToken(ctx, token)
	if p.inner == nil {
		inner, err := p.integ.Paginate(callCtx, p.op, p.args)
		if err != nil {
			return nil, err
		}
		p.inner = inner
	}
	page, err := p.inner.Next(callCtx)
	if err != nil {
		return nil, err
	}
	if page == nil {
		p.done = true
	}
	return page, nil
}

// sessionFor returns the session state for a plugin, creating and seeding
// it from the credential store on first use.
func (m *Manager) sessionFor(ctx context.Context, name string, integ capability.Integration) *pluginSession {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if !ok {
		retry, found := m.retries[name]
		if !found {
			retry = m.defaultRetry
		}
		rate, found := m.rates[name]
		if !found {
			rate = m.defaultRate
		}
		auth, _ := integ.(capability.Authenticator)
		s = &pluginSession{
			name:   name,
			auth:   auth,
			state:  StateUnauthenticated,
			budget: newRateBudget(name, rate),
			retry:  retry.withDefaults(),
		}
		m.sessions[name] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	if !s.loaded {
		s.loaded = true
		if m.store != nil {
			if cred, err := m.store.Load(ctx, name); err == nil && cred != nil {
				s.cred = cred
				switch {
				case cred.Revoked:
					s.state = StateRevoked
				case cred.Expired(m.now()):
					s.state = StateExpired
				default:
					s.state = StateAuthenticated
				}
			}
		}
	}
	s.mu.Unlock()
	return s
}

// ensureToken returns a usable access token, triggering a blocking
// acquisition when the session is unauthenticated or expired. Exactly one
// acquisition runs per plugin; concurrent callers wait on it with their own
// deadlines, and a timed-out waiter does not abort the acquisition.
func (m *Manager) ensureToken(ctx context.Context, s *pluginSession) (string, error) {
	for {
		s.mu.Lock()
		switch s.state {
		case StateRevoked:
			s.mu.Unlock()
			return "", xerrors.New(xerrors.CodeAuthRevoked,
				fmt.Sprintf("credentials for %s are revoked", s.name))
		case StateAuthenticated:
			if !s.cred.Expired(m.now()) {
				token := s.cred.AccessToken
				s.mu.Unlock()
				return token, nil
			}
			s.state = StateExpired
		}

		if s.auth == nil {
			// Integration without an authenticator: calls carry no token.
			s.mu.Unlock()
			return "", nil
		}

		var ch chan struct{}
		if s.acquiring != nil {
			ch = s.acquiring
			s.mu.Unlock()
		} else {
			ch = make(chan struct{})
			s.acquiring = ch
			s.state = StateAuthenticating
			refresh := ""
			if s.cred != nil {
				refresh = s.cred.RefreshToken
			}
			s.mu.Unlock()
			// The acquisition is detached from the initiating caller so it
			// keeps running for other waiters if this caller times out.
			acquireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.acquireTimeout)
			go func() {
				defer cancel()
				m.acquire(acquireCtx, s, refresh)
			}()
		}

		select {
		case <-ctx.Done():
			return "", xerrors.New(xerrors.CodeTimeout,
				fmt.Sprintf("timed out waiting for credential acquisition of %s", s.name))
		case <-ch:
		}

		s.mu.Lock()
		state, authErr := s.state, s.lastAuthErr
		s.mu.Unlock()
		if state == StateAuthenticated {
			continue
		}
		if state == StateRevoked {
			continue
		}
		if authErr != nil {
			return "", authErr
		}
	}
}

// acquire performs the actual token acquisition. The per-plugin lock is
// never held while the authenticator does network I/O.
func (m *Manager) acquire(ctx context.Context, s *pluginSession, refresh string) {
	token, err := s.auth.Authenticate(ctx, refresh)

	var saved *Credential
	s.mu.Lock()
	if err != nil {
		if s.cred != nil && s.cred.AccessToken != "" {
			s.state = StateExpired
		} else {
			s.state = StateUnauthenticated
		}
		s.lastAuthErr = xerrors.Wrap(xerrors.CodeAuthFailed, err,
			fmt.Sprintf("credential acquisition for %s failed", s.name))
		m.audit.Warn("credential acquisition failed",
			slog.String("plugin", s.name), slog.String("error", err.Error()))
	} else {
		cred := &Credential{
			PluginName:   s.name,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Expiry:       token.Expiry,
		}
		if cred.RefreshToken == "" && s.cred != nil {
			cred.RefreshToken = s.cred.RefreshToken
		}
		s.cred = cred
		s.state = StateAuthenticated
		s.lastAuthErr = nil
		saved = cred
		m.audit.Info("credential acquired",
			slog.String("plugin", s.name), slog.Time("expiry", cred.Expiry))
	}
	ch := s.acquiring
	s.acquiring = nil
	s.mu.Unlock()

	metrics.ObserveAuthRefresh(s.name, err == nil)
	if saved != nil && m.store != nil {
		if saveErr := m.store.Save(ctx, saved); saveErr != nil {
			m.log.Error("persisting credential failed",
				slog.String("plugin", s.name), slog.Any("error", saveErr))
		}
	}
	close(ch)
}

func (m *Manager) markExpired(s *pluginSession) {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.state = StateExpired
	}
	s.mu.Unlock()
}

// Revoke invalidates a plugin's credential. Subsequent calls fail fast with
// AuthRevoked until ReAuthenticate is called.
func (m *Manager) Revoke(ctx context.Context, name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no session for plugin %s", name))
	}
	s.mu.Lock()
	s.state = StateRevoked
	if s.cred != nil {
		s.cred.Revoked = true
	}
	s.mu.Unlock()

	m.audit.Warn("credentials revoked", slog.String("plugin", name))
	if m.store != nil {
		return m.store.Invalidate(ctx, name)
	}
	return nil
}

// ReAuthenticate clears a revoked session so the next call triggers a
// fresh acquisition.
func (m *Manager) ReAuthenticate(ctx context.Context, name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no session for plugin %s", name))
	}
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.cred = nil
	s.lastAuthErr = nil
	s.mu.Unlock()

	m.audit.Info("re-authentication requested", slog.String("plugin", name))
	if m.store != nil {
		cred := &Credential{PluginName: name}
		return m.store.Save(ctx, cred)
	}
	return nil
}

// AuthState reports the credential state of a plugin for diagnostics.
func (m *Manager) AuthState(name string) AuthState {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return StateUnauthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close releases the credential store. Session state itself needs no
// teardown beyond process exit.
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
