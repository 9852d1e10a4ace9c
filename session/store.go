// Package session owns the signed-in identity and drives the session
// lifecycle: login, registration, logout, start-up rehydration and logout
// forced by a denied refresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coursemart/authclient/client"
	"github.com/coursemart/authclient/credential"
	"github.com/coursemart/authclient/events"
	"github.com/coursemart/authclient/identity"
	"github.com/coursemart/authclient/persist"
)

const (
	pathLogin       = "/auth/login"
	pathRegister    = "/auth/register"
	pathLogout      = "/auth/logout"
	pathMe          = "/auth/me"
	pathVerifyEmail = "/auth/verify-email-code"
)

// ErrMalformedSession is returned when the server accepted a login but the
// response lacked a token or a usable user.
var ErrMalformedSession = errors.New("session: malformed session response")

// State is the session lifecycle state.
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "anonymous"
	}
}

// View is the read-only snapshot handed to callers and subscribers.
type View struct {
	User    *identity.Identity
	Loading bool
	State   State
}

// Requester sends API requests. *client.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, method, path string, body, out any, opts ...client.RequestOption) error
}

// Persister stores the identity across scopes. *persist.Adapter satisfies it.
type Persister interface {
	Persist(id *identity.Identity, scope persist.Scope) error
	Load() (*identity.Identity, persist.Scope, error)
}

// CookieClearer drops stored cookies on logout. *persist.CookieJar satisfies it.
type CookieClearer interface {
	Clear() error
}

// Store is safe for concurrent use. It never holds its lock across a
// network call, an event emission or a subscriber callback.
type Store struct {
	api       Requester
	cred      *credential.State
	refresher client.Refresher
	persister Persister
	bus       *events.Bus
	jar       CookieClearer
	logger    *slog.Logger
	debug     bool

	mu      sync.Mutex
	state   State
	user    *identity.Identity
	loading bool
	epoch   uint64
	subs    map[int]func(View)
	nextSub int

	unsubscribe []func()
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithDebug enables debug logging of swallowed failures.
func WithDebug(debug bool) Option {
	return func(s *Store) {
		s.debug = debug
	}
}

// WithCookieJar sets the jar cleared on logout.
func WithCookieJar(jar CookieClearer) Option {
	return func(s *Store) {
		s.jar = jar
	}
}

// New returns an Anonymous store and subscribes it to forced-logout and
// refresh events on bus. Call Close to unsubscribe.
func New(api Requester, cred *credential.State, refresher client.Refresher, persister Persister, bus *events.Bus, opts ...Option) *Store {
	s := &Store{
		api:       api,
		cred:      cred,
		refresher: refresher,
		persister: persister,
		bus:       bus,
		logger:    slog.Default(),
		subs:      make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")

	s.unsubscribe = append(s.unsubscribe,
		bus.Subscribe(events.ForcedLogout, func(events.Name) { s.forcedLogout() }),
		bus.Subscribe(events.RefreshStarted, func(events.Name) { s.moveIf(Authenticated, Refreshing) }),
		bus.Subscribe(events.RefreshGranted, func(events.Name) { s.moveIf(Refreshing, Authenticated) }),
		bus.Subscribe(events.RefreshIndeterminate, func(events.Name) { s.moveIf(Refreshing, Authenticated) }),
	)
	return s
}

// Close detaches the store from the event bus.
func (s *Store) Close() {
	for _, u := range s.unsubscribe {
		u()
	}
	s.unsubscribe = nil
}

// View returns the current snapshot.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() View {
	return View{User: s.user.Clone(), Loading: s.loading, State: s.state}
}

// Subscribe registers fn to receive a View after every change.
func (s *Store) Subscribe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// update applies fn under the lock and notifies subscribers if it reports
// a change.
func (s *Store) update(fn func() bool) {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return
	}
	v := s.viewLocked()
	subs := make([]func(View), 0, len(s.subs))
	for _, f := range s.subs {
		subs = append(subs, f)
	}
	s.mu.Unlock()

	for _, f := range subs {
		f(v)
	}
}

func (s *Store) moveIf(from, to State) {
	s.update(func() bool {
		if s.state != from {
			return false
		}
		s.state = to
		return true
	})
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type sessionResponse struct {
	AccessToken string             `json:"accessToken"`
	User        *identity.Identity `json:"user"`
}

type meResponse struct {
	User *identity.Identity `json:"user"`
}

// Login exchanges credentials for a session. With remember the identity
// survives restarts; otherwise it lives for this process only. On failure
// the previous state is restored and the *apierror.Error is returned.
func (s *Store) Login(ctx context.Context, email, password string, remember bool) (*identity.Identity, error) {
	prev := s.beginAuthenticating()

	var resp sessionResponse
	err := s.api.Do(ctx, http.MethodPost, pathLogin, loginRequest{
		Email:      identity.NormalizeEmail(email),
		Password:   password,
		RememberMe: remember,
	}, &resp, client.WithoutRetry())
	if err == nil {
		err = validateSession(resp)
	}
	if err != nil {
		s.moveIf(Authenticating, prev)
		return nil, err
	}

	scope := persist.ScopeEphemeral
	if remember {
		scope = persist.ScopeDurable
	}
	s.establish(resp.AccessToken, resp.User, scope)
	return resp.User.Clone(), nil
}

func (s *Store) beginAuthenticating() State {
	var prev State
	s.update(func() bool {
		prev = s.state
		if prev == Refreshing {
			prev = Authenticated
		}
		s.state = Authenticating
		return true
	})
	return prev
}

func validateSession(resp sessionResponse) error {
	if resp.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrMalformedSession)
	}
	if err := resp.User.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedSession, err)
	}
	return nil
}

// establish installs a new session: credential and belief, persisted
// identity, Authenticated.
func (s *Store) establish(token string, user *identity.Identity, scope persist.Scope) {
	s.cred.Set(token)
	if err := s.persister.Persist(user, scope); err != nil {
		s.logger.Warn("persisting identity failed", "scope", scope.String(), "error", err)
	}
	s.update(func() bool {
		s.user = user.Clone()
		s.state = Authenticated
		s.loading = false
		s.epoch++
		return true
	})
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Role        identity.Role
	AcceptTerms bool
	// Remember applies to the automatic login that follows registration.
	Remember bool
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Role        string `json:"role"`
	AcceptTerms bool   `json:"acceptTerms"`
}

// Register creates an account and then tries to sign in with it. A failed
// automatic sign-in (for example while the email awaits verification) is
// not an error; the returned identity is nil in that case.
func (s *Store) Register(ctx context.Context, in RegisterInput) (*identity.Identity, error) {
	err := s.api.Do(ctx, http.MethodPost, pathRegister, registerRequest{
		Email:       identity.NormalizeEmail(in.Email),
		Password:    in.Password,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Role:        string(in.Role),
		AcceptTerms: in.AcceptTerms,
	}, nil, client.WithoutRetry())
	if err != nil {
		return nil, err
	}

	user, err := s.Login(ctx, in.Email, in.Password, in.Remember)
	if err != nil {
		if s.debug {
			s.logger.Debug("auto-login after registration failed", "error", err)
		}
		return nil, nil
	}
	return user, nil
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyEmailCode confirms an emailed code. The server answers with a
// session, which is installed for this process only.
func (s *Store) VerifyEmailCode(ctx context.Context, email, code string) (*identity.Identity, error) {
	var resp sessionResponse
	err := s.api.Do(ctx, http.MethodPost, pathVerifyEmail, verifyRequest{
		Email: identity.NormalizeEmail(email),
		Code:  code,
	}, &resp, client.WithoutRetry())
	if err == nil {
		err = validateSession(resp)
	}
	if err != nil {
		return nil, err
	}
	if err := s.SetSession(resp.AccessToken, resp.User); err != nil {
		return nil, err
	}
	return resp.User.Clone(), nil
}

// SetSession installs a session obtained as a side effect of another call.
// The identity is kept in the ephemeral scope.
func (s *Store) SetSession(token string, user *identity.Identity) error {
	if token == "" {
		return fmt.Errorf("%w: missing access token", ErrMalformedSession)
	}
	if err := user.Validate(); err != nil {
		return err
	}
	s.establish(token, user, persist.ScopeEphemeral)
	return nil
}

// UpdateIdentity replaces the signed-in identity in place, keeping the
// scope chosen at login.
func (s *Store) UpdateIdentity(user *identity.Identity) error {
	if err := user.Validate(); err != nil {
		return err
	}
	changed := false
	s.update(func() bool {
		if s.user == nil || s.user.ID != user.ID {
			return false
		}
		s.user = user.Clone()
		changed = true
		return true
	})
	if !changed {
		return ErrNotSignedIn
	}
	return s.persister.Persist(user, persist.ScopeKeep)
}

// ErrNotSignedIn is returned by calls that need a signed-in identity.
var ErrNotSignedIn = errors.New("session: not signed in")

// FetchIdentity reloads the identity from GET /auth/me.
func (s *Store) FetchIdentity(ctx context.Context) (*identity.Identity, error) {
	var me meResponse
	if err := s.api.Do(ctx, http.MethodGet, pathMe, nil, &me); err != nil {
		return nil, err
	}
	if me.User == nil {
		return nil, ErrNotSignedIn
	}
	if err := s.UpdateIdentity(me.User); err != nil {
		return nil, err
	}
	return me.User.Clone(), nil
}

// Logout ends the session. The server call is best effort; local state is
// always cleared.
func (s *Store) Logout(ctx context.Context) {
	if err := s.api.Do(ctx, http.MethodPost, pathLogout, nil, nil, client.WithoutRetry()); err != nil {
		if s.debug {
			s.logger.Debug("server logout failed", "error", err)
		}
	}
	s.clear()
}

func (s *Store) forcedLogout() {
	s.logger.Info("session ended by server")
	s.clear()
}

// clear drops credential, belief, persisted identity and cookies.
func (s *Store) clear() {
	s.cred.Clear()
	if err := s.persister.Persist(nil, persist.ScopeKeep); err != nil {
		s.logger.Warn("clearing persisted identity failed", "error", err)
	}
	if s.jar != nil {
		if err := s.jar.Clear(); err != nil {
			s.logger.Warn("clearing cookies failed", "error", err)
		}
	}
	s.update(func() bool {
		changed := s.user != nil || s.state != Anonymous || s.loading
		s.user = nil
		s.state = Anonymous
		s.loading = false
		s.epoch++
		return changed
	})
}
