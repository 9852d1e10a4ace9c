// Package devserver is an in-memory stand-in for the marketplace auth API.
// It issues short-lived HS256 access tokens and rotating refresh cookies,
// and exposes knobs that let tests force refresh denial or failure.
//
// Passwords are fixture data kept in plain memory; this is a test double,
// not an auth server.
package devserver

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/coursemart/authclient/identity"
	"github.com/coursemart/authclient/internal/util"
)

//go:embed openapi.yaml
var openapiSpec []byte

// RefreshCookieName is the http-only cookie carrying the refresh token.
const RefreshCookieName = "refresh_token"

// RefreshMode selects how POST /auth/refresh answers.
type RefreshMode int

const (
	// RefreshNormal rotates the refresh cookie and issues a token.
	RefreshNormal RefreshMode = iota
	// RefreshDeny answers 401 as if the refresh cookie expired.
	RefreshDeny
	// RefreshFail answers 503.
	RefreshFail
)

type account struct {
	user     identity.Identity
	password string
}

type refreshSession struct {
	userID    string
	remember  bool
	expiresAt time.Time
}

// Server holds the fake API state. It is safe for concurrent use.
type Server struct {
	signingKey   []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	requireEmail bool
	logger       *slog.Logger
	now          func() time.Time

	mu           sync.Mutex
	accounts     map[string]*account // by normalized email
	refresh      map[string]refreshSession
	codes        map[string]string
	orders       map[string][]Order
	epoch        int
	mode         RefreshMode
	refreshDelay time.Duration
	calls        map[string]int
	lastAccess   string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the structured logger.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSigningKey sets the HS256 key for access tokens.
func WithSigningKey(key []byte) Option {
	return func(s *Server) {
		s.signingKey = util.CopyBytes(key)
	}
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = d
	}
}

// WithRefreshTTL sets the lifetime of remembered refresh cookies.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Server) {
		s.refreshTTL = d
	}
}

// RequireEmailVerification makes new accounts unable to log in until they
// verify the emailed code.
func RequireEmailVerification() Option {
	return func(s *Server) {
		s.requireEmail = true
	}
}

// WithUser seeds an account.
func WithUser(user identity.Identity, password string) Option {
	return func(s *Server) {
		user.Email = identity.NormalizeEmail(user.Email)
		s.accounts[user.Email] = &account{user: user, password: password}
	}
}

// New creates a Server with a random signing key.
func New(opts ...Option) *Server {
	s := &Server{
		accessTTL:  15 * time.Minute,
		refreshTTL: 30 * 24 * time.Hour,
		now:        time.Now,
		accounts:   make(map[string]*account),
		refresh:    make(map[string]refreshSession),
		codes:      make(map[string]string),
		orders:     make(map[string][]Order),
		calls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.signingKey) == 0 {
		key, err := util.RandomBytes(32)
		if err != nil {
			panic(err)
		}
		s.signingKey = key
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	s.logger = s.logger.With("component", "devserver")
	return s
}

// Router returns a chi.Router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.countCalls)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Post("/auth/login", s.Login)
	r.Post("/auth/register", s.Register)
	r.Post("/auth/verify-email-code", s.VerifyEmailCode)
	r.Post("/auth/refresh", s.Refresh)
	r.Post("/auth/logout", s.Logout)
	r.With(s.RequireBearer).Get("/auth/me", s.Me)

	r.Get("/courses", s.ListCourses)
	r.Group(func(r chi.Router) {
		r.Use(s.RequireBearer)
		r.Get("/orders", s.ListOrders)
		r.Post("/orders", s.CreateOrder)
		r.Get("/profile", s.GetProfile)
		r.Patch("/profile", s.UpdateProfile)
		r.Get("/tutors/me/profile", s.TutorProfile)
		r.Get("/students/me/profile", s.StudentProfile)
	})
	return r
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// SetRefreshMode changes how /auth/refresh answers.
func (s *Server) SetRefreshMode(m RefreshMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// SetRefreshDelay makes /auth/refresh wait before answering.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// RevokeAccessTokens invalidates every access token issued so far, as if
// they had all expired. Refresh cookies stay valid.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
}

// Calls returns how many requests hit path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls returns how many requests the server received.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// RefreshCalls returns how many refresh exchanges were attempted.
func (s *Server) RefreshCalls() int {
	return s.Calls("/auth/refresh")
}

// LastAccessToken returns the most recently issued access token.
func (s *Server) LastAccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// VerificationCode returns the pending email verification code for email.
func (s *Server) VerificationCode(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[identity.NormalizeEmail(email)]
	return code, ok
}

// ActiveRefreshTokens returns how many refresh tokens are currently valid.
func (s *Server) ActiveRefreshTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refresh)
}
