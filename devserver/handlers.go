package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coursemart/authclient/identity"
	"github.com/coursemart/authclient/internal/util"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Role        string `json:"role"`
	AcceptTerms bool   `json:"acceptTerms"`
}

// VerifyEmailRequest is the body of POST /auth/verify-email-code.
type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// SessionResponse is returned by every call that establishes a session.
type SessionResponse struct {
	AccessToken string             `json:"accessToken"`
	User        *identity.Identity `json:"user"`
}

// RefreshResponse is returned by POST /auth/refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// UserResponse wraps a user.
type UserResponse struct {
	User *identity.Identity `json:"user"`
}

// MessageResponse carries an informational message.
type MessageResponse struct {
	Message string `json:"message"`
}

const minPasswordLength = 8

// Login handles POST /auth/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := identity.NormalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok || acct.password != req.Password {
		writeError(w, http.StatusBadRequest, "Invalid email or password")
		return
	}
	if s.requireEmail && !acct.user.EmailVerified {
		writeError(w, http.StatusForbidden, "Please verify your email before signing in")
		return
	}
	s.startSessionLocked(w, r, acct, req.RememberMe)
}

// Register handles POST /auth/register.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := identity.NormalizeEmail(req.Email)
	role := identity.Role(strings.ToLower(req.Role))
	switch {
	case !strings.Contains(email, "@"):
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	case len(req.Password) < minPasswordLength:
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	case !req.AcceptTerms:
		writeError(w, http.StatusBadRequest, "You must accept the terms")
		return
	case role != identity.RoleStudent && role != identity.RoleTutor:
		writeError(w, http.StatusBadRequest, "Role must be student or tutor")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		writeError(w, http.StatusConflict, "An account with this email already exists")
		return
	}
	user := identity.Identity{
		ID:             uuid.NewString(),
		Email:          email,
		Role:           role,
		Status:         identity.StatusActive,
		EmailVerified:  !s.requireEmail,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		OnboardingStep: 1,
	}
	if s.requireEmail {
		user.Status = identity.StatusPendingVerification
		code, err := util.RandomDigits(6)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.codes[email] = code
		s.logger.Info("verification code issued", "email", email, "code", code)
	}
	s.accounts[email] = &account{user: user, password: req.Password}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "registered"})
}

// VerifyEmailCode handles POST /auth/verify-email-code. A valid code marks
// the email verified and starts a non-remembered session.
func (s *Server) VerifyEmailCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := identity.NormalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	code, pending := s.codes[email]
	if !ok || !pending || code != strings.TrimSpace(req.Code) {
		writeError(w, http.StatusBadRequest, "Invalid or expired verification code")
		return
	}
	delete(s.codes, email)
	acct.user.EmailVerified = true
	acct.user.Status = identity.StatusActive
	s.startSessionLocked(w, r, acct, false)
}

func (s *Server) startSessionLocked(w http.ResponseWriter, r *http.Request, acct *account, remember bool) {
	token, err := s.issueAccessLocked(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.issueRefreshLocked(w, r, acct.user.ID, remember); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user := acct.user.Clone()
	writeJSON(w, http.StatusOK, SessionResponse{AccessToken: token, User: user})
}

// Refresh handles POST /auth/refresh. The refresh cookie is single use:
// a successful exchange replaces it.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	mode, delay := s.mode, s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	switch mode {
	case RefreshFail:
		writeError(w, http.StatusServiceUnavailable, "refresh temporarily unavailable")
		return
	case RefreshDeny:
		clearRefreshCookie(w, r)
		writeError(w, http.StatusUnauthorized, "refresh token expired")
		return
	}

	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.refresh[cookie.Value]
	delete(s.refresh, cookie.Value)
	if !ok || s.now().After(sess.expiresAt) {
		clearRefreshCookie(w, r)
		writeError(w, http.StatusUnauthorized, "refresh token expired")
		return
	}
	acct := s.accountByIDLocked(sess.userID)
	if acct == nil {
		clearRefreshCookie(w, r)
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	token, err := s.issueAccessLocked(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.issueRefreshLocked(w, r, acct.user.ID, sess.remember); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: token})
}

// Logout handles POST /auth/logout. It revokes the refresh cookie, if any.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		s.mu.Lock()
		delete(s.refresh, cookie.Value)
		s.mu.Unlock()
	}
	clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accountByIDLocked(userIDFrom(r.Context()))
	if acct == nil {
		writeJSON(w, http.StatusOK, UserResponse{})
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: acct.user.Clone()})
}

func (s *Server) accountByIDLocked(id string) *account {
	for _, acct := range s.accounts {
		if acct.user.ID == id {
			return acct
		}
	}
	return nil
}
