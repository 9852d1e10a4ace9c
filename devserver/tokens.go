package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/coursemart/authclient/internal/util"
)

type contextKey int

const userIDKey contextKey = iota

const issuer = "coursemart-devserver"

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
	Epoch int    `json:"epoch"`
}

var errRevoked = errors.New("token revoked")

// issueAccessLocked signs a new access token. Callers hold s.mu.
func (s *Server) issueAccessLocked(acct *account) (string, error) {
	now := s.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   acct.user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
		Email: acct.user.Email,
		Role:  string(acct.user.Role),
		Epoch: s.epoch,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	s.lastAccess = signed
	return signed, nil
}

func (s *Server) parseAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	if claims.Epoch != epoch {
		return nil, errRevoked
	}
	return &claims, nil
}

// issueRefreshLocked creates a one-time refresh token and sets its cookie.
// Callers hold s.mu.
func (s *Server) issueRefreshLocked(w http.ResponseWriter, r *http.Request, userID string, remember bool) error {
	raw, err := util.RandomBytes(32)
	if err != nil {
		return err
	}
	token := util.HexEncode(raw)
	ttl := s.refreshTTL
	if !remember {
		// A browser-session cookie still needs a server-side bound.
		ttl = 24 * time.Hour
	}
	expiresAt := s.now().Add(ttl)
	s.refresh[token] = refreshSession{userID: userID, remember: remember, expiresAt: expiresAt}

	c := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		c.MaxAge = int(ttl / time.Second)
		c.Expires = expiresAt
	}
	http.SetCookie(w, c)
	return nil
}

func clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// RequireBearer rejects requests without a valid access token and stores
// the caller's user ID on the request context.
func (s *Server) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := s.parseAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired access token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
