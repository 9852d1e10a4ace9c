package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/coursemart/authclient/internal/util"
	"github.com/coursemart/authclient/storage"
)

const (
	cookieNamespace = "cookies"
	cookieType      = "COOKIE"
	cookieAADPrefix = "coursemart:cookie:"
)

type storedCookie struct {
	Origin   string        `json:"origin"`
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Path     string        `json:"path,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Expires  time.Time     `json:"expires"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"httpOnly,omitempty"`
	SameSite http.SameSite `json:"sameSite,omitempty"`
}

// CookieJar is an http.CookieJar whose persistent cookies (those with an
// expiry) are mirrored into a repository and restored on start. Session
// cookies stay in memory and die with the process.
type CookieJar struct {
	repo   storage.Repository
	key    []byte
	logger *slog.Logger
	now    func() time.Time

	mu  sync.RWMutex
	jar *cookiejar.Jar
}

var _ http.CookieJar = (*CookieJar)(nil)

// NewCookieJar restores persisted cookies from repo. A nil repo gives a
// memory-only jar. key, when non-empty, seals the stored cookies.
func NewCookieJar(repo storage.Repository, key []byte, logger *slog.Logger) (*CookieJar, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &CookieJar{
		repo:   repo,
		key:    util.CopyBytes(key),
		logger: logger.With("component", "cookiejar"),
		now:    time.Now,
	}
	inner, err := newInnerJar()
	if err != nil {
		return nil, err
	}
	j.jar = inner
	j.restore()
	return j, nil
}

func newInnerJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return jar, nil
}

// SetCookies implements http.CookieJar.
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	j.jar.SetCookies(u, cookies)
	j.mu.RUnlock()

	if j.repo == nil {
		return
	}
	for _, c := range cookies {
		id := cookieID(u, c)
		switch {
		case c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(j.now())):
			j.forget(id)
		case c.MaxAge > 0 || !c.Expires.IsZero():
			j.store(id, u, c)
		default:
			// A session cookie replaces any persisted cookie of the same name.
			j.forget(id)
		}
	}
}

// Cookies implements http.CookieJar.
func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Clear drops every cookie from memory and storage.
func (j *CookieJar) Clear() error {
	inner, err := newInnerJar()
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.jar = inner
	j.mu.Unlock()

	if j.repo == nil {
		return nil
	}
	if err := j.repo.DeleteNamespace(cookieNamespace); err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("clearing stored cookies: %w", err)
	}
	return nil
}

func (j *CookieJar) store(id string, u *url.URL, c *http.Cookie) {
	expires := c.Expires
	if c.MaxAge > 0 {
		expires = j.now().Add(time.Duration(c.MaxAge) * time.Second)
	}
	sc := storedCookie{
		Origin:   (&url.URL{Scheme: u.Scheme, Host: u.Host}).String(),
		Name:     c.Name,
		Value:    c.Value,
		Path:     cookiePath(u, c),
		Domain:   c.Domain,
		Expires:  expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return
	}
	defer util.WipeBytes(data)
	env, err := storage.Seal(j.key, data, []byte(cookieAADPrefix+id))
	if err != nil {
		j.logger.Warn("sealing cookie failed", "cookie", c.Name, "error", err)
		return
	}
	if err := j.repo.Put(cookieNamespace, cookieType, id, env); err != nil {
		j.logger.Warn("persisting cookie failed", "cookie", c.Name, "error", err)
	}
}

func (j *CookieJar) forget(id string) {
	if err := j.repo.Delete(cookieNamespace, cookieType, id); err != nil && !storage.IsNotFound(err) {
		j.logger.Warn("removing cookie failed", "error", err)
	}
}

func (j *CookieJar) restore() {
	if j.repo == nil {
		return
	}
	ids, err := j.repo.List(cookieNamespace, cookieType)
	if err != nil {
		j.logger.Warn("listing stored cookies failed", "error", err)
		return
	}
	now := j.now()
	for _, id := range ids {
		sc, err := j.load(id)
		if err != nil || !sc.Expires.After(now) {
			j.forget(id)
			continue
		}
		origin, err := url.Parse(sc.Origin)
		if err != nil {
			j.forget(id)
			continue
		}
		j.jar.SetCookies(origin, []*http.Cookie{{
			Name:     sc.Name,
			Value:    sc.Value,
			Path:     sc.Path,
			Domain:   sc.Domain,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
			SameSite: sc.SameSite,
		}})
	}
	j.logger.Debug("restored cookies", "count", len(ids))
}

func (j *CookieJar) load(id string) (*storedCookie, error) {
	env, err := j.repo.Get(cookieNamespace, cookieType, id)
	if err != nil {
		return nil, err
	}
	data, err := storage.OpenRecord(j.key, env, []byte(cookieAADPrefix+id))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	var sc storedCookie
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func cookieID(u *url.URL, c *http.Cookie) string {
	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	return domain + "|" + cookiePath(u, c) + "|" + c.Name
}

// cookiePath is the path the cookie applies to: its Path attribute, or the
// default path of the request URL when the attribute is missing.
func cookiePath(u *url.URL, c *http.Cookie) string {
	if c.Path != "" && c.Path[0] == '/' {
		return c.Path
	}
	p := u.Path
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
