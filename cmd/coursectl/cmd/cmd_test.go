package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursemart/authclient/devserver"
	"github.com/coursemart/authclient/identity"
	"github.com/coursemart/authclient/persist"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type harness struct {
	srv     *devserver.Server
	url     string
	dataDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := devserver.New(devserver.WithUser(identity.Identity{
		ID:            "u-1",
		Email:         "ada@example.com",
		Role:          identity.RoleStudent,
		Status:        identity.StatusActive,
		EmailVerified: true,
		FirstName:     "Ada",
		LastName:      "Lovelace",
	}, "correct horse"))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, url: ts.URL, dataDir: t.TempDir()}
}

// run executes one coursectl invocation, the equivalent of a fresh process.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out, _, err := h.exec(t, stdin, args...)
	return out, err
}

func (h *harness) exec(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetArgs(append([]string{"--api-url", h.url, "--data-dir", h.dataDir, "--log-level", "error", "--metrics=false"}, args...))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err = rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRememberedSessionSurvivesInvocations(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "correct horse\n", "login", "ada@example.com", "--remember=true", "--password=")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as Ada Lovelace")

	out, err = h.run(t, "", "whoami", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")
	assert.Contains(t, out, "session:  authenticated")
	assert.Equal(t, 1, h.srv.RefreshCalls(), "the second invocation restores the session through one refresh")

	out, err = h.run(t, "", "get", "/profile")
	require.NoError(t, err)
	assert.Contains(t, out, "u-1")

	out, err = h.run(t, "", "session", "inspect", "--json=true")
	require.NoError(t, err)
	var report persist.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, "u-1", report.UserID)
	assert.Equal(t, 1, report.Cookies)

	_, err = h.run(t, "", "logout")
	require.NoError(t, err)
	_, err = h.run(t, "", "whoami", "--json=false")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestMetricsFlag(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "login", "ada@example.com", "--remember=true", "--password=correct horse")
	require.NoError(t, err)

	out, stderr, err := h.exec(t, "", "get", "/profile", "--metrics=true")
	require.NoError(t, err)
	assert.Contains(t, out, "u-1")
	assert.Contains(t, stderr, `authclient_refresh_total{outcome="granted"} 1`)
	assert.Contains(t, stderr, `authclient_requests_total{class="2xx"} 2`, "GET /auth/me at start plus GET /profile")
	assert.Contains(t, stderr, "authclient_retries_total 0")

	_, stderr, err = h.exec(t, "", "whoami")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "authclient_", "counters are only written on request")
}

func TestUnrememberedSessionEndsWithProcess(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "login", "ada@example.com", "--remember=false", "--password=correct horse")
	require.NoError(t, err)
	assert.Contains(t, out, "use --remember")

	before := h.srv.TotalCalls()
	_, err = h.run(t, "", "whoami", "--json=false")
	assert.ErrorIs(t, err, errNotSignedIn)
	assert.Equal(t, before, h.srv.TotalCalls(), "no stored session means no network calls at start")
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "login", "ada@example.com", "--remember=false", "--password=wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid email or password")
}

func TestReadPasswordRequired(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "login", "ada@example.com", "--remember=false", "--password=")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password is required")
}

func TestParseSeedUser(t *testing.T) {
	user, pw, err := parseSeedUser("Tutor@Example.com:secret:tutor")
	require.NoError(t, err)
	assert.Equal(t, "tutor@example.com", user.Email)
	assert.Equal(t, identity.RoleTutor, user.Role)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, "secret", pw)

	user, _, err = parseSeedUser("s@example.com:pw")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleStudent, user.Role)

	for _, bad := range []string{"", "nopassword", ":pw", "a@b.c:"} {
		_, _, err := parseSeedUser(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, printJSON(&buf, nil))
	assert.Empty(t, buf.String())
}
