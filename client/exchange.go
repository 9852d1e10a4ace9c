package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/coursemart/authclient/apierror"
	"github.com/coursemart/authclient/refresh"
)

// RefreshPath is the cookie-authenticated refresh endpoint.
const RefreshPath = "/auth/refresh"

// NewHTTPClient returns an http.Client that carries cookies. A nil jar gets
// an in-memory jar with the public suffix list.
func NewHTTPClient(jar http.CookieJar, timeout time.Duration) (*http.Client, error) {
	if jar == nil {
		j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		jar = j
	}
	return &http.Client{Jar: jar, Timeout: timeout}, nil
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// RefreshExchange returns the network half of a refresh: POST /auth/refresh
// with cookies only, no bearer. A rejection comes back as *apierror.Error
// so the coordinator can tell 401 (denied) from everything else.
func RefreshExchange(hc *http.Client, baseURL string) (refresh.ExchangeFunc, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}
	endpoint := base.String() + RefreshPath
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", defaultUserAgent)
		req.Header.Set(HeaderRequestID, uuid.NewString())

		resp, err := hc.Do(req)
		if err != nil {
			return "", fmt.Errorf("refresh: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", apierror.New(nil, resp.StatusCode, RefreshPath, errorMessage(resp))
		}
		defer resp.Body.Close()
		var rr refreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return "", fmt.Errorf("refresh: decoding response: %w", err)
		}
		return rr.AccessToken, nil
	}, nil
}
