// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Credentials identify the caller to a registry's token service. All
// fields optional; the zero value requests anonymous tokens.
type Credentials struct {
	Username string
	Password string
	// IdentityToken is sent as the password with a fixed username, the
	// convention for registries issuing long-lived identity tokens.
	IdentityToken string
}

func (c Credentials) empty() bool {
	return c.Username == "" && c.Password == "" && c.IdentityToken == ""
}

// challenge is a parsed WWW-Authenticate bearer challenge.
type challenge struct {
	Realm   string
	Service string
	Scope   string
}

// parseChallenge parses a header of the form
//
//	Bearer realm="https://auth.example.com/token",service="registry.example.com",scope="repository:foo/bar:pull"
func parseChallenge(header string) (challenge, error) {
	var ch challenge
	scheme, params, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ch, fmt.Errorf("not a bearer challenge: %q", header)
	}
	for _, kv := range splitChallengeParams(params) {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return ch, fmt.Errorf("malformed challenge parameter %q", kv)
		}
		v = strings.Trim(v, `"`)
		switch k {
		case "realm":
			ch.Realm = v
		case "service":
			ch.Service = v
		case "scope":
			ch.Scope = v
		}
	}
	if ch.Realm == "" {
		return ch, fmt.Errorf("challenge missing realm: %q", header)
	}
	return ch, nil
}

// splitChallengeParams splits comma-separated auth parameters, keeping
// commas inside quoted values intact: registries issue scopes like
// scope="repository:foo/bar:pull,push".
func splitChallengeParams(params string) []string {
	var out []string
	start := 0
	inQuote := false
	for i := 0; i < len(params); i++ {
		switch params[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				out = append(out, params[start:i])
				start = i + 1
			}
		}
	}
	return append(out, params[start:])
}

// scopeKey keys the token cache. Distinct scopes negotiate independently.
type scopeKey struct {
	realm, service, scope string
}

func (k scopeKey) String() string {
	return k.realm + "|" + k.service + "|" + k.scope
}

// tokenResponse is the body returned by a token endpoint.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

type cachedToken struct {
	token  string
	expiry time.Time // zero means no known expiry
}

func (t cachedToken) valid(now time.Time) bool {
	return t.token != "" && (t.expiry.IsZero() || now.Before(t.expiry))
}

// authCache negotiates and caches bearer tokens per (realm, service,
// scope). Negotiation for one key is serialized through a singleflight
// group so concurrent callers share a single token request; different
// keys proceed in parallel. Each Client owns exactly one authCache and
// its lifetime ends with the Client.
type authCache struct {
	creds Credentials
	hc    *http.Client
	vlogf func(format string, args ...any)

	mu     sync.Mutex
	tokens map[scopeKey]cachedToken
	group  singleflight.Group
}

func newAuthCache(creds Credentials, hc *http.Client, vlogf func(string, ...any)) *authCache {
	return &authCache{
		creds:  creds,
		hc:     hc,
		vlogf:  vlogf,
		tokens: make(map[scopeKey]cachedToken),
	}
}

func (a *authCache) log(format string, args ...any) {
	if a.vlogf != nil {
		a.vlogf(format, args...)
	}
}

// token returns a bearer token for ch, reusing an unexpired cached token
// when available.
func (a *authCache) token(ctx context.Context, ch challenge) (string, error) {
	key := scopeKey{ch.Realm, ch.Service, ch.Scope}

	a.mu.Lock()
	if t, ok := a.tokens[key]; ok && t.valid(time.Now()) {
		a.mu.Unlock()
		return t.token, nil
	}
	delete(a.tokens, key)
	a.mu.Unlock()

	v, err, _ := a.group.Do(key.String(), func() (any, error) {
		// A concurrent caller may have stored a token while we waited
		// for the flight.
		a.mu.Lock()
		if t, ok := a.tokens[key]; ok && t.valid(time.Now()) {
			a.mu.Unlock()
			return t.token, nil
		}
		a.mu.Unlock()

		t, err := a.fetchToken(ctx, ch)
		if err != nil {
			return "", err
		}
		a.mu.Lock()
		a.tokens[key] = t
		a.mu.Unlock()
		return t.token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetchToken requests a fresh token from the challenge realm.
func (a *authCache) fetchToken(ctx context.Context, ch challenge) (cachedToken, error) {
	u, err := url.Parse(ch.Realm)
	if err != nil {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: fmt.Sprintf("bad realm: %v", err)}
	}
	q := u.Query()
	if ch.Service != "" {
		q.Set("service", ch.Service)
	}
	if ch.Scope != "" {
		q.Set("scope", ch.Scope)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: err.Error()}
	}
	switch {
	case a.creds.IdentityToken != "":
		req.SetBasicAuth("<token>", a.creds.IdentityToken)
	case !a.creds.empty():
		req.SetBasicAuth(a.creds.Username, a.creds.Password)
	}

	a.log("requesting token from %s (service=%q scope=%q)", ch.Realm, ch.Service, ch.Scope)
	resp, err := a.hc.Do(req)
	if err != nil {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: fmt.Sprintf("credentials rejected (status %d)", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: err.Error()}
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: fmt.Sprintf("bad token response: %v", err)}
	}
	token := tr.Token
	if token == "" {
		token = tr.AccessToken
	}
	if token == "" {
		return cachedToken{}, &AuthError{Realm: ch.Realm, Reason: "token endpoint returned no token"}
	}

	ct := cachedToken{token: token}
	if tr.ExpiresIn > 0 {
		ttl := time.Duration(tr.ExpiresIn) * time.Second
		// Refresh slightly early so an expiring token is never sent.
		if ttl > 20*time.Second {
			ttl -= 10 * time.Second
		}
		ct.expiry = time.Now().Add(ttl)
	}
	return ct, nil
}
