// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/yeetrun/spyglass/pkg/ref"
)

// maxManifestBytes bounds manifest and token response reads. Manifests
// are small documents; anything larger is malformed.
const maxManifestBytes = 4 << 20

// Config configures a Client. The zero value is usable and anonymous.
type Config struct {
	// Credentials are exchanged for bearer tokens when the registry
	// issues an auth challenge.
	Credentials Credentials
	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
	// MaxAttempts bounds retries per request, counting the first
	// attempt. Defaults to 3.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt and
	// is overridden by a larger Retry-After. Defaults to 500ms.
	BackoffBase time.Duration
	// FallbackPlatform is used when an index has no entry exactly
	// matching the requested platform. Defaults to linux/amd64.
	// Registries disagree on fallback conventions, so this is
	// configurable rather than assumed.
	FallbackPlatform ocispec.Platform
	// PlainHTTP addresses the registry over http instead of https.
	// Meant for localhost registries and tests.
	PlainHTTP bool
	// Logf, when set, receives verbose client logs.
	Logf func(format string, args ...any)
	// HTTPClient overrides the underlying HTTP client. Timeout is not
	// applied to an override.
	HTTPClient *http.Client
}

// Client talks to OCI distribution registries. Each Client owns its own
// token cache; Clients never share state.
type Client struct {
	tp        *transport
	auth      *authCache
	fallback  ocispec.Platform
	plainHTTP bool
	vlogf     func(format string, args ...any)
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	fallback := cfg.FallbackPlatform
	if fallback.OS == "" && fallback.Architecture == "" {
		fallback = ocispec.Platform{OS: "linux", Architecture: "amd64"}
	}
	return &Client{
		tp: &transport{
			hc:          hc,
			maxAttempts: cfg.MaxAttempts,
			backoffBase: cfg.BackoffBase,
			vlogf:       cfg.Logf,
		},
		auth:      newAuthCache(cfg.Credentials, hc, cfg.Logf),
		fallback:  fallback,
		plainHTTP: cfg.PlainHTTP,
		vlogf:     cfg.Logf,
	}
}

func (c *Client) log(format string, args ...any) {
	if c.vlogf != nil {
		c.vlogf(format, args...)
	}
}

// baseURL returns the /v2 repository base URL for r, e.g.
// https://quay.io/v2/ibm/hello-world.
func (c *Client) baseURL(r ref.Reference) string {
	scheme := "https"
	if c.plainHTTP {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/v2/%s", scheme, r.APIHost(), r.Path)
}

// roundTrip issues one registry request, negotiating bearer auth on a
// 401 challenge and retrying the request once with the token. A second
// 401 is terminal.
func (c *Client) roundTrip(ctx context.Context, method, url string, header http.Header) (*http.Response, error) {
	if header == nil {
		header = http.Header{}
	}
	resp, err := c.tp.do(ctx, method, url, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	wwwAuth := resp.Header.Get("WWW-Authenticate")
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if wwwAuth == "" {
		return nil, &AuthError{Reason: "401 with no WWW-Authenticate challenge"}
	}
	if strings.HasPrefix(strings.ToLower(wwwAuth), "basic") {
		// Registry wants plain basic auth rather than token auth.
		return c.basicRetry(ctx, method, url, header)
	}
	ch, err := parseChallenge(wwwAuth)
	if err != nil {
		return nil, &AuthError{Reason: err.Error()}
	}
	token, err := c.auth.token(ctx, ch)
	if err != nil {
		return nil, err
	}

	header = header.Clone()
	header.Set("Authorization", "Bearer "+token)
	resp, err = c.tp.do(ctx, method, url, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, &AuthError{Realm: ch.Realm, Reason: "credentials rejected after token retry"}
	}
	return resp, nil
}

// basicRetry retries a request with basic credentials for registries
// that do not run a token service.
func (c *Client) basicRetry(ctx context.Context, method, url string, header http.Header) (*http.Response, error) {
	creds := c.auth.creds
	if creds.empty() {
		return nil, &AuthError{Reason: "registry requires credentials"}
	}
	username, password := creds.Username, creds.Password
	if username == "" && creds.IdentityToken != "" {
		// Same convention as the token endpoint.
		username, password = "<token>", creds.IdentityToken
	}
	header = header.Clone()
	basic := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	header.Set("Authorization", "Basic "+basic)
	resp, err := c.tp.do(ctx, method, url, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, &AuthError{Reason: "credentials rejected"}
	}
	return resp, nil
}

// checkStatus maps remaining non-2xx statuses to the error taxonomy.
// Body is consumed on error.
func checkStatus(resp *http.Response, url string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	re := parseRegistryError(url, resp.StatusCode, body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return &NotFoundError{Reg: re}
	case http.StatusForbidden:
		return &AuthError{Reason: re.Error()}
	default:
		return re
	}
}

// ManifestResponse is a raw manifest endpoint response. Body has been
// digest-verified against the Docker-Content-Digest header when the
// registry sent one.
type ManifestResponse struct {
	MediaType string
	Digest    digest.Digest
	Body      []byte
}

// GetManifest fetches the manifest or index for r without interpreting
// it beyond digest verification.
func (c *Client) GetManifest(ctx context.Context, r ref.Reference) (*ManifestResponse, error) {
	return c.fetchManifest(ctx, r, r.Digest)
}

func (c *Client) fetchManifest(ctx context.Context, r ref.Reference, expected digest.Digest) (*ManifestResponse, error) {
	url := c.baseURL(r) + "/manifests/" + r.Identifier()
	header := http.Header{}
	header.Set("Accept", strings.Join(defaultAcceptedMediaTypes, ","))

	c.log("GET %s", url)
	resp, err := c.roundTrip(ctx, http.MethodGet, url, header)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, url); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	resp.Body.Close()
	if err != nil {
		return nil, &TransportError{URL: url, Attempts: 1, Err: err}
	}

	mr := &ManifestResponse{
		MediaType: resp.Header.Get("Content-Type"),
		Body:      body,
	}

	// Verify against the digest we asked for and the digest the registry
	// claims, in that order. Content failing either check is discarded.
	if expected != "" {
		if err := verifyDigest(body, expected); err != nil {
			return nil, err
		}
		mr.Digest = expected
	}
	if hdr := resp.Header.Get("Docker-Content-Digest"); hdr != "" {
		hd, err := digest.Parse(hdr)
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("bad Docker-Content-Digest header %q: %v", hdr, err)}
		}
		if err := verifyDigest(body, hd); err != nil {
			return nil, err
		}
		mr.Digest = hd
	}
	if mr.Digest == "" {
		// Registry sent no digest header; compute one so the caller
		// always learns the content address.
		mr.Digest = digest.Canonical.FromBytes(body)
	}
	return mr, nil
}

// GetBlob streams the blob named by dgst. The caller is responsible for
// closing the reader; the stream is not digest-verified since it is not
// fully read here.
func (c *Client) GetBlob(ctx context.Context, r ref.Reference, dgst digest.Digest) (io.ReadCloser, error) {
	if err := dgst.Validate(); err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("bad blob digest %q: %v", dgst, err)}
	}
	url := c.baseURL(r) + "/blobs/" + dgst.String()
	c.log("GET %s", url)
	resp, err := c.roundTrip(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, url); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetBlobBytes fetches and digest-verifies a small blob such as an image
// config. limit bounds the read; pass 0 for the default manifest bound.
func (c *Client) GetBlobBytes(ctx context.Context, r ref.Reference, dgst digest.Digest, limit int64) ([]byte, error) {
	rc, err := c.GetBlob(ctx, r, dgst)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if limit <= 0 {
		limit = maxManifestBytes
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, &TransportError{URL: c.baseURL(r) + "/blobs/" + dgst.String(), Attempts: 1, Err: err}
	}
	if err := verifyDigest(body, dgst); err != nil {
		return nil, err
	}
	return body, nil
}

// GetConfig fetches and decodes the image config blob described by desc.
func (c *Client) GetConfig(ctx context.Context, r ref.Reference, desc ocispec.Descriptor) (*ocispec.Image, error) {
	var limit int64
	if desc.Size > 0 {
		limit = desc.Size + 1
	}
	body, err := c.GetBlobBytes(ctx, r, desc.Digest, limit)
	if err != nil {
		return nil, err
	}
	var img ocispec.Image
	if err := json.Unmarshal(body, &img); err != nil {
		return nil, &FormatError{MediaType: desc.MediaType, Reason: fmt.Sprintf("bad config blob: %v", err)}
	}
	return &img, nil
}

// tagList is the /tags/list response shape.
type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ListTags returns the tags of r's repository.
func (c *Client) ListTags(ctx context.Context, r ref.Reference) ([]string, error) {
	url := c.baseURL(r) + "/tags/list"
	header := http.Header{}
	header.Set("Accept", "application/json")
	c.log("GET %s", url)
	resp, err := c.roundTrip(ctx, http.MethodGet, url, header)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, url); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	resp.Body.Close()
	if err != nil {
		return nil, &TransportError{URL: url, Attempts: 1, Err: err}
	}
	var tl tagList
	if err := json.Unmarshal(body, &tl); err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("bad tag list: %v", err)}
	}
	return tl.Tags, nil
}

// DeleteManifest deletes the manifest r points at. Most registries only
// accept deletion by digest.
func (c *Client) DeleteManifest(ctx context.Context, r ref.Reference) error {
	url := c.baseURL(r) + "/manifests/" + r.Identifier()
	c.log("DELETE %s", url)
	resp, err := c.roundTrip(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	if err := checkStatus(resp, url); err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}
