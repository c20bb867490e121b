// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultTimeout     = 30 * time.Second
)

// transport executes a single logical request against a registry,
// retrying transient failures (connection errors, 5xx, 429) with
// exponential backoff and honoring Retry-After. The per-request timeout
// lives on hc; retry state is local to each call, so no cross-call
// synchronization is needed.
type transport struct {
	hc          *http.Client
	maxAttempts int
	backoffBase time.Duration
	vlogf       func(format string, args ...any)
}

func (t *transport) log(format string, args ...any) {
	if t.vlogf != nil {
		t.vlogf(format, args...)
	}
}

// retryableStatus reports whether a response status warrants another
// attempt. 4xx other than 429 never does.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter parses a Retry-After header as either seconds or an HTTP
// date. Returns 0 when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// do issues method url with the given headers, retrying as documented on
// the transport. On success the response is returned with its body
// transparently decompressed. On exhaustion it returns a TransportError,
// or a RateLimitError when the last response was a 429.
func (t *transport) do(ctx context.Context, method, url string, header http.Header) (*http.Response, error) {
	attempts := t.maxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	base := t.backoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}

	var lastStatus int
	var lastResp *http.Response
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, &TransportError{URL: url, Attempts: attempt, Err: err}
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept-Encoding", "zstd, gzip, deflate")

		resp, err := t.hc.Do(req)
		if err != nil {
			t.log("request %s %s attempt %d/%d failed: %v", method, url, attempt, attempts, err)
			lastErr, lastStatus, lastResp = err, 0, nil
		} else if retryableStatus(resp.StatusCode) {
			t.log("request %s %s attempt %d/%d: status %d", method, url, attempt, attempts, resp.StatusCode)
			lastErr, lastStatus, lastResp = nil, resp.StatusCode, resp
			if attempt < attempts {
				resp.Body.Close()
			}
		} else {
			if err := decompressResponse(resp); err != nil {
				resp.Body.Close()
				return nil, &TransportError{URL: url, Attempts: attempt, Err: err}
			}
			return resp, nil
		}

		if attempt == attempts {
			break
		}
		wait := base << (attempt - 1)
		if ra := retryAfter(lastResp); ra > wait {
			wait = ra
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &TransportError{URL: url, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if lastStatus == http.StatusTooManyRequests && lastResp != nil {
		body, _ := io.ReadAll(io.LimitReader(lastResp.Body, 4096))
		ra := retryAfter(lastResp)
		lastResp.Body.Close()
		return nil, &RateLimitError{
			Reg:        parseRegistryError(url, lastStatus, body),
			RetryAfter: ra,
		}
	}
	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, &TransportError{URL: url, Attempts: attempts, Err: lastErr, Status: lastStatus}
}

// decompressResponse swaps resp.Body for a decompressing reader when the
// registry answered with a compressed Content-Encoding. Counterpart of
// the encodings a registry negotiates from our Accept-Encoding header.
func decompressResponse(resp *http.Response) error {
	switch enc := resp.Header.Get("Content-Encoding"); enc {
	case "", "identity":
		return nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}
		resp.Body = &decompressedBody{r: zr.IOReadCloser(), orig: resp.Body}
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		resp.Body = &decompressedBody{r: gr, orig: resp.Body}
	case "deflate":
		resp.Body = &decompressedBody{r: flate.NewReader(resp.Body), orig: resp.Body}
	default:
		return fmt.Errorf("unsupported content encoding %q", enc)
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return nil
}

type decompressedBody struct {
	r    io.ReadCloser
	orig io.ReadCloser
}

func (b *decompressedBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *decompressedBody) Close() error {
	b.r.Close()
	return b.orig.Close()
}
