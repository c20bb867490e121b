// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Error codes defined by the OCI Distribution Specification. Registries
// include these in the JSON error body of non-2xx responses.
const (
	// ErrCodeBlobUnknown indicates blob is unknown to the registry
	ErrCodeBlobUnknown = "BLOB_UNKNOWN"
	// ErrCodeDigestInvalid indicates provided digest did not match content
	ErrCodeDigestInvalid = "DIGEST_INVALID"
	// ErrCodeManifestUnknown indicates manifest is unknown
	ErrCodeManifestUnknown = "MANIFEST_UNKNOWN"
	// ErrCodeNameInvalid indicates invalid repository name
	ErrCodeNameInvalid = "NAME_INVALID"
	// ErrCodeNameUnknown indicates repository name not known
	ErrCodeNameUnknown = "NAME_UNKNOWN"
	// ErrCodeUnauthorized indicates authentication required
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeDenied indicates requested access denied
	ErrCodeDenied = "DENIED"
	// ErrCodeUnsupported indicates operation is unsupported
	ErrCodeUnsupported = "UNSUPPORTED"
	// ErrCodeTooManyRequests indicates too many requests
	ErrCodeTooManyRequests = "TOOMANYREQUESTS"
)

// ErrorDescriptor is a single error entry in an OCI error response body.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// ErrorResponse is the OCI-compliant error response format.
type ErrorResponse struct {
	Errors []ErrorDescriptor `json:"errors"`
}

// RegistryError is a non-2xx response from a registry, carrying enough
// context to diagnose without retrying blindly.
type RegistryError struct {
	URL        string
	StatusCode int
	Code       string // OCI error code from the body, if present
	Message    string
}

func (e *RegistryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("registry %s: status %d: %s: %s", e.URL, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("registry %s: status %d", e.URL, e.StatusCode)
}

// parseRegistryError builds a RegistryError from a response body, keeping
// only the first error entry the registry reported.
func parseRegistryError(url string, status int, body []byte) *RegistryError {
	re := &RegistryError{URL: url, StatusCode: status}
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Errors) > 0 {
		re.Code = resp.Errors[0].Code
		re.Message = resp.Errors[0].Message
	}
	return re
}

var (
	// ErrNotFound indicates the repository, tag, or digest does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDigestMismatch indicates fetched content did not match its
	// expected digest. Content failing verification is never returned.
	ErrDigestMismatch = errors.New("digest mismatch")
)

// NotFoundError wraps ErrNotFound with the failing request.
type NotFoundError struct {
	Reg *RegistryError
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%v: %v", ErrNotFound, e.Reg) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthError indicates rejected credentials or a malformed auth challenge.
type AuthError struct {
	Realm  string
	Reason string
}

func (e *AuthError) Error() string {
	if e.Realm != "" {
		return fmt.Sprintf("auth failed against %s: %s", e.Realm, e.Reason)
	}
	return fmt.Sprintf("auth failed: %s", e.Reason)
}

// FormatError indicates a manifest, index, or digest that cannot be
// interpreted: unrecognized media type, malformed JSON, or an unsupported
// digest algorithm. Not a transient condition; never retried.
type FormatError struct {
	MediaType string
	Reason    string
}

func (e *FormatError) Error() string {
	if e.MediaType != "" {
		return fmt.Sprintf("bad manifest (%s): %s", e.MediaType, e.Reason)
	}
	return fmt.Sprintf("bad manifest: %s", e.Reason)
}

// RateLimitError indicates HTTP 429 persisted through backoff retries.
type RateLimitError struct {
	Reg        *RegistryError
	RetryAfter time.Duration // hint from the last Retry-After header, 0 if absent
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %v (retry after %v)", e.Reg, e.RetryAfter)
}

// TransportError indicates a connection failure, timeout, or exhausted
// retries against 5xx responses.
type TransportError struct {
	URL      string
	Attempts int
	Err      error // last underlying error or nil if the failure was a status
	Status   int   // last HTTP status, 0 if no response was received
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport %s: %d attempt(s): last status %d", e.URL, e.Attempts, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }
