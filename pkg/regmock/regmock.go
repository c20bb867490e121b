// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regmock is an in-memory registry implementing just enough of
// the OCI Distribution Specification pull workflow to exercise the
// client: manifest and blob GET/HEAD/DELETE, tag listing, bearer token
// auth, and injectable failure modes. It exists for tests and examples;
// it is not a production registry.
package regmock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
)

type manifest struct {
	mediaType string
	data      []byte
	digest    digest.Digest
}

// Registry is an in-memory mock registry. Configure fields before
// serving; they are not safe to change while requests are in flight.
type Registry struct {
	// TokenAuth, when set, rejects unauthenticated requests with a
	// bearer challenge pointing at this registry's /token endpoint.
	TokenAuth bool
	// Service is the service name announced in the challenge.
	Service string
	// Username and Password, when set, are required as basic auth on
	// the token endpoint.
	Username, Password string

	// FailStatus, when nonzero, is returned for manifest requests
	// until FailCount requests have failed; FailCount < 0 fails every
	// request. RetryAfterSecs, when nonzero, is sent with failures.
	FailStatus     int
	FailCount      int
	RetryAfterSecs int

	// CorruptDigestHeader sends a wrong Docker-Content-Digest header
	// on manifest responses, to exercise digest verification.
	CorruptDigestHeader bool
	// OmitDigestHeader suppresses the Docker-Content-Digest header.
	OmitDigestHeader bool

	mu        sync.Mutex
	manifests map[string]map[string]manifest // repo -> tag or digest -> manifest
	blobs     map[digest.Digest][]byte
	tags      map[string][]string

	failed           atomic.Int64
	tokenRequests    atomic.Int64
	manifestRequests atomic.Int64
}

// New creates an empty mock registry.
func New() *Registry {
	return &Registry{
		manifests: make(map[string]map[string]manifest),
		blobs:     make(map[digest.Digest][]byte),
		tags:      make(map[string][]string),
	}
}

// AddManifest stores data under repo:reference and under its digest,
// returning the digest.
func (r *Registry) AddManifest(repo, reference, mediaType string, data []byte) digest.Digest {
	d := digest.FromBytes(data)
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manifests[repo]
	if !ok {
		m = make(map[string]manifest)
		r.manifests[repo] = m
	}
	mf := manifest{mediaType: mediaType, data: data, digest: d}
	if reference != "" {
		m[reference] = mf
		if !strings.Contains(reference, ":") {
			r.tags[repo] = append(r.tags[repo], reference)
		}
	}
	m[d.String()] = mf
	return d
}

// AddBlob stores a blob, returning its digest.
func (r *Registry) AddBlob(data []byte) digest.Digest {
	d := digest.FromBytes(data)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[d] = data
	return d
}

// TokenRequests reports how many token endpoint requests were served.
func (r *Registry) TokenRequests() int64 { return r.tokenRequests.Load() }

// ManifestRequests reports how many manifest requests were received,
// including injected failures.
func (r *Registry) ManifestRequests() int64 { return r.manifestRequests.Load() }

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{"code": code, "message": message}},
	})
}

// ServeHTTP implements http.Handler.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.Trim(req.URL.Path, "/")
	switch {
	case path == "token":
		r.handleToken(w, req)
		return
	case path == "v2":
		w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.TokenAuth && !r.authorized(req) {
		realm := fmt.Sprintf("http://%s/token", req.Host)
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer realm=%q,service=%q,scope="repository:*:pull"`, realm, r.Service))
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	parts := strings.Split(path, "/")
	if len(parts) < 3 || parts[0] != "v2" {
		http.NotFound(w, req)
		return
	}
	// Repo may contain slashes; the operation is the first of
	// manifests/blobs/tags after it.
	var opIdx int
	for i := 1; i < len(parts); i++ {
		if parts[i] == "manifests" || parts[i] == "blobs" || parts[i] == "tags" {
			opIdx = i
			break
		}
	}
	if opIdx == 0 || opIdx+1 >= len(parts) {
		http.NotFound(w, req)
		return
	}
	repo := strings.Join(parts[1:opIdx], "/")
	switch parts[opIdx] {
	case "manifests":
		r.handleManifest(w, req, repo, strings.Join(parts[opIdx+1:], "/"))
	case "blobs":
		r.handleBlob(w, req, repo, parts[opIdx+1])
	case "tags":
		r.handleTags(w, req, repo)
	default:
		http.NotFound(w, req)
	}
}

func (r *Registry) authorized(req *http.Request) bool {
	auth := req.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") != ""
}

func (r *Registry) handleToken(w http.ResponseWriter, req *http.Request) {
	r.tokenRequests.Add(1)
	if r.Username != "" {
		u, p, ok := req.BasicAuth()
		if !ok || u != r.Username || p != r.Password {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "bad credentials")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":      "mock-token",
		"expires_in": 300,
	})
}

// injectFailure returns true after writing a configured failure response.
func (r *Registry) injectFailure(w http.ResponseWriter) bool {
	if r.FailStatus == 0 {
		return false
	}
	if r.FailCount >= 0 && r.failed.Load() >= int64(r.FailCount) {
		return false
	}
	r.failed.Add(1)
	if r.RetryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(r.RetryAfterSecs))
	}
	writeError(w, r.FailStatus, "UNSUPPORTED", "injected failure")
	return true
}

func (r *Registry) handleManifest(w http.ResponseWriter, req *http.Request, repo, reference string) {
	r.manifestRequests.Add(1)
	if r.injectFailure(w) {
		return
	}
	r.mu.Lock()
	mf, ok := r.manifests[repo][reference]
	r.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest not found")
		return
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		w.Header().Set("Content-Type", mf.mediaType)
		if !r.OmitDigestHeader {
			d := mf.digest
			if r.CorruptDigestHeader {
				d = digest.FromString("corrupted")
			}
			w.Header().Set("Docker-Content-Digest", d.String())
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(mf.data)))
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodGet {
			w.Write(mf.data)
		}
	case http.MethodDelete:
		r.mu.Lock()
		delete(r.manifests[repo], reference)
		r.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	default:
		writeError(w, http.StatusMethodNotAllowed, "UNSUPPORTED", "method not allowed")
	}
}

func (r *Registry) handleBlob(w http.ResponseWriter, req *http.Request, repo, dgst string) {
	d, err := digest.Parse(dgst)
	if err != nil {
		writeError(w, http.StatusBadRequest, "DIGEST_INVALID", err.Error())
		return
	}
	r.mu.Lock()
	data, ok := r.blobs[d]
	r.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Docker-Content-Digest", d.String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		w.Write(data)
	}
}

func (r *Registry) handleTags(w http.ResponseWriter, req *http.Request, repo string) {
	r.mu.Lock()
	tags := append([]string(nil), r.tags[repo]...)
	r.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"name": repo, "tags": tags})
}
