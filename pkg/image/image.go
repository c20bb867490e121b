// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package image is the high-level interface for inspecting container
// images in remote registries: it composes reference parsing, the
// registry client, and size aggregation behind a single Image type.
//
// An Image memoizes its resolved manifest and config for its lifetime.
// Two Image instances never share caches, so distinct tenants get
// distinct auth and resolution state.
package image

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/yeetrun/spyglass/pkg/byteunit"
	"github.com/yeetrun/spyglass/pkg/ref"
	"github.com/yeetrun/spyglass/pkg/regclient"
)

// Options configure an Image. The zero value inspects public images for
// the host platform.
type Options struct {
	// Credentials authenticate against the registry's token service.
	Credentials regclient.Credentials
	// Platform selects the manifest from a multi-platform index.
	// Defaults to the host platform.
	Platform *ocispec.Platform
	// FallbackPlatform is tried when the index has no exact match for
	// Platform. Defaults to linux/amd64.
	FallbackPlatform *ocispec.Platform
	// DefaultRegistry is substituted for host-less references.
	// Defaults to docker.io.
	DefaultRegistry string
	// Timeout bounds each registry request.
	Timeout time.Duration
	// MaxAttempts bounds transport retries per request.
	MaxAttempts int
	// PlainHTTP uses http for the registry; for local registries and tests.
	PlainHTTP bool
	// Logf receives verbose logs when set.
	Logf func(format string, args ...any)
}

// Image is a container image in a remote registry. All operations
// resolve lazily on first use and are safe for concurrent callers.
type Image struct {
	ref    ref.Reference
	client *regclient.Client
	target ocispec.Platform

	mu       sync.Mutex
	resolved *regclient.Resolved
	config   *ocispec.Image
}

// HostPlatform returns the platform of the running host in registry
// terms. GOOS/GOARCH already use the registry's os/arch vocabulary.
func HostPlatform() ocispec.Platform {
	return ocispec.Platform{OS: runtime.GOOS, Architecture: runtime.GOARCH}
}

// New parses refStr and prepares an Image with its own registry client.
// No network I/O happens until an operation is called.
func New(refStr string, opts Options) (*Image, error) {
	defaultReg := opts.DefaultRegistry
	if defaultReg == "" {
		defaultReg = ref.DefaultRegistry
	}
	r, err := ref.ParseWithDefault(refStr, defaultReg)
	if err != nil {
		return nil, err
	}

	target := HostPlatform()
	if opts.Platform != nil {
		target = *opts.Platform
	}
	cfg := regclient.Config{
		Credentials: opts.Credentials,
		Timeout:     opts.Timeout,
		MaxAttempts: opts.MaxAttempts,
		PlainHTTP:   opts.PlainHTTP,
		Logf:        opts.Logf,
	}
	if opts.FallbackPlatform != nil {
		cfg.FallbackPlatform = *opts.FallbackPlatform
	}
	return &Image{
		ref:    r,
		client: regclient.New(cfg),
		target: target,
	}, nil
}

// Ref returns the parsed reference.
func (img *Image) Ref() ref.Reference { return img.ref }

// String returns the normalized reference string.
func (img *Image) String() string { return img.ref.String() }

// resolve memoizes the platform-resolved terminal manifest.
func (img *Image) resolve(ctx context.Context) (*regclient.Resolved, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.resolved != nil {
		return img.resolved, nil
	}
	res, err := img.client.Resolve(ctx, img.ref, img.target)
	if err != nil {
		return nil, err
	}
	img.resolved = res
	return res, nil
}

// Digest returns the content digest of the terminal manifest, resolving
// the image on first call. For a tag reference this is the digest the
// tag currently points at (through the index, for multi-platform images).
func (img *Image) Digest(ctx context.Context) (digest.Digest, error) {
	res, err := img.resolve(ctx)
	if err != nil {
		return "", err
	}
	return res.Digest, nil
}

// Manifest returns the platform-resolved terminal manifest.
func (img *Image) Manifest(ctx context.Context) (ocispec.Manifest, error) {
	res, err := img.resolve(ctx)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	return res.Manifest, nil
}

// RawManifest returns the terminal manifest's verified raw bytes and
// media type.
func (img *Image) RawManifest(ctx context.Context) ([]byte, string, error) {
	res, err := img.resolve(ctx)
	if err != nil {
		return nil, "", err
	}
	return res.Raw, res.MediaType, nil
}

// Size returns the aggregate image size in bytes: config blob plus all
// layer blobs of the platform-resolved manifest. Layer payloads are
// never downloaded; sizes come from the manifest's descriptors.
func (img *Image) Size(ctx context.Context) (int64, error) {
	res, err := img.resolve(ctx)
	if err != nil {
		return 0, err
	}
	return res.Size(), nil
}

// SizeFormatted returns Size rendered human readable, e.g. "499.91 MB".
func (img *Image) SizeFormatted(ctx context.Context) (string, error) {
	n, err := img.Size(ctx)
	if err != nil {
		return "", err
	}
	return byteunit.Format(n), nil
}

// Config fetches and memoizes the image config blob.
func (img *Image) Config(ctx context.Context) (*ocispec.Image, error) {
	res, err := img.resolve(ctx)
	if err != nil {
		return nil, err
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.config != nil {
		return img.config, nil
	}
	cfg, err := img.client.GetConfig(ctx, img.ref, res.Manifest.Config)
	if err != nil {
		return nil, err
	}
	img.config = cfg
	return cfg, nil
}

// Labels returns the config labels, nil when the image has none.
func (img *Image) Labels(ctx context.Context) (map[string]string, error) {
	cfg, err := img.Config(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Config.Labels, nil
}

// Platforms lists the platforms the image is published for.
func (img *Image) Platforms(ctx context.Context) ([]ocispec.Platform, error) {
	return img.client.Platforms(ctx, img.ref)
}

// Exists reports whether the reference resolves in the registry.
// Not-found is not an error here; everything else is.
func (img *Image) Exists(ctx context.Context) (bool, error) {
	_, err := img.resolve(ctx)
	if errors.Is(err, regclient.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Tags lists the tags of the image's repository.
func (img *Image) Tags(ctx context.Context) ([]string, error) {
	return img.client.ListTags(ctx, img.ref)
}

// Delete removes the manifest from the registry. Registries generally
// require deletion by digest, so the image is resolved first and the
// resolved digest is the one deleted.
func (img *Image) Delete(ctx context.Context) error {
	res, err := img.resolve(ctx)
	if err != nil {
		return err
	}
	if err := img.client.DeleteManifest(ctx, img.ref.WithDigest(res.Digest)); err != nil {
		return err
	}
	img.mu.Lock()
	img.resolved, img.config = nil, nil
	img.mu.Unlock()
	return nil
}
