// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/yeetrun/spyglass/pkg/ref"
)

// maxIndexDepth bounds index-to-index indirection. Real registries nest
// at most one level; anything deeper is malformed.
const maxIndexDepth = 3

// Resolved is the terminal, platform-specific manifest for a reference,
// together with the digest that content-addresses it. The digest may
// differ from the one the caller supplied when a tag or an index was
// resolved.
type Resolved struct {
	Manifest  ocispec.Manifest
	MediaType string
	Digest    digest.Digest
	Raw       []byte
	// Platform is the index entry platform the manifest was selected
	// by, nil when the reference pointed straight at a manifest.
	Platform *ocispec.Platform
}

// Size returns the aggregate image size: the config blob plus all layer
// blobs, in manifest order.
func (r *Resolved) Size() int64 {
	total := r.Manifest.Config.Size
	for _, l := range r.Manifest.Layers {
		total += l.Size
	}
	return total
}

// Resolve fetches the manifest for r and, when it is a multi-platform
// index, descends into the entry for target. An index entry exactly
// matching target wins; otherwise the client's fallback platform is
// tried; otherwise resolution fails with a FormatError. Only the
// selected entry is fetched, never siblings.
func (c *Client) Resolve(ctx context.Context, r ref.Reference, target ocispec.Platform) (*Resolved, error) {
	cur := r
	var selected *ocispec.Platform
	for depth := 0; depth < maxIndexDepth; depth++ {
		mr, err := c.fetchManifest(ctx, cur, cur.Digest)
		if err != nil {
			return nil, err
		}
		switch classifyMediaType(mr.MediaType) {
		case kindManifest:
			var m ocispec.Manifest
			if err := json.Unmarshal(mr.Body, &m); err != nil {
				return nil, &FormatError{MediaType: mr.MediaType, Reason: fmt.Sprintf("bad manifest JSON: %v", err)}
			}
			return &Resolved{
				Manifest:  m,
				MediaType: mr.MediaType,
				Digest:    mr.Digest,
				Raw:       mr.Body,
				Platform:  selected,
			}, nil
		case kindIndex:
			var idx ocispec.Index
			if err := json.Unmarshal(mr.Body, &idx); err != nil {
				return nil, &FormatError{MediaType: mr.MediaType, Reason: fmt.Sprintf("bad index JSON: %v", err)}
			}
			desc, err := c.selectPlatform(idx.Manifests, target)
			if err != nil {
				return nil, err
			}
			c.log("index %s: selected %s for platform %s", mr.Digest, desc.Digest, PlatformString(*desc.Platform))
			selected = desc.Platform
			cur = cur.WithDigest(desc.Digest)
		default:
			return nil, &FormatError{MediaType: mr.MediaType, Reason: "unrecognized media type"}
		}
	}
	return nil, &FormatError{Reason: fmt.Sprintf("index nesting exceeds %d levels", maxIndexDepth)}
}

// ResolveDigest resolves r to the digest of its terminal manifest.
func (c *Client) ResolveDigest(ctx context.Context, r ref.Reference, target ocispec.Platform) (digest.Digest, error) {
	res, err := c.Resolve(ctx, r, target)
	if err != nil {
		return "", err
	}
	return res.Digest, nil
}

// Platforms lists the platforms an image is published for: the index
// entry platforms for a multi-platform image, or a single entry derived
// from the config blob for a plain manifest.
func (c *Client) Platforms(ctx context.Context, r ref.Reference) ([]ocispec.Platform, error) {
	mr, err := c.fetchManifest(ctx, r, r.Digest)
	if err != nil {
		return nil, err
	}
	switch classifyMediaType(mr.MediaType) {
	case kindIndex:
		var idx ocispec.Index
		if err := json.Unmarshal(mr.Body, &idx); err != nil {
			return nil, &FormatError{MediaType: mr.MediaType, Reason: fmt.Sprintf("bad index JSON: %v", err)}
		}
		var out []ocispec.Platform
		for _, d := range idx.Manifests {
			if d.Platform != nil {
				out = append(out, *d.Platform)
			}
		}
		return out, nil
	case kindManifest:
		var m ocispec.Manifest
		if err := json.Unmarshal(mr.Body, &m); err != nil {
			return nil, &FormatError{MediaType: mr.MediaType, Reason: fmt.Sprintf("bad manifest JSON: %v", err)}
		}
		cfg, err := c.GetConfig(ctx, r, m.Config)
		if err != nil {
			return nil, err
		}
		return []ocispec.Platform{cfg.Platform}, nil
	default:
		return nil, &FormatError{MediaType: mr.MediaType, Reason: "unrecognized media type"}
	}
}

// selectPlatform picks the index entry for target, falling back to the
// client's configured fallback platform. Selection is deterministic:
// the first matching entry in index order wins.
func (c *Client) selectPlatform(entries []ocispec.Descriptor, target ocispec.Platform) (ocispec.Descriptor, error) {
	if d, ok := matchPlatform(entries, target); ok {
		return d, nil
	}
	if d, ok := matchPlatform(entries, c.fallback); ok {
		return d, nil
	}
	return ocispec.Descriptor{}, &FormatError{
		Reason: fmt.Sprintf("no manifest for platform %s (or fallback %s) in index",
			PlatformString(target), PlatformString(c.fallback)),
	}
}

func matchPlatform(entries []ocispec.Descriptor, want ocispec.Platform) (ocispec.Descriptor, bool) {
	for _, d := range entries {
		if d.Platform == nil {
			continue
		}
		p := *d.Platform
		if p.OS == want.OS && p.Architecture == want.Architecture && p.Variant == want.Variant {
			return d, true
		}
	}
	return ocispec.Descriptor{}, false
}

// ParsePlatform parses an os/arch[/variant] string such as
// "linux/arm64" or "linux/arm/v7".
func ParsePlatform(s string) (ocispec.Platform, error) {
	parts := strings.Split(s, "/")
	for _, part := range parts {
		if part == "" {
			return ocispec.Platform{}, fmt.Errorf("bad platform %q: want os/arch[/variant]", s)
		}
	}
	switch len(parts) {
	case 2:
		return ocispec.Platform{OS: parts[0], Architecture: parts[1]}, nil
	case 3:
		return ocispec.Platform{OS: parts[0], Architecture: parts[1], Variant: parts[2]}, nil
	}
	return ocispec.Platform{}, fmt.Errorf("bad platform %q: want os/arch[/variant]", s)
}

// PlatformString formats p as os/arch[/variant].
func PlatformString(p ocispec.Platform) string {
	s := p.OS + "/" + p.Architecture
	if p.Variant != "" {
		s += "/" + p.Variant
	}
	return s
}

// verifyDigest recomputes the digest of body with the algorithm named in
// expected and compares. An algorithm outside the supported set is a
// FormatError, never silently accepted.
func verifyDigest(body []byte, expected digest.Digest) error {
	if err := expected.Validate(); err != nil {
		return &FormatError{Reason: fmt.Sprintf("bad digest %q: %v", expected, err)}
	}
	alg := expected.Algorithm()
	if !alg.Available() {
		return &FormatError{Reason: fmt.Sprintf("unsupported digest algorithm %q", alg)}
	}
	if got := alg.FromBytes(body); got != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrDigestMismatch, got, expected)
	}
	return nil
}
