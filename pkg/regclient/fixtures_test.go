// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/yeetrun/spyglass/pkg/ref"
	"github.com/yeetrun/spyglass/pkg/regmock"
)

// testEnv is a mock registry with a client pointed at it.
type testEnv struct {
	reg    *regmock.Registry
	server *httptest.Server
	client *Client
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	reg := regmock.New()
	server := httptest.NewServer(reg)
	t.Cleanup(server.Close)
	cfg.PlainHTTP = true
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	return &testEnv{reg: reg, server: server, client: New(cfg)}
}

// parseRef builds a reference addressing repo/selector on the test server.
func (e *testEnv) parseRef(t *testing.T, repoAndSelector string) ref.Reference {
	t.Helper()
	host := e.server.Listener.Addr().String()
	r, err := ref.Parse(host + "/" + repoAndSelector)
	if err != nil {
		t.Fatalf("Parse(%q): %v", repoAndSelector, err)
	}
	return r
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// addImage stores a config blob and a manifest with the given layer
// sizes under repo:tag, returning the manifest digest and its total
// size (config + layers).
func addImage(t *testing.T, reg *regmock.Registry, repo, tag string, platform ocispec.Platform, layerSizes []int64) (digest.Digest, int64) {
	t.Helper()
	cfg := ocispec.Image{
		Platform: platform,
		Config: ocispec.ImageConfig{
			Labels: map[string]string{"org.example.fixture": repo + ":" + tag},
			Env:    []string{"PATH=/usr/bin"},
		},
	}
	cfgData := mustJSON(t, cfg)
	cfgDigest := reg.AddBlob(cfgData)

	m := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageConfig,
			Digest:    cfgDigest,
			Size:      int64(len(cfgData)),
		},
	}
	total := int64(len(cfgData))
	for i, size := range layerSizes {
		layer := make([]byte, size)
		for j := range layer {
			layer[j] = byte(i + 1)
		}
		d := reg.AddBlob(layer)
		m.Layers = append(m.Layers, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayerGzip,
			Digest:    d,
			Size:      size,
		})
		total += size
	}
	data := mustJSON(t, m)
	return reg.AddManifest(repo, tag, ocispec.MediaTypeImageManifest, data), total
}

// addIndex stores an index under repo:tag listing the given manifests.
type indexEntry struct {
	digest   digest.Digest
	size     int64
	platform ocispec.Platform
}

func addIndex(t *testing.T, reg *regmock.Registry, repo, tag string, entries []indexEntry) digest.Digest {
	t.Helper()
	idx := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
	}
	for _, e := range entries {
		p := e.platform
		idx.Manifests = append(idx.Manifests, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageManifest,
			Digest:    e.digest,
			Size:      e.size,
			Platform:  &p,
		})
	}
	return reg.AddManifest(repo, tag, ocispec.MediaTypeImageIndex, mustJSON(t, idx))
}

func digestOf(data []byte) digest.Digest { return digest.FromBytes(data) }

var (
	linuxAmd64 = ocispec.Platform{OS: "linux", Architecture: "amd64"}
	linuxArm64 = ocispec.Platform{OS: "linux", Architecture: "arm64"}
	linuxArmV7 = ocispec.Platform{OS: "linux", Architecture: "arm", Variant: "v7"}
)
