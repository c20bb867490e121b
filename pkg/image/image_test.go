// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/yeetrun/spyglass/pkg/regmock"
)

var (
	linuxAmd64 = ocispec.Platform{OS: "linux", Architecture: "amd64"}
	linuxArm64 = ocispec.Platform{OS: "linux", Architecture: "arm64"}
)

func startRegistry(t *testing.T) (*regmock.Registry, string) {
	t.Helper()
	reg := regmock.New()
	server := httptest.NewServer(reg)
	t.Cleanup(server.Close)
	return reg, server.Listener.Addr().String()
}

func newImage(t *testing.T, refStr string, opts Options) *Image {
	t.Helper()
	opts.PlainHTTP = true
	img, err := New(refStr, opts)
	if err != nil {
		t.Fatalf("New(%q): %v", refStr, err)
	}
	return img
}

// addFixtureImage stores a manifest with a config blob of exactly
// configSize bytes and layers of the given sizes.
func addFixtureImage(t *testing.T, reg *regmock.Registry, repo, tag string, platform ocispec.Platform, configSize int, layerSizes []int64) digest.Digest {
	t.Helper()
	cfgData := []byte(`{"os":"` + platform.OS + `","architecture":"` + platform.Architecture + `"}`)
	if len(cfgData) > configSize {
		// A small configSize only needs to be honored by the config
		// descriptor's Size; none of those callers parse the platform
		// out of the blob, so a minimal padded body suffices.
		cfgData = []byte(`{}`)
	}
	for len(cfgData) < configSize {
		cfgData = append(cfgData, ' ')
	}
	if len(cfgData) != configSize {
		t.Fatalf("cannot build a %d-byte config (minimum %d)", configSize, len(cfgData))
	}
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
	for i, size := range layerSizes {
		layer := make([]byte, size)
		for j := range layer {
			layer[j] = byte(i + 1)
		}
		m.Layers = append(m.Layers, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayerGzip,
			Digest:    reg.AddBlob(layer),
			Size:      size,
		})
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return reg.AddManifest(repo, tag, ocispec.MediaTypeImageManifest, data)
}

func addFixtureIndex(t *testing.T, reg *regmock.Registry, repo, tag string, entries map[string]digest.Digest) digest.Digest {
	t.Helper()
	idx := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
	}
	// Deterministic order: amd64 then arm64.
	for _, arch := range []string{"amd64", "arm64"} {
		d, ok := entries[arch]
		if !ok {
			continue
		}
		idx.Manifests = append(idx.Manifests, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageManifest,
			Digest:    d,
			Platform:  &ocispec.Platform{OS: "linux", Architecture: arch},
		})
	}
	data, err := json.Marshal(idx)
	if err != nil {
		t.Fatal(err)
	}
	return reg.AddManifest(repo, tag, ocispec.MediaTypeImageIndex, data)
}

// Size is the exact sum of the config descriptor size and all layer
// descriptor sizes: 100 + 250 + 150 byte layers plus a 20 byte config
// is 520 bytes.
func TestSize(t *testing.T) {
	reg, host := startRegistry(t)
	addFixtureImage(t, reg, "app", "1.0", linuxAmd64, 20, []int64{100, 250, 150})

	img := newImage(t, host+"/app:1.0", Options{Platform: &linuxAmd64})
	ctx := context.Background()
	size, err := img.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 520 {
		t.Errorf("Size = %d, want 520", size)
	}
	formatted, err := img.SizeFormatted(ctx)
	if err != nil {
		t.Fatalf("SizeFormatted: %v", err)
	}
	if formatted != "520.00 B" {
		t.Errorf("SizeFormatted = %q, want %q", formatted, "520.00 B")
	}
}

// End to end: a tag reference to a multi-platform index resolves to the
// requested platform's manifest digest and its aggregated size.
func TestEndToEndIndexResolution(t *testing.T) {
	reg, host := startRegistry(t)
	amd64 := addFixtureImage(t, reg, "app", "", linuxAmd64, 20, []int64{100, 250, 150})
	arm64 := addFixtureImage(t, reg, "app", "", linuxArm64, 20, []int64{90})
	addFixtureIndex(t, reg, "app", "1.0", map[string]digest.Digest{
		"amd64": amd64,
		"arm64": arm64,
	})

	img := newImage(t, host+"/app:1.0", Options{Platform: &linuxAmd64})
	ctx := context.Background()

	got, err := img.Digest(ctx)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if got != amd64 {
		t.Errorf("Digest = %s, want amd64 manifest digest %s", got, amd64)
	}
	size, err := img.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 520 {
		t.Errorf("Size = %d, want 520 (amd64 manifest, not the index)", size)
	}

	armImg := newImage(t, host+"/app:1.0", Options{Platform: &linuxArm64})
	gotArm, err := armImg.Digest(ctx)
	if err != nil {
		t.Fatalf("Digest (arm64): %v", err)
	}
	if gotArm != arm64 {
		t.Errorf("Digest = %s, want arm64 manifest digest %s", gotArm, arm64)
	}
}

// Resolution is memoized per instance: repeated operations trigger no
// further registry traffic.
func TestResolutionCaching(t *testing.T) {
	reg, host := startRegistry(t)
	addFixtureImage(t, reg, "app", "1.0", linuxAmd64, 20, []int64{10})

	img := newImage(t, host+"/app:1.0", Options{Platform: &linuxAmd64})
	ctx := context.Background()
	if _, err := img.Digest(ctx); err != nil {
		t.Fatalf("Digest: %v", err)
	}
	after := reg.ManifestRequests()
	if _, err := img.Digest(ctx); err != nil {
		t.Fatalf("Digest (cached): %v", err)
	}
	if _, err := img.Size(ctx); err != nil {
		t.Fatalf("Size (cached): %v", err)
	}
	if _, err := img.Manifest(ctx); err != nil {
		t.Fatalf("Manifest (cached): %v", err)
	}
	if got := reg.ManifestRequests(); got != after {
		t.Errorf("manifest requests grew from %d to %d after memoization", after, got)
	}
}

func TestExists(t *testing.T) {
	reg, host := startRegistry(t)
	addFixtureImage(t, reg, "app", "1.0", linuxAmd64, 20, []int64{10})
	ctx := context.Background()

	img := newImage(t, host+"/app:1.0", Options{Platform: &linuxAmd64})
	ok, err := img.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists = false, want true")
	}

	missing := newImage(t, host+"/app:9.9", Options{Platform: &linuxAmd64})
	ok, err = missing.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists (missing): %v", err)
	}
	if ok {
		t.Error("Exists = true for a missing tag")
	}
}

func TestInspect(t *testing.T) {
	reg, host := startRegistry(t)
	addFixtureImage(t, reg, "team/app", "1.0", linuxAmd64, 64, []int64{100, 200})

	img := newImage(t, host+"/team/app:1.0", Options{Platform: &linuxAmd64})
	ins, err := img.Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if ins.Os != "linux" || ins.Architecture != "amd64" {
		t.Errorf("Inspect platform = %s/%s, want linux/amd64", ins.Os, ins.Architecture)
	}
	if ins.Tag != "1.0" {
		t.Errorf("Tag = %q, want %q", ins.Tag, "1.0")
	}
	if len(ins.Layers) != 2 {
		t.Errorf("layers = %d, want 2", len(ins.Layers))
	}
	if ins.Size != 364 {
		t.Errorf("Size = %d, want 364", ins.Size)
	}
	if diff := cmp.Diff([]string{"1.0"}, ins.RepoTags); diff != "" {
		t.Errorf("RepoTags mismatch (-want +got):\n%s", diff)
	}
}

func TestDelete(t *testing.T) {
	reg, host := startRegistry(t)
	addFixtureImage(t, reg, "app", "1.0", linuxAmd64, 20, []int64{10})
	ctx := context.Background()

	img := newImage(t, host+"/app:1.0", Options{Platform: &linuxAmd64})
	d, err := img.Digest(ctx)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if err := img.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Deletion went by resolved digest; the digest entry must be gone.
	byDigest := newImage(t, host+"/app@"+d.String(), Options{Platform: &linuxAmd64})
	ok, err := byDigest.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists after delete: %v", err)
	}
	if ok {
		t.Error("image still exists by digest after Delete")
	}
}

func TestTagsSorting(t *testing.T) {
	in := []string{"latest", "1.2.0", "v1.10.0", "1.3.5", "edge", "not.a.version.x"}
	got := SortTagsBySemver(in)
	want := []string{"v1.10.0", "1.3.5", "1.2.0", "edge", "latest", "not.a.version.x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortTagsBySemver mismatch (-want +got):\n%s", diff)
	}
	if got := LatestSemverTag(in); got != "v1.10.0" {
		t.Errorf("LatestSemverTag = %q, want %q", got, "v1.10.0")
	}
	if got := LatestSemverTag([]string{"latest", "edge"}); got != "" {
		t.Errorf("LatestSemverTag = %q, want empty", got)
	}
}
