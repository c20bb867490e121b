// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/yeetrun/spyglass/pkg/ref"
)

func TestListTags(t *testing.T) {
	env := newTestEnv(t, Config{})
	addImage(t, env.reg, "app", "1.0", linuxAmd64, []int64{10})
	addImage(t, env.reg, "app", "1.1", linuxAmd64, []int64{11})
	addImage(t, env.reg, "app", "latest", linuxAmd64, []int64{12})

	tags, err := env.client.ListTags(context.Background(), env.parseRef(t, "app:latest"))
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	want := []string{"1.0", "1.1", "latest"}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("ListTags mismatch (-want +got):\n%s", diff)
	}
}

func TestGetConfig(t *testing.T) {
	env := newTestEnv(t, Config{})
	addImage(t, env.reg, "app", "1.0", linuxArm64, []int64{10})

	ctx := context.Background()
	res, err := env.client.Resolve(ctx, env.parseRef(t, "app:1.0"), linuxArm64)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cfg, err := env.client.GetConfig(ctx, env.parseRef(t, "app:1.0"), res.Manifest.Config)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.Architecture != "arm64" || cfg.OS != "linux" {
		t.Errorf("config platform = %s/%s, want linux/arm64", cfg.OS, cfg.Architecture)
	}
	if got := cfg.Config.Labels["org.example.fixture"]; got != "app:1.0" {
		t.Errorf("fixture label = %q, want %q", got, "app:1.0")
	}
}

func TestGetBlobBytesVerifies(t *testing.T) {
	env := newTestEnv(t, Config{})
	data := []byte("layer payload")
	d := env.reg.AddBlob(data)

	got, err := env.client.GetBlobBytes(context.Background(), env.parseRef(t, "app:1.0"), d, 0)
	if err != nil {
		t.Fatalf("GetBlobBytes: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("blob = %q, want %q", got, data)
	}

	// A blob digest that no content hashes to comes back not-found,
	// and a mismatched digest never yields bytes.
	other := digestOf([]byte("something else"))
	if _, err := env.client.GetBlobBytes(context.Background(), env.parseRef(t, "app:1.0"), other, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlobBytes(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteManifest(t *testing.T) {
	env := newTestEnv(t, Config{})
	d, _ := addImage(t, env.reg, "app", "1.0", linuxAmd64, []int64{10})

	ctx := context.Background()
	if err := env.client.DeleteManifest(ctx, env.parseRef(t, "app@"+d.String())); err != nil {
		t.Fatalf("DeleteManifest: %v", err)
	}
	_, err := env.client.Resolve(ctx, env.parseRef(t, "app@"+d.String()), linuxAmd64)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after delete = %v, want ErrNotFound", err)
	}
}

func TestRegistryErrorParsing(t *testing.T) {
	body := []byte(`{"errors":[{"code":"MANIFEST_UNKNOWN","message":"manifest not found"}]}`)
	re := parseRegistryError("https://example.com/v2/app/manifests/1.0", 404, body)
	if re.Code != ErrCodeManifestUnknown {
		t.Errorf("Code = %q, want %q", re.Code, ErrCodeManifestUnknown)
	}
	if re.Message != "manifest not found" {
		t.Errorf("Message = %q", re.Message)
	}

	// Non-JSON bodies still produce a usable error.
	re = parseRegistryError("https://example.com/v2/app/manifests/1.0", 502, []byte("<html>bad gateway</html>"))
	if re.StatusCode != 502 || re.Code != "" {
		t.Errorf("RegistryError = %+v, want bare 502", re)
	}
}

func TestMediaTypeClassification(t *testing.T) {
	if !IsIndexMediaType(MediaTypeDockerManifestList) {
		t.Error("docker manifest list not classified as index")
	}
	if !IsIndexMediaType("application/vnd.oci.image.index.v1+json") {
		t.Error("OCI index not classified as index")
	}
	if !IsManifestMediaType(MediaTypeDockerManifest) {
		t.Error("docker manifest not classified as manifest")
	}
	if IsManifestMediaType("application/vnd.example.unknown+json") {
		t.Error("unknown media type classified as manifest")
	}
	if IsIndexMediaType(MediaTypeDockerSchema1) {
		t.Error("schema1 classified as index")
	}
}

// A registry demanding Basic auth gets identity-token credentials in
// the same form the token endpoint does: "<token>" as the username.
func TestBasicRetryIdentityToken(t *testing.T) {
	m := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageConfig,
			Digest:    digestOf([]byte("cfg")),
			Size:      3,
		},
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("<token>:secret"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != want {
			w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", ocispec.MediaTypeImageManifest)
		w.Write(data)
	}))
	defer server.Close()

	client := New(Config{
		PlainHTTP:   true,
		MaxAttempts: 1,
		Credentials: Credentials{IdentityToken: "secret"},
	})
	r, err := ref.Parse(server.Listener.Addr().String() + "/app:1.0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := client.Resolve(context.Background(), r, linuxAmd64)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Digest != digestOf(data) {
		t.Errorf("Digest = %s, want %s", res.Digest, digestOf(data))
	}
}
