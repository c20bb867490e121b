// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Docker media types predating the OCI image spec. Still served by most
// registries, so the client accepts and dispatches on them alongside the
// OCI types.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerSchema1      = "application/vnd.docker.distribution.manifest.v1+json"
	MediaTypeDockerSchema1Signed = "application/vnd.docker.distribution.manifest.v1+prettyjws"
)

// defaultAcceptedMediaTypes is the Accept list sent on manifest requests,
// in preference order.
var defaultAcceptedMediaTypes = []string{
	MediaTypeDockerManifestList,
	MediaTypeDockerManifest,
	ocispec.MediaTypeImageIndex,
	ocispec.MediaTypeImageManifest,
	MediaTypeDockerSchema1,
	MediaTypeDockerSchema1Signed,
}

// mediaTypeKind is a closed classification of manifest media types.
// Anything outside the known set routes to kindUnknown and fails with a
// FormatError rather than being interpreted loosely.
type mediaTypeKind int

const (
	kindUnknown mediaTypeKind = iota
	kindManifest
	kindIndex
)

func classifyMediaType(mt string) mediaTypeKind {
	switch mt {
	case MediaTypeDockerManifest, ocispec.MediaTypeImageManifest:
		return kindManifest
	case MediaTypeDockerManifestList, ocispec.MediaTypeImageIndex:
		return kindIndex
	default:
		return kindUnknown
	}
}

// IsIndexMediaType reports whether mt names a multi-platform index.
func IsIndexMediaType(mt string) bool { return classifyMediaType(mt) == kindIndex }

// IsManifestMediaType reports whether mt names a single-platform manifest.
func IsManifestMediaType(mt string) bool { return classifyMediaType(mt) == kindManifest }
