// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regclient is a client for the OCI Distribution Specification
// pull workflow: it resolves image references to manifests, negotiates
// bearer-token auth, verifies content digests, and reads blob and tag
// metadata.
//
// The client never trusts unverified content: every manifest body is
// checked against its expected digest before being returned, and a
// mismatch is a terminal error.
//
// Each Client owns its own auth token cache. Two Clients never share
// state, so a process resolving images for many tenants can hold one
// Client per tenant without cross-request contamination.
//
// Spec: https://github.com/opencontainers/distribution-spec/blob/main/spec.md
// Token auth: https://distribution.github.io/distribution/spec/auth/token/
package regclient
