// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ref parses and normalizes container image references of the
// form [host[:port]/]repository[:tag][@digest].
package ref

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	// DefaultRegistry is the registry assumed when a reference names no host.
	DefaultRegistry = "docker.io"
	// DefaultTag is the tag assumed when a reference names neither tag nor digest.
	DefaultTag = "latest"

	// dockerIndexAPIHost is the real API endpoint behind the docker.io alias.
	dockerIndexAPIHost = "registry-1.docker.io"
)

var (
	// Repository path: lowercase alphanumerics with ., _, __, or - separators,
	// slash-separated components. Matches the distribution reference grammar.
	pathRE = regexp.MustCompile(`^[a-z0-9]+(?:(?:\.|_|__|-+)[a-z0-9]+)*(?:/[a-z0-9]+(?:(?:\.|_|__|-+)[a-z0-9]+)*)*$`)
	tagRE  = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]{0,127}$`)
	hostRE = regexp.MustCompile(`^(?:[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)*(?::[0-9]+)?$`)
)

// ParseError reports a malformed image reference.
type ParseError struct {
	Ref    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid reference %q: %s", e.Ref, e.Reason)
}

// Reference is a parsed image reference. Host and Path are always set.
// Exactly one of Tag or Digest selects the image to fetch; when both are
// set (tag reference resolved to a digest, or an explicit tag@digest
// reference) the digest takes precedence and the tag is retained for
// display.
type Reference struct {
	Host   string
	Path   string
	Tag    string
	Digest digest.Digest
}

// Parse parses s using DefaultRegistry for host-less references.
func Parse(s string) (Reference, error) {
	return ParseWithDefault(s, DefaultRegistry)
}

// ParseWithDefault parses s, substituting defaultHost when the reference
// names no registry host. Parsing is pure: no normalization beyond the
// documented host/tag defaulting is applied.
func ParseWithDefault(s, defaultHost string) (Reference, error) {
	var r Reference

	rest := s
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		d, err := digest.Parse(rest[i+1:])
		if err != nil {
			return r, &ParseError{Ref: s, Reason: fmt.Sprintf("bad digest: %v", err)}
		}
		r.Digest = d
		rest = rest[:i]
	}

	// The tag is everything after the last colon, provided that colon
	// comes after the last slash. A colon before the first slash belongs
	// to the host port.
	lastSlash := strings.LastIndexByte(rest, '/')
	if i := strings.LastIndexByte(rest, ':'); i > lastSlash {
		if lastSlash < 0 && strings.Contains(rest[:i], ".") {
			// "example.com:5000" with no path: cannot tell a port from a tag.
			return r, &ParseError{Ref: s, Reason: "ambiguous port or tag"}
		}
		r.Tag = rest[i+1:]
		rest = rest[:i]
		if !tagRE.MatchString(r.Tag) {
			return r, &ParseError{Ref: s, Reason: fmt.Sprintf("bad tag %q", r.Tag)}
		}
	}

	// The first component is a host only if it could not be a repository
	// component: it contains a dot or a port, or is "localhost".
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		head := rest[:i]
		if head == "localhost" || strings.ContainsAny(head, ".:") {
			r.Host = head
			rest = rest[i+1:]
		}
	}
	if r.Host == "" {
		r.Host = defaultHost
	} else {
		if strings.Count(r.Host, ":") > 1 {
			return r, &ParseError{Ref: s, Reason: "ambiguous port specification"}
		}
		if !hostRE.MatchString(r.Host) {
			return r, &ParseError{Ref: s, Reason: fmt.Sprintf("bad registry host %q", r.Host)}
		}
	}

	if rest == "" {
		return r, &ParseError{Ref: s, Reason: "empty repository path"}
	}
	if !pathRE.MatchString(rest) {
		return r, &ParseError{Ref: s, Reason: fmt.Sprintf("bad repository path %q", rest)}
	}
	r.Path = rest

	if r.Tag == "" && r.Digest == "" {
		r.Tag = DefaultTag
	}
	return r, nil
}

// Name returns the host-qualified repository name without any selector.
func (r Reference) Name() string {
	return r.Host + "/" + r.Path
}

// Identifier returns the selector used to fetch the image: the digest
// when known, the tag otherwise.
func (r Reference) Identifier() string {
	if r.Digest != "" {
		return r.Digest.String()
	}
	return r.Tag
}

// WithDigest returns a copy of r carrying d as its resolved digest.
func (r Reference) WithDigest(d digest.Digest) Reference {
	r.Digest = d
	return r
}

// APIHost returns the host to address distribution API calls to. The
// docker.io alias is served by registry-1.docker.io.
func (r Reference) APIHost() string {
	if r.Host == DefaultRegistry {
		return dockerIndexAPIHost
	}
	return r.Host
}

// String formats the reference back into canonical string form.
func (r Reference) String() string {
	var b strings.Builder
	b.WriteString(r.Host)
	b.WriteByte('/')
	b.WriteString(r.Path)
	if r.Tag != "" {
		b.WriteByte(':')
		b.WriteString(r.Tag)
	}
	if r.Digest != "" {
		b.WriteByte('@')
		b.WriteString(r.Digest.String())
	}
	return b.String()
}
