// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SortTagsBySemver orders tags newest-version-first. Tags that do not
// parse as semver sort after all semver tags, lexically. The input is
// not modified.
func SortTagsBySemver(tags []string) []string {
	type parsed struct {
		raw string
		v   *semver.Version
	}
	ps := make([]parsed, 0, len(tags))
	for _, t := range tags {
		v, err := semver.NewVersion(t)
		if err != nil {
			ps = append(ps, parsed{raw: t})
			continue
		}
		ps = append(ps, parsed{raw: t, v: v})
	}
	sort.SliceStable(ps, func(i, j int) bool {
		vi, vj := ps[i].v, ps[j].v
		switch {
		case vi != nil && vj != nil:
			return vi.GreaterThan(vj)
		case vi != nil:
			return true
		case vj != nil:
			return false
		default:
			return ps[i].raw < ps[j].raw
		}
	})
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.raw
	}
	return out
}

// LatestSemverTag returns the highest semver tag, or "" when no tag
// parses as semver.
func LatestSemverTag(tags []string) string {
	var best *semver.Version
	var bestRaw string
	for _, t := range tags {
		v, err := semver.NewVersion(t)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, t
		}
	}
	return bestRaw
}
