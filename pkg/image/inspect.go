// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/yeetrun/spyglass/pkg/byteunit"
)

// Inspect is a skopeo-style summary of an image, assembled from the
// resolved manifest and config without downloading layers.
type Inspect struct {
	Name          string            `json:"Name" yaml:"name"`
	Digest        digest.Digest     `json:"Digest" yaml:"digest"`
	Tag           string            `json:"Tag,omitempty" yaml:"tag,omitempty"`
	RepoTags      []string          `json:"RepoTags" yaml:"repoTags"`
	Created       *time.Time        `json:"Created,omitempty" yaml:"created,omitempty"`
	Labels        map[string]string `json:"Labels,omitempty" yaml:"labels,omitempty"`
	Architecture  string            `json:"Architecture" yaml:"architecture"`
	Os            string            `json:"Os" yaml:"os"`
	Variant       string            `json:"Variant,omitempty" yaml:"variant,omitempty"`
	Author        string            `json:"Author,omitempty" yaml:"author,omitempty"`
	Env           []string          `json:"Env,omitempty" yaml:"env,omitempty"`
	Layers        []digest.Digest   `json:"Layers" yaml:"layers"`
	Size          int64             `json:"Size" yaml:"size"`
	SizeFormatted string            `json:"SizeFormatted" yaml:"sizeFormatted"`
}

// Inspect assembles an Inspect from the manifest, config, and tag list.
// Failure to list tags is not fatal; RepoTags is left empty in that
// case since some registries deny tag listing to pull-only tokens.
func (img *Image) Inspect(ctx context.Context) (*Inspect, error) {
	res, err := img.resolve(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := img.Config(ctx)
	if err != nil {
		return nil, err
	}

	out := &Inspect{
		Name:          img.ref.Name(),
		Digest:        res.Digest,
		Tag:           img.ref.Tag,
		Created:       cfg.Created,
		Labels:        cfg.Config.Labels,
		Architecture:  cfg.Architecture,
		Os:            cfg.OS,
		Variant:       cfg.Variant,
		Author:        cfg.Author,
		Env:           cfg.Config.Env,
		Size:          res.Size(),
		SizeFormatted: byteunit.Format(res.Size()),
	}
	for _, l := range res.Manifest.Layers {
		out.Layers = append(out.Layers, l.Digest)
	}
	if tags, err := img.Tags(ctx); err == nil {
		out.RepoTags = tags
	}
	return out, nil
}
