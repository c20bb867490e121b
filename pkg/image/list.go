// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/yeetrun/spyglass/pkg/byteunit"
)

// An ImageList performs bulk operations over many images at once.
// Blobs shared between images (base layers, configs) are counted once
// when sizing, so the total reflects actual registry storage.
type ImageList struct {
	images []*Image
}

func NewList(images ...*Image) *ImageList {
	return &ImageList{images: images}
}

func (l *ImageList) Append(img *Image) {
	l.images = append(l.images, img)
}

func (l *ImageList) Len() int {
	return len(l.images)
}

// Images returns the backing slice; callers must not modify it.
func (l *ImageList) Images() []*Image {
	return l.images
}

// Size returns the deduplicated total size of all images in the list:
// every distinct config and layer blob is summed once, no matter how
// many images reference it.
func (l *ImageList) Size(ctx context.Context) (int64, error) {
	sizes := make(map[digest.Digest]int64)
	for _, img := range l.images {
		res, err := img.resolve(ctx)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", img, err)
		}
		sizes[res.Manifest.Config.Digest] = res.Manifest.Config.Size
		for _, layer := range res.Manifest.Layers {
			sizes[layer.Digest] = layer.Size
		}
	}
	var total int64
	for _, size := range sizes {
		total += size
	}
	return total, nil
}

func (l *ImageList) SizeFormatted(ctx context.Context) (string, error) {
	size, err := l.Size(ctx)
	if err != nil {
		return "", err
	}
	return byteunit.Format(size), nil
}

// Delete removes every image in the list from its registry. All
// deletions are attempted; failures are joined into one error.
func (l *ImageList) Delete(ctx context.Context) error {
	var errs []error
	for _, img := range l.images {
		if err := img.Delete(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", img, err))
		}
	}
	return errors.Join(errs...)
}

// A ListDiff partitions two image lists by repository name. An image
// present in both lists counts as common when its identifier (digest,
// or tag when no digest is pinned) is unchanged, updated otherwise.
type ListDiff struct {
	Added   *ImageList
	Removed *ImageList
	Updated *ImageList
	Common  *ImageList
}

// Diff compares l, the current list, against previous. No registry
// traffic: the comparison works on references alone.
func (l *ImageList) Diff(previous *ImageList) *ListDiff {
	type pair struct {
		current  *Image
		previous *Image
	}
	pairs := make(map[string]*pair)
	var names []string
	lookup := func(name string) *pair {
		p, ok := pairs[name]
		if !ok {
			p = &pair{}
			pairs[name] = p
			names = append(names, name)
		}
		return p
	}
	for _, img := range l.images {
		lookup(img.Ref().Name()).current = img
	}
	for _, img := range previous.images {
		lookup(img.Ref().Name()).previous = img
	}

	diff := &ListDiff{
		Added:   NewList(),
		Removed: NewList(),
		Updated: NewList(),
		Common:  NewList(),
	}
	for _, name := range names {
		p := pairs[name]
		switch {
		case p.current != nil && p.previous != nil:
			if p.current.Ref().Identifier() == p.previous.Ref().Identifier() {
				diff.Common.Append(p.current)
			} else {
				diff.Updated.Append(p.current)
			}
		case p.current != nil:
			diff.Added.Append(p.current)
		default:
			diff.Removed.Append(p.previous)
		}
	}
	return diff
}

func (d *ListDiff) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Added:\t%d\n", d.Added.Len())
	fmt.Fprintf(&b, "Removed:\t%d\n", d.Removed.Len())
	fmt.Fprintf(&b, "Updated:\t%d\n", d.Updated.Len())
	fmt.Fprintf(&b, "Common:\t%d", d.Common.Len())
	return b.String()
}
