// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"context"
	"testing"

	"github.com/opencontainers/go-digest"
)

// Blobs shared between images are counted once: both images carry the
// same 100-byte base layer and the same 20-byte config, so the total
// is 20 + 100 + 250 + 300, not the 720 a plain sum would give.
func TestListSizeDeduplicates(t *testing.T) {
	reg, host := startRegistry(t)
	addFixtureImage(t, reg, "a", "1.0", linuxAmd64, 20, []int64{100, 250})
	addFixtureImage(t, reg, "b", "1.0", linuxAmd64, 20, []int64{100, 300})

	list := NewList(
		newImage(t, host+"/a:1.0", Options{Platform: &linuxAmd64}),
		newImage(t, host+"/b:1.0", Options{Platform: &linuxAmd64}),
	)
	ctx := context.Background()
	size, err := list.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 670 {
		t.Errorf("Size = %d, want 670 (deduplicated)", size)
	}
	formatted, err := list.SizeFormatted(ctx)
	if err != nil {
		t.Fatalf("SizeFormatted: %v", err)
	}
	if formatted != "670.00 B" {
		t.Errorf("SizeFormatted = %q, want %q", formatted, "670.00 B")
	}
}

func TestListDelete(t *testing.T) {
	reg, host := startRegistry(t)
	addFixtureImage(t, reg, "a", "1.0", linuxAmd64, 20, []int64{10})
	addFixtureImage(t, reg, "b", "1.0", linuxAmd64, 20, []int64{11})

	a := newImage(t, host+"/a:1.0", Options{Platform: &linuxAmd64})
	b := newImage(t, host+"/b:1.0", Options{Platform: &linuxAmd64})
	ctx := context.Background()
	da, err := a.Digest(ctx)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	db, err := b.Digest(ctx)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	if err := NewList(a, b).Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, refStr := range []string{
		host + "/a@" + da.String(),
		host + "/b@" + db.String(),
	} {
		img := newImage(t, refStr, Options{Platform: &linuxAmd64})
		ok, err := img.Exists(ctx)
		if err != nil {
			t.Fatalf("Exists(%s): %v", refStr, err)
		}
		if ok {
			t.Errorf("%s still exists after bulk delete", refStr)
		}
	}
}

func TestListDiff(t *testing.T) {
	pinned := digest.FromString("pinned manifest")
	mk := func(refStr string) *Image {
		t.Helper()
		return newImage(t, refStr, Options{})
	}
	current := NewList(
		mk("example.com/app:2.0"),
		mk("example.com/web@"+pinned.String()),
		mk("example.com/new:1.0"),
	)
	previous := NewList(
		mk("example.com/app:1.0"),
		mk("example.com/web@"+pinned.String()),
		mk("example.com/old:1.0"),
	)

	diff := current.Diff(previous)
	names := func(l *ImageList) []string {
		var out []string
		for _, img := range l.Images() {
			out = append(out, img.Ref().Name())
		}
		return out
	}
	if got := names(diff.Added); len(got) != 1 || got[0] != "example.com/new" {
		t.Errorf("Added = %v, want [example.com/new]", got)
	}
	if got := names(diff.Removed); len(got) != 1 || got[0] != "example.com/old" {
		t.Errorf("Removed = %v, want [example.com/old]", got)
	}
	if got := names(diff.Updated); len(got) != 1 || got[0] != "example.com/app" {
		t.Errorf("Updated = %v, want [example.com/app]", got)
	}
	if got := names(diff.Common); len(got) != 1 || got[0] != "example.com/web" {
		t.Errorf("Common = %v, want [example.com/web]", got)
	}
	want := "Added:\t1\nRemoved:\t1\nUpdated:\t1\nCommon:\t1"
	if got := diff.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
