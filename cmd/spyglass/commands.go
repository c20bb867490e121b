// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shayne/yargs"
	"gopkg.in/yaml.v3"

	"github.com/yeetrun/spyglass/pkg/image"
	"github.com/yeetrun/spyglass/pkg/regclient"
)

// errNotFound signals an exit status of 1 with no error output, for
// `spyglass exists` in scripts.
var errNotFound = errors.New("not found")

func (a *app) handleDigest(ctx context.Context, args []string) error {
	refStr, err := imageArg("digest", args)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	d, err := img.Digest(ctx)
	if err != nil {
		return err
	}
	if done, err := emitStructured(a.flags, map[string]string{"digest": d.String()}); done {
		return err
	}
	fmt.Println(d)
	return nil
}

func (a *app) handleSize(ctx context.Context, args []string) error {
	refStr, err := imageArg("size", args)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	size, err := img.Size(ctx)
	if err != nil {
		return err
	}
	formatted, err := img.SizeFormatted(ctx)
	if err != nil {
		return err
	}
	if done, err := emitStructured(a.flags, map[string]any{"bytes": size, "formatted": formatted}); done {
		return err
	}
	fmt.Println(formatted)
	return nil
}

func (a *app) handleManifest(ctx context.Context, args []string) error {
	refStr, err := imageArg("manifest", args)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	raw, mediaType, err := img.RawManifest(ctx)
	if err != nil {
		return err
	}
	if a.flags.YAML {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("manifest is not valid JSON (%s): %w", mediaType, err)
		}
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// Registry bytes pass through untouched if they do not indent.
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func (a *app) handleInspect(ctx context.Context, args []string) error {
	refStr, err := imageArg("inspect", args)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	ins, err := img.Inspect(ctx)
	if err != nil {
		return err
	}
	if done, err := emitStructured(a.flags, ins); done {
		return err
	}
	printInspect(ins)
	return nil
}

type tagsFlagsParsed struct {
	Latest bool `flag:"latest" help:"Print only the highest semver tag"`
}

func (a *app) handleTags(ctx context.Context, args []string) error {
	result, err := yargs.ParseKnownFlags[tagsFlagsParsed](args, yargs.KnownFlagsOptions{})
	if err != nil {
		return err
	}
	refStr, err := imageArg("tags", result.RemainingArgs)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	tags, err := img.Tags(ctx)
	if err != nil {
		return err
	}
	sorted := image.SortTagsBySemver(tags)
	if result.Flags.Latest {
		latest := image.LatestSemverTag(tags)
		if latest == "" {
			return fmt.Errorf("%s: no semver tags", img.Ref().Name())
		}
		if done, err := emitStructured(a.flags, map[string]string{"latest": latest}); done {
			return err
		}
		fmt.Println(latest)
		return nil
	}
	if done, err := emitStructured(a.flags, map[string][]string{"tags": sorted}); done {
		return err
	}
	for _, t := range sorted {
		fmt.Println(t)
	}
	return nil
}

func (a *app) handlePlatforms(ctx context.Context, args []string) error {
	refStr, err := imageArg("platforms", args)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	platforms, err := img.Platforms(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(platforms))
	for _, p := range platforms {
		names = append(names, regclient.PlatformString(p))
	}
	if done, err := emitStructured(a.flags, map[string][]string{"platforms": names}); done {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func (a *app) handleExists(ctx context.Context, args []string) error {
	refStr, err := imageArg("exists", args)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	ok, err := img.Exists(ctx)
	if err != nil {
		return err
	}
	if done, err := emitStructured(a.flags, map[string]bool{"exists": ok}); done {
		if err != nil {
			return err
		}
		if !ok {
			return errNotFound
		}
		return nil
	}
	if !ok {
		return errNotFound
	}
	fmt.Println("exists")
	return nil
}

func (a *app) handleDelete(ctx context.Context, args []string) error {
	refStr, err := imageArg("delete", args)
	if err != nil {
		return err
	}
	img, err := a.newImage(refStr)
	if err != nil {
		return err
	}
	d, err := img.Digest(ctx)
	if err != nil {
		return err
	}
	if err := img.Delete(ctx); err != nil {
		return err
	}
	fmt.Printf("deleted %s@%s\n", img.Ref().Name(), d)
	return nil
}
