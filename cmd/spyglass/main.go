// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Spyglass inspects container images in OCI and Docker registries
// without pulling them: digests, sizes, manifests, configs, tags, and
// platforms, straight from the registry API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/shayne/yargs"

	"github.com/yeetrun/spyglass/pkg/image"
	"github.com/yeetrun/spyglass/pkg/ref"
	"github.com/yeetrun/spyglass/pkg/regclient"
)

type globalFlagsParsed struct {
	Platform    string `flag:"platform" help:"Target platform as os/arch[/variant] (default: host platform)"`
	Username    string `flag:"username" help:"Registry username (SPYGLASS_USERNAME)"`
	Password    string `flag:"password" help:"Registry password (SPYGLASS_PASSWORD)"`
	PlainHTTP   bool   `flag:"plain-http" help:"Use plain HTTP to reach the registry"`
	JSON        bool   `flag:"json" help:"Emit JSON"`
	YAML        bool   `flag:"yaml" help:"Emit YAML"`
	Timeout     string `flag:"timeout" help:"Per-request timeout, e.g. 30s"`
	MaxAttempts int    `flag:"max-attempts" help:"Transport attempts per request"`
	Config      string `flag:"config" help:"Path to spyglass.toml (default: search cwd upward, then the user config dir)"`
	Verbose     bool   `flag:"verbose" short:"v" help:"Verbose logging to stderr"`
}

func parseGlobalFlags(args []string) (globalFlagsParsed, []string, error) {
	result, err := yargs.ParseKnownFlags[globalFlagsParsed](args, yargs.KnownFlagsOptions{})
	if err != nil {
		return globalFlagsParsed{}, nil, err
	}
	return result.Flags, result.RemainingArgs, nil
}

// app carries the merged flag and file configuration into the
// subcommand handlers.
type app struct {
	flags globalFlagsParsed
	cfg   *fileConfig
}

// newImage builds an Image for refStr, layering credentials and
// transport settings: flags beat environment, environment beats the
// per-registry config file section.
func (a *app) newImage(refStr string) (*image.Image, error) {
	r, err := ref.Parse(refStr)
	if err != nil {
		return nil, err
	}
	opts, err := a.imageOptions(r.Host)
	if err != nil {
		return nil, err
	}
	return image.New(refStr, opts)
}

func (a *app) imageOptions(host string) (image.Options, error) {
	entry := a.cfg.registryFor(host)

	opts := image.Options{
		Credentials: regclient.Credentials{
			Username:      entry.Username,
			Password:      entry.Password,
			IdentityToken: entry.IdentityToken,
		},
		PlainHTTP: entry.PlainHTTP || a.flags.PlainHTTP,
	}
	if u := os.Getenv("SPYGLASS_USERNAME"); u != "" {
		opts.Credentials.Username = u
		opts.Credentials.Password = os.Getenv("SPYGLASS_PASSWORD")
	}
	if a.flags.Username != "" {
		opts.Credentials.Username = a.flags.Username
		opts.Credentials.Password = a.flags.Password
	}

	platform := a.flags.Platform
	if platform == "" {
		platform = a.cfg.Platform
	}
	if platform != "" {
		p, err := regclient.ParsePlatform(platform)
		if err != nil {
			return image.Options{}, err
		}
		opts.Platform = &p
	}
	if a.flags.Timeout != "" {
		d, err := time.ParseDuration(a.flags.Timeout)
		if err != nil {
			return image.Options{}, fmt.Errorf("bad --timeout: %w", err)
		}
		opts.Timeout = d
	}
	if a.flags.MaxAttempts > 0 {
		opts.MaxAttempts = a.flags.MaxAttempts
	}
	if a.flags.Verbose {
		opts.Logf = log.Printf
	}
	return opts, nil
}

// imageArg extracts the single IMAGE argument, tolerating the
// subcommand name in front the way yargs hands args to handlers.
func imageArg(name string, args []string) (string, error) {
	if len(args) > 0 && args[0] == name {
		args = args[1:]
	}
	if len(args) != 1 {
		return "", fmt.Errorf("usage: spyglass %s IMAGE", name)
	}
	return args[0], nil
}

func buildHelpConfig() yargs.HelpConfig {
	return yargs.HelpConfig{
		Command: yargs.CommandInfo{
			Name:        "spyglass",
			Description: "Inspect container images in a registry without pulling them.",
			Examples: []string{
				"spyglass digest alpine:3.20",
				"spyglass size ghcr.io/org/app:v1.2.3 --platform=linux/arm64",
				"spyglass inspect alpine:3.20 --json",
				"spyglass tags ghcr.io/org/app --latest",
			},
		},
		SubCommands: map[string]yargs.SubCommandInfo{
			"digest": {
				Name:        "digest",
				Description: "Print the resolved manifest digest",
				Usage:       "digest IMAGE",
				Examples:    []string{"spyglass digest alpine:3.20"},
			},
			"size": {
				Name:        "size",
				Description: "Print the aggregate image size (config + layers)",
				Usage:       "size IMAGE",
				Examples:    []string{"spyglass size alpine:3.20"},
			},
			"manifest": {
				Name:        "manifest",
				Description: "Print the raw manifest as stored in the registry",
				Usage:       "manifest IMAGE",
			},
			"inspect": {
				Name:        "inspect",
				Description: "Print a summary of the image (digest, platform, labels, layers, size)",
				Usage:       "inspect IMAGE",
				Examples:    []string{"spyglass inspect alpine:3.20 --json"},
			},
			"tags": {
				Name:        "tags",
				Description: "List the repository's tags, semver releases first",
				Usage:       "tags IMAGE [--latest]",
			},
			"platforms": {
				Name:        "platforms",
				Description: "List the platforms the reference provides",
				Usage:       "platforms IMAGE",
			},
			"exists": {
				Name:        "exists",
				Description: "Exit 0 if the image exists, 1 if not",
				Usage:       "exists IMAGE",
			},
			"delete": {
				Name:        "delete",
				Description: "Delete the manifest the reference resolves to",
				Usage:       "delete IMAGE",
			},
		},
	}
}

func main() {
	log.SetFlags(0)
	flags, remaining, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.JSON && flags.YAML {
		fmt.Fprintln(os.Stderr, "cannot use --json and --yaml together")
		os.Exit(2)
	}
	cfg, err := loadFileConfig(flags.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	a := &app{flags: flags, cfg: cfg}

	handlers := map[string]yargs.SubcommandHandler{
		"digest":    a.handleDigest,
		"size":      a.handleSize,
		"manifest":  a.handleManifest,
		"inspect":   a.handleInspect,
		"tags":      a.handleTags,
		"platforms": a.handlePlatforms,
		"exists":    a.handleExists,
		"delete":    a.handleDelete,
	}
	if err := yargs.RunSubcommands(context.Background(), remaining, buildHelpConfig(), globalFlagsParsed{}, handlers); err != nil {
		if errors.Is(err, errNotFound) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, color.RedString("spyglass: %v", err))
		os.Exit(1)
	}
}
