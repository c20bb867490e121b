// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const configName = "spyglass.toml"

// fileConfig is the on-disk configuration. It is looked up in the
// current directory and its parents, then under the user config dir,
// so a project can pin its platform and registries while personal
// credentials live in the home directory.
type fileConfig struct {
	// Platform is the default target platform (os/arch[/variant]).
	Platform string `toml:"platform,omitempty"`
	// Registries maps a registry host (as written in references,
	// e.g. "ghcr.io" or "localhost:5000") to its settings.
	Registries map[string]registryEntry `toml:"registries,omitempty"`
}

type registryEntry struct {
	Username      string `toml:"username,omitempty"`
	Password      string `toml:"password,omitempty"`
	IdentityToken string `toml:"identity_token,omitempty"`
	PlainHTTP     bool   `toml:"plain_http,omitempty"`
}

// loadFileConfig returns an empty config, never nil, when no file
// exists anywhere on the search path. An explicit path skips the
// search and must exist.
func loadFileConfig(explicit string) (*fileConfig, error) {
	path := explicit
	if path == "" {
		var err error
		path, err = findConfigPath()
		if err != nil {
			return nil, err
		}
	}
	if path == "" {
		return &fileConfig{}, nil
	}
	var cfg fileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

func findConfigPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := filepath.Clean(cwd)
	for {
		path := filepath.Join(dir, configName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if confDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(confDir, "spyglass", configName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func (c *fileConfig) registryFor(host string) registryEntry {
	if c == nil {
		return registryEntry{}
	}
	return c.Registries[host]
}
