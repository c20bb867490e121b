// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/yeetrun/spyglass/pkg/image"
)

// emitStructured renders v as JSON or YAML when the matching global
// flag is set. It reports whether it handled the output.
func emitStructured(flags globalFlagsParsed, v any) (bool, error) {
	switch {
	case flags.JSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		fmt.Println(string(data))
		return true, nil
	case flags.YAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		fmt.Print(string(data))
		return true, nil
	}
	return false, nil
}

var fieldColor = color.New(color.FgCyan)

func printInspect(ins *image.Inspect) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	row := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(w, "%s\t%s\n", fieldColor.Sprint(name+":"), value)
	}
	row("Name", ins.Name)
	row("Tag", ins.Tag)
	row("Digest", ins.Digest.String())
	if ins.Variant != "" {
		row("Platform", ins.Os+"/"+ins.Architecture+"/"+ins.Variant)
	} else {
		row("Platform", ins.Os+"/"+ins.Architecture)
	}
	if ins.Created != nil {
		row("Created", ins.Created.Format("2006-01-02 15:04:05 MST"))
	}
	row("Author", ins.Author)
	row("Size", fmt.Sprintf("%s (%d bytes)", ins.SizeFormatted, ins.Size))
	row("Layers", fmt.Sprintf("%d", len(ins.Layers)))
	w.Flush()

	if len(ins.Labels) > 0 {
		fmt.Println(fieldColor.Sprint("Labels:"))
		lw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for k, v := range ins.Labels {
			fmt.Fprintf(lw, "  %s\t%s\n", k, v)
		}
		lw.Flush()
	}
	if len(ins.RepoTags) > 0 {
		fmt.Println(fieldColor.Sprint("Repo tags:"))
		for _, t := range ins.RepoTags {
			fmt.Printf("  %s\n", t)
		}
	}
}
