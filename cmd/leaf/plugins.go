// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/leafkit/leaf/internal/plugin"
)

// pluginListing is one row of `leaf plugins list`.
type pluginListing struct {
	Name    string      `json:"name"`
	Version string      `json:"version,omitempty"`
	Type    plugin.Type `json:"type,omitempty"`
	Autorun bool        `json:"autorun"`
	Ref     string      `json:"ref"`
	Error   string      `json:"error,omitempty"`
}

// NewPluginsCmd creates the plugins subcommand.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugins and their manifests",
	}
	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsValidateCmd())
	cmd.AddCommand(newPluginsSchemaCmd())
	return cmd
}

func newPluginsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the plugins the configured source would load",
		Long: `List every candidate in the plugin directory (or the builtin catalog)
without loading it. Candidates whose manifest is invalid are shown with
the import error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			source := cfg.Plugins.Source()
			candidates, err := source.Candidates(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([]pluginListing, 0, len(candidates))
			for _, c := range candidates {
				row := pluginListing{Name: c.Name(), Ref: c.Ref}
				if c.Manifest != nil {
					row.Version = c.Manifest.Version
					row.Type = c.Manifest.Type
					row.Autorun = c.Manifest.Autorun
				}
				if c.Err != nil {
					row.Error = c.Err.Error()
				}
				rows = append(rows, row)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(rows, "", "  ")
				if err != nil {
					return oops.Wrapf(err, "marshal plugin list")
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Printf("Source: %s\n", source)
			return writePluginTable(cmd, rows)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func writePluginTable(cmd *cobra.Command, rows []pluginListing) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVERSION\tTYPE\tAUTORUN\tSTATUS")
	for _, r := range rows {
		status := "ok"
		if r.Error != "" {
			status = r.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", r.Name, orDash(r.Version), orDash(string(r.Type)), r.Autorun, status)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH...",
		Short: "Validate plugin.yaml files or plugin directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				m, err := validateManifest(path)
				if err != nil {
					failed++
					cmd.Printf("%s: %v\n", path, err)
					continue
				}
				cmd.Printf("%s: ok (%s %s, %s)\n", path, m.Name, m.Version, m.Type)
			}
			if failed > 0 {
				return oops.Code(plugin.KindImportError.Code).Errorf("%d of %d manifests invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateManifest(path string) (*plugin.Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	if info.IsDir() {
		path = filepath.Join(path, plugin.ManifestFile)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return plugin.ParseManifest(data)
}

func newPluginsSchemaCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for plugin.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := plugin.GenerateSchema()
			if err != nil {
				return err
			}
			if out == "" {
				cmd.Println(string(schema))
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
				return oops.With("path", out).Wrap(err)
			}
			if err := os.WriteFile(out, schema, 0o600); err != nil {
				return oops.With("path", out).Wrap(err)
			}
			cmd.Printf("Generated %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the schema to this file instead of stdout")
	return cmd
}
