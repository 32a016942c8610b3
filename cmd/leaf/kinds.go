// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/leafkit/leaf/internal/boot"
	"github.com/leafkit/leaf/internal/config"
	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/internal/plugin/capability"
	"github.com/leafkit/leaf/internal/schedule"
	"github.com/leafkit/leaf/internal/server"
	"github.com/leafkit/leaf/internal/store"
	leaftls "github.com/leafkit/leaf/internal/tls"
	"github.com/leafkit/leaf/internal/weixin"
	"github.com/leafkit/leaf/internal/wxpay"
)

// kindRegistry registers every error kind a fully configured process can
// raise.
func kindRegistry() (*errs.Registry, error) {
	r := errs.NewRegistry()
	for _, kinds := range [][]errs.Kind{
		errs.Kinds(),
		event.Kinds(),
		boot.Kinds(),
		config.Kinds(),
		schedule.Kinds(),
		server.Kinds(),
		store.Kinds(),
		plugin.Kinds(),
		capability.Kinds(),
		weixin.Kinds(),
		wxpay.Kinds(),
		leaftls.Kinds(),
	} {
		if err := r.RegisterAll(kinds...); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewErrorsCmd creates the errors subcommand.
func NewErrorsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "errors [CODE]",
		Short: "List error kinds, or show one kind's payload schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := kindRegistry()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return describeKind(cmd, r, args[0])
			}

			kinds := r.Kinds()
			if jsonOutput {
				data, err := json.MarshalIndent(kinds, "", "  ")
				if err != nil {
					return oops.Wrapf(err, "marshal error kinds")
				}
				cmd.Println(string(data))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CODE\tDESCRIPTION")
			for _, k := range kinds {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", k.Code, k.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func describeKind(cmd *cobra.Command, r *errs.Registry, code string) error {
	k, ok := r.Lookup(code)
	if !ok {
		return oops.With("code", code).Errorf("unknown error kind %s", code)
	}
	cmd.Printf("%s: %s\n", k.Code, k.Description)

	schema, err := r.Schema(code)
	if err != nil {
		return err
	}
	if len(schema) > 0 {
		cmd.Println(string(schema))
	}
	return nil
}
