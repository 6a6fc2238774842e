// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

type pluginView struct {
	UID       string   `json:"uid"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Vendor    string   `json:"vendor,omitempty"`
	Default   bool     `json:"default"`
	Contracts []string `json:"contracts"`
	Module    string   `json:"module"`
}

func newPluginView(info plugin.Info) pluginView {
	contracts := make([]string, len(info.Contracts))
	for i, c := range info.Contracts {
		contracts[i] = c.String()
	}
	return pluginView{
		UID:       info.Identity.UID.String(),
		Name:      info.Identity.Name,
		Version:   info.Identity.Version.String(),
		Vendor:    info.Identity.Vendor,
		Default:   info.Identity.Flags.Has(plugin.ProvidesDefaultImplementation),
		Contracts: contracts,
		Module:    info.Module,
	}
}

func (c *Console) newPluginsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the available plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.app.Loader == nil {
				return fmt.Errorf("no plugin loader configured")
			}
			infos := c.app.Loader.Plugins()
			views := make([]pluginView, len(infos))
			for i, info := range infos {
				views[i] = newPluginView(info)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tDEFAULT\tCONTRACTS\tUID\tMODULE")
			for i, v := range views {
				def := ""
				if v.Default {
					def = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					v.Name, v.Version, def, capability.JoinContracts(infos[i].Contracts), v.UID, v.Module)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}
