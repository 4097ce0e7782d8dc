package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jadenj13/deskdroid/internals/session"
)

var toolsSchema bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := session.NewRegistry(cfg, nil, log)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, d := range reg.Declarations() {
			desc := d.Description
			if d.Display != nil {
				desc = fmt.Sprintf("%s (display %dx%d :%d)", desc, d.Display.WidthPx, d.Display.HeightPx, d.Display.Number)
			}
			fmt.Fprintf(w, "%s\t%s\n", d.Name, desc)
			if toolsSchema {
				fmt.Fprintf(w, "\t%s\n", d.InputSchema)
			}
		}
		return w.Flush()
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsSchema, "schema", false, "also print each tool's input schema")
}
