package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPipelinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List configured pipelines in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tTEST TYPE\tTABLE\tSCORE COLUMN\tCOLUMNS")
			for _, name := range cfg.PipelineNames() {
				p := cfg.Pipelines[name]
				score := p.ScoreColumn
				if score == "" {
					score = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					name, p.Kind, p.TestType, p.Table, score, strings.Join(p.RunColumns(), ","))
			}
			return w.Flush()
		},
	}
}
