package commands

import (
	"fmt"

	"github.com/ashureev/sonic-trainer/internal/scenario"
	"github.com/spf13/cobra"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the built-in role-play scenarios",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := scenario.Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, key := range catalog.Keys() {
			s, _ := catalog.Lookup(key)
			line := titleStyle.Render(key) + "  " + s.Title
			if key == catalog.DefaultKey {
				line += " " + systemStyle.Render("(default)")
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}
