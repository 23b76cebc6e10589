package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"anvil/internal/adapter/command"
	"anvil/internal/domain"
	"anvil/internal/infra/logger"
)

// commandsCmd lists the slash commands discovered in the skills directory.
var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List slash commands discovered in the skills directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg := command.NewRegistry(cfg.Skills.Dir, logger.Discard())
		reg.Load()
		return printCommands(cmd.OutOrStdout(), reg.Root(), reg.List())
	},
}

func printCommands(w io.Writer, root string, defs []domain.CommandDefinition) error {
	if len(defs) == 0 {
		_, err := fmt.Fprintf(w, "No commands found under %s\n", root)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMAND\tSKILL\tDESCRIPTION")
	for _, d := range defs {
		fmt.Fprintf(tw, "/%s\t%s\t%s\n", d.Name, d.Skill, d.Description)
	}
	return tw.Flush()
}
