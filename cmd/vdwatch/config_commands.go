package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vdwatch/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(ctx))
	cmd.AddCommand(newConfigPathCommand(ctx))
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderConfigSummary(res))
			return nil
		},
	}
}

func newConfigPathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func renderConfigSummary(res *config.LoadResult) string {
	cfg := res.Config
	var b strings.Builder

	if len(res.Files) == 0 {
		b.WriteString("No config file found; using defaults\n")
	} else {
		fmt.Fprintf(&b, "Configuration OK (%d file(s))\n", len(res.Files))
		for _, f := range res.Files {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}

	rows := make([][]string, 0, len(cfg.Desktops))
	for _, d := range cfg.Desktops {
		monitors := "-"
		if len(d.Monitors) > 0 {
			monitors = strings.Join(d.Monitors, ", ")
		}
		rows = append(rows, []string{d.ID, fmt.Sprintf("%d", d.Index), d.Slice.String(), monitors})
	}
	b.WriteString(renderTable([]string{"Desktop", "Index", "Slice", "Monitors"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
	b.WriteString("\n")

	if len(cfg.Monitors) > 0 {
		rows = rows[:0]
		for _, m := range cfg.Monitors {
			rows = append(rows, []string{m.Name, m.Policy, m.Interval.String(), fmt.Sprintf("%d", len(m.Screens))})
		}
		b.WriteString(renderTable([]string{"Monitor", "Policy", "Interval", "Screens"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
		b.WriteString("\n")
	}

	if len(cfg.Tasks) > 0 {
		tasks := append([]config.TaskConfig(nil), cfg.Tasks...)
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].At.String() < tasks[j].At.String() })
		rows = rows[:0]
		for _, t := range tasks {
			rows = append(rows, []string{t.At.String(), t.Key, t.Desktop, strings.Join(t.Command, " ")})
		}
		b.WriteString(renderTable([]string{"At", "Task", "Desktop", "Command"}, rows, nil))
		b.WriteString("\n")
	}
	return b.String()
}
