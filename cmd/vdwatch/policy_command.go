package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vdwatch/internal/config"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

func newPolicyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect state machine policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(res.Config.Policies))
			for _, name := range res.Config.PolicyNames() {
				table := res.Config.Policies[name]
				origin := res.Origin("policies." + name)
				source := string(origin.Kind)
				if origin.File != "" {
					source = fmt.Sprintf("%s:%d", origin.File, origin.Line)
				}
				rows = append(rows, []string{name, fmt.Sprintf("%d", len(table.States)), source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Policy", "States", "Source"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show a policy's states and transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			out, err := renderPolicy(res.Config, args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	})

	return cmd
}

func renderPolicy(cfg *config.Config, name string) (string, error) {
	table, ok := cfg.Policies[name]
	if !ok {
		return "", fmt.Errorf("unknown policy %q (available: %s)", name, strings.Join(cfg.PolicyNames(), ", "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy %s (initial %s, baseline %s)\n", name, table.Initial, table.Baseline)

	rows := make([][]string, 0, len(table.States))
	for _, state := range table.StateNames() {
		critical := ""
		if table.IsCritical(state) {
			critical = "yes"
		}
		p := table.Policy(state)
		if p == nil {
			rows = append(rows, []string{string(state), "-", "-", critical, "-"})
			continue
		}
		rows = append(rows, []string{string(state), p.Action.String(), p.Flow.String(), critical, formatTransitions(p.Transitions)})
	}
	b.WriteString(renderTable([]string{"State", "Action", "Flow", "Critical", "Transitions"}, rows, nil))
	b.WriteString("\n")
	return b.String(), nil
}

func formatTransitions(t map[statemachine.ResultKey]statemachine.State) string {
	if len(t) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s -> %s", k, t[statemachine.ResultKey(k)]))
	}
	return strings.Join(parts, ", ")
}
