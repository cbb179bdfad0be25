package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vdwatch/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator and screen state",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().GetStatus()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			fmt.Fprint(out, renderStatus(status))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func renderStatus(st *ipc.StatusData) string {
	var b strings.Builder
	c := st.Coordinator

	fmt.Fprintf(&b, "State:    %s\n", c.State)
	fmt.Fprintf(&b, "Focus:    %s\n", c.Focus)
	fmt.Fprintf(&b, "Slice:    %s / %s\n", c.SliceElapsed.Round(time.Second), c.Slice)
	if c.PendingTask != "" {
		fmt.Fprintf(&b, "Pending:  %s\n", c.PendingTask)
	}
	if c.SwitchRequested {
		b.WriteString("Switch:   requested\n")
	}
	running := "none"
	if len(c.Running) > 0 {
		running = strings.Join(c.Running, ", ")
	}
	fmt.Fprintf(&b, "Monitors: %s\n", running)
	fmt.Fprintf(&b, "I/O:      %d pending\n", st.PendingIO)
	fmt.Fprintf(&b, "Uptime:   %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())

	if len(st.Screens) == 0 {
		return b.String()
	}
	rows := make([][]string, 0, len(st.Screens))
	for _, s := range st.Screens {
		entered := ""
		if !s.EnteredAt.IsZero() {
			entered = s.EnteredAt.Local().Format("15:04:05")
		}
		rows = append(rows, []string{s.Monitor, s.ScreenID, string(s.State), entered})
	}
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"Monitor", "Screen", "State", "Since"}, rows, nil))
	b.WriteString("\n")
	return b.String()
}

func newSwitchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "switch",
		Short: "Ask the coordinator to switch desktops now",
		Long:  "Requests an immediate switch to the peer desktop. The switch still waits while a screen is in a critical state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().SwitchNow(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Switch requested")
			return nil
		},
	}
}

func newReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the task schedule from the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := ctx.client().Reload()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reloaded %d task(s)\n", data.Tasks)
			return nil
		},
	}
}
