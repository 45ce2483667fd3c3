package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/clawbridge/internal/hook"
)

// hookCmd groups the subcommands wired into the agent's lifecycle
// hooks. They read the hook event from stdin and must never block the
// agent when the bridge is down, so every RunE ignores transport
// problems and fails open.
func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Agent lifecycle hook entry points",
		Long: `Agent lifecycle hook entry points.

Wire these into the agent's hook configuration, e.g.:

  "PreToolUse":  "clawbridge hook pre-tool"
  "PostToolUse": "clawbridge hook post-tool"
  "Notification": "clawbridge hook notification"
  "Stop":        "clawbridge hook stop"`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "pre-tool",
			Short: "Gate a tool call on operator approval",
			RunE: func(c *cobra.Command, _ []string) error {
				return hook.RunPreTool(c.Context(), hook.EnvFromOS(), os.Stdin, os.Stdout)
			},
		},
		&cobra.Command{
			Use:   "post-tool",
			Short: "Notify the operator after a tool ran",
			RunE: func(c *cobra.Command, _ []string) error {
				return hook.RunPostTool(c.Context(), hook.EnvFromOS(), os.Stdin)
			},
		},
		&cobra.Command{
			Use:   "notification",
			Short: "Relay an agent notification to the operator",
			RunE: func(c *cobra.Command, _ []string) error {
				return hook.RunNotification(c.Context(), hook.EnvFromOS(), os.Stdin)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Announce completion and close the agent session",
			RunE: func(c *cobra.Command, _ []string) error {
				return hook.RunStop(c.Context(), hook.EnvFromOS(), os.Stdin)
			},
		},
	)
	return cmd
}
