package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcohefti/skilleval/internal/agentconfig"
)

func (r Runner) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Install or remove a managed agent config overlay",
	}

	var install agentconfig.InstallOptions
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Merge an overlay into a target config and record a removal ledger",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, req := range []struct{ name, value string }{
				{"overlay", install.Overlay}, {"target", install.Target}, {"state", install.State},
			} {
				if err := requireFlag(req.name, req.value); err != nil {
					return err
				}
			}
			res, err := agentconfig.Install(install)
			if err != nil {
				return invalidError(err.Error(), 1)
			}
			return r.writeJSON(res)
		},
	}
	installCmd.Flags().StringVar(&install.Overlay, "overlay", "", "repo-managed config to merge (required)")
	installCmd.Flags().StringVar(&install.Target, "target", "", "agent config file to modify (required)")
	installCmd.Flags().StringVar(&install.State, "state", "", "ledger file written for removal (required)")
	installCmd.Flags().StringVar(&install.Opencode, "opencode", "", "opencode config whose permission.skill entries are folded in")

	var target, state string
	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove previously installed overlay entries, keeping user edits",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireFlag("target", target); err != nil {
				return err
			}
			if err := requireFlag("state", state); err != nil {
				return err
			}
			res, err := agentconfig.Remove(target, state)
			if err != nil {
				return invalidError(err.Error(), 1)
			}
			if res.Skipped > 0 {
				fmt.Fprintf(r.Stderr, "preserved %d user-modified setting(s)\n", res.Skipped)
			}
			return r.writeJSON(res)
		},
	}
	removeCmd.Flags().StringVar(&target, "target", "", "agent config file to restore (required)")
	removeCmd.Flags().StringVar(&state, "state", "", "ledger written by install (required)")

	cmd.AddCommand(installCmd, removeCmd)
	return cmd
}
