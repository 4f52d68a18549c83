package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/marcohefti/skilleval/internal/config"
	"github.com/marcohefti/skilleval/internal/doctor"
	"github.com/marcohefti/skilleval/internal/gc"
)

func (r Runner) doctorCmd(g *globalFlags) *cobra.Command {
	var flags config.Flags
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the output dir, project config, agent binary and output lock",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := doctor.Run(g.config, flags)
			if err != nil {
				return usageError(err.Error())
			}
			if err := r.writeJSON(res); err != nil {
				return err
			}
			if !res.OK {
				return exitStatus(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Out, "out", "", "output directory (default .skilleval)")
	cmd.Flags().StringVar(&flags.AgentBin, "agent-bin", "", "agent binary (default opencode)")
	return cmd
}

func (r Runner) gcCmd() *cobra.Command {
	var opts gc.Opts
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove workspace temp roots left behind by interrupted runs",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if opts.MaxAge < 0 || opts.MaxTotalBytes < 0 {
				return usageError("--max-age and --max-bytes must be >= 0")
			}
			opts.Now = r.Now()
			res, err := gc.Run(opts)
			if err != nil {
				return ioError(err.Error())
			}
			if err := r.writeJSON(res); err != nil {
				return err
			}
			if !res.OK {
				return exitStatus(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.TempRoot, "temp-root", "", "directory holding run temp roots (default OS temp dir)")
	cmd.Flags().DurationVar(&opts.MaxAge, "max-age", 24*time.Hour, "only remove leftovers older than this")
	cmd.Flags().Int64Var(&opts.MaxTotalBytes, "max-bytes", 0, "remove oldest leftovers until their total size is under this (0 removes all old ones)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be removed")
	return cmd
}
