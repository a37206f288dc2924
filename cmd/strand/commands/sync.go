package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"strand/internal/domain"
)

// sync tracks the joined streams plus any given on the command line and runs
// until interrupted or until syncing gives up.
func syncCmd() *cobra.Command {
	var noMetrics bool
	cmd := &cobra.Command{
		Use:   "sync [stream]...",
		Short: "Sync streams and exchange keys until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			extra := make([]domain.StreamID, 0, len(args))
			for _, s := range args {
				id, err := domain.ParseStreamID(s)
				if err != nil {
					return err
				}
				extra = append(extra, id)
			}
			if noMetrics {
				wire.Config.Metrics.Disable = true
			}
			a, err := wire.Open(passphrase, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.TrackJoined(ctx); err != nil {
				a.Stop()
				return fmt.Errorf("load joined streams: %w", err)
			}
			if err := a.Track(ctx, extra...); err != nil {
				a.Stop()
				return err
			}
			go printStates(ctx, cmd, a.Syncer.StateChanged())
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not serve /metrics")
	return cmd
}

func printStates[T fmt.Stringer](ctx context.Context, cmd *cobra.Command, ch <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-ch:
			fmt.Fprintf(cmd.ErrOrStderr(), "sync: %s\n", st)
		}
	}
}
