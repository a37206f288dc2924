package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"strand/internal/domain"
)

// send <stream> <message>: encrypt and post a message to a stream.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <stream> <message>",
		Short: "Encrypt and post a message to a stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			streamID, err := domain.ParseStreamID(args[0])
			if err != nil {
				return err
			}
			a, err := wire.Open(passphrase, nil)
			if err != nil {
				return err
			}
			defer a.Stop()

			ctx := cmd.Context()
			if err := a.Directory.Upload(ctx); err != nil {
				return err
			}
			if err := a.Client.SendMessage(ctx, streamID, []byte(args[1])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}
