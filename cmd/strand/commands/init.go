package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var deviceID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			has, err := wire.DB.HasIdentity()
			if err != nil {
				return err
			}
			if has && !force {
				return errors.New("identity already exists (use --force to replace it)")
			}
			id, fp, err := wire.Identities.GenerateIdentity(passphrase, deviceID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nDevice: %s\nFingerprint: %s\n", id.DeviceID, fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceID, "device-id", "", "device id (default random)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}
