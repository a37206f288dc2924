package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"strand/internal/crypto"
	"strand/internal/services/identity"
)

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the user address and device key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			id, err := wire.Identities.LoadIdentity(passphrase)
			if err != nil {
				return err
			}
			user, err := identity.UserAddress(id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:        %s\n", user.Hex())
			fmt.Fprintf(out, "Device:      %s\n", id.DeviceID)
			fmt.Fprintf(out, "Device key:  %s\n", crypto.DeviceKeyOf(id.XPub))
			fmt.Fprintf(out, "Fingerprint: %s\n", identity.Fingerprint(id))
			return nil
		},
	}
}
