package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"strand/internal/domain"
)

func streamIDCmd() *cobra.Command {
	cmd := pure(&cobra.Command{
		Use:   "streamid",
		Short: "Mint or validate stream ids",
	})
	cmd.AddCommand(streamIDMintCmd(), streamIDCheckCmd())
	return cmd
}

func streamIDMintCmd() *cobra.Command {
	var user string
	cmd := pure(&cobra.Command{
		Use:   "mint <kind>",
		Short: "Mint a random id, or the id of a user-scoped stream with --user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			var id domain.StreamID
			if kind.UserScoped() {
				if !common.IsHexAddress(user) {
					return fmt.Errorf("%s streams need --user <address>", kind)
				}
				id, err = domain.UserStreamID(kind, common.HexToAddress(user))
			} else {
				id, err = domain.RandomStreamID(kind)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})
	cmd.Flags().StringVar(&user, "user", "", "owner address of a user-scoped stream")
	return cmd
}

func streamIDCheckCmd() *cobra.Command {
	return pure(&cobra.Command{
		Use:   "check <id>...",
		Short: "Validate stream ids and print their kinds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var bad int
			for _, s := range args {
				id, err := domain.ParseStreamID(s)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tinvalid: %v\n", s, err)
					bad++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, id.Kind())
			}
			if bad > 0 {
				return fmt.Errorf("%d invalid stream ids", bad)
			}
			return nil
		},
	})
}

func parseKind(name string) (domain.ContentKind, error) {
	for k := domain.KindSpace; k <= domain.KindInbox; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return domain.KindUnknown, fmt.Errorf("unknown stream kind %q", name)
}
