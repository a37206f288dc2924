package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"strand/internal/domain"
	"strand/internal/protocol/events"
)

// verify reads JSON envelopes, either one object or an array per file, and
// checks their hashes, signatures and delegate chains.
func verifyCmd() *cobra.Command {
	return pure(&cobra.Command{
		Use:   "verify <file>...",
		Short: "Verify envelope files and print their events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var bad int
			for _, f := range args {
				envs, err := readEnvelopes(f)
				if err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
				for i, env := range envs {
					pe, err := events.VerifyEnvelope(env)
					if err != nil {
						fmt.Fprintf(out, "%s[%d]\tREJECTED\t%v\n", f, i, err)
						bad++
						continue
					}
					fmt.Fprintf(out, "%s[%d]\tOK\t%s\t%s\t%s\tprev=%d\n",
						f, i, pe.Hash.Hex(), pe.Creator().Hex(), pe.Case(), len(pe.Event.PrevEventHashes))
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d envelopes rejected", bad)
			}
			return nil
		},
	})
}

func readEnvelopes(f string) ([]domain.Envelope, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var envs []domain.Envelope
		err := json.Unmarshal(b, &envs)
		return envs, err
	}
	var env domain.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return []domain.Envelope{env}, nil
}
