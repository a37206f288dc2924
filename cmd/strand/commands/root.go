package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"strand/internal/app"
)

var (
	configFile string
	home       string
	passphrase string

	wire *app.Wire
)

var errNoPassphrase = errors.New("passphrase required (-p)")

func Execute() error {
	return execute(newRoot())
}

// execute runs root and closes the wire whether or not the command failed.
func execute(root *cobra.Command) error {
	err := root.Execute()
	if wire != nil {
		if cerr := wire.Close(); err == nil {
			err = cerr
		}
		wire = nil
	}
	return err
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "strand",
		Short:        "Client for end-to-end encrypted append-only streams",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["offline"] == "pure" {
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cfg)
			return err
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "TOML config file")
	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.strand)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity")

	root.AddCommand(initCmd(), whoamiCmd(), verifyCmd(), streamIDCmd(), sendCmd(), syncCmd())
	return root
}

func loadConfig() (*app.Config, error) {
	cfg := new(app.Config)
	if configFile != "" {
		var err error
		if cfg, err = app.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if home != "" {
		cfg.Home = home
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pure marks a command that needs neither config nor store.
func pure(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["offline"] = "pure"
	return cmd
}

func requirePassphrase() error {
	if passphrase == "" {
		return errNoPassphrase
	}
	return nil
}
