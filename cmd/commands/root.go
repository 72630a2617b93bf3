package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/libs/log"

	cfg "github.com/Asadullah378/MiniChain/config"
)

var (
	config = cfg.DefaultConfig()
	logger = log.NewTMLogger(log.NewSyncWriter(os.Stdout))
)

func init() {
	RootCmd.PersistentFlags().String("home", config.Base.RootDir, "node home directory")
	RootCmd.PersistentFlags().String("self-id", "", "this node's identity as peers reach it (host:port)")
	RootCmd.PersistentFlags().String("listen", config.P2P.ListenAddress, "p2p bind address (host:port)")
	RootCmd.PersistentFlags().String("moniker", config.Base.Moniker, "human-readable node name")
}

// RootCmd loads the config before every subcommand: defaults, then the
// optional config file in the home directory, then flags.
var RootCmd = &cobra.Command{
	Use:   "minichain",
	Short: "MiniChain proof-of-authority ledger node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		home := viper.GetString("home")
		viper.SetConfigName("config")
		viper.AddConfigPath(home)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
		if err := viper.Unmarshal(config); err != nil {
			return err
		}
		config.Base.RootDir = home
		if id := viper.GetString("self-id"); id != "" {
			config.Base.SelfID = id
		}
		if addr := viper.GetString("listen"); addr != "" {
			config.P2P.ListenAddress = addr
		}
		if moniker := viper.GetString("moniker"); moniker != "" {
			config.Base.Moniker = moniker
		}
		logger = logger.With("moniker", config.Base.Moniker)
		return nil
	},
}

func ensureRoot(rootDir string) error {
	return os.MkdirAll(filepath.Join(rootDir, "data"), 0o755)
}
