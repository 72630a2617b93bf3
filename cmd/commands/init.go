package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	"github.com/Asadullah378/MiniChain/privval"
)

// InitFilesCmd initialises a fresh MiniChain node home.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the node home and key",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	if err := ensureRoot(config.Base.RootDir); err != nil {
		return err
	}

	keyFile := config.Base.NodeKeyFile()
	if tmos.FileExists(keyFile) {
		logger.Info("Found node key", "keyFile", keyFile)
		return nil
	}
	pv := privval.GenFilePV(keyFile)
	pv.Save()
	pub, _ := pv.GetPubKey()
	logger.Info("Generated node key", "keyFile", keyFile)
	fmt.Printf("%X\n", pub.Address())
	return nil
}
