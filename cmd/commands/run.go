package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	nm "github.com/Asadullah378/MiniChain/node"
	"github.com/Asadullah378/MiniChain/types"
)

var peersFile string

func init() {
	RunNodeCmd.Flags().StringVar(&peersFile, "peers-file", "", "path to the peer list (one host:port per line)")
	RootCmd.AddCommand(RunNodeCmd)
	RootCmd.AddCommand(InitFilesCmd)
}

// RunNodeCmd starts the node and blocks until it is signalled to stop.
var RunNodeCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"node", "start"},
	Short:   "Run the MiniChain node",
	RunE:    runNode,
}

func runNode(cmd *cobra.Command, args []string) error {
	if err := ensureRoot(config.Base.RootDir); err != nil {
		return err
	}

	if peersFile != "" {
		peers, err := ParsePeersFile(peersFile)
		if err != nil {
			return err
		}
		config.P2P.Peers = filterSelf(peers, config.Base.SelfID)
	}

	n, err := nm.NewNode(config, logger)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	logger.Info("started node", "self", n.SelfID(), "validators", n.Validators())

	tmos.TrapSignal(logger, func() {
		if n.IsRunning() {
			n.Stop()
		}
	})

	// Run forever.
	select {}
}

// filterSelf drops our own entry from the peer list; the file usually lists
// every validator including this one.
func filterSelf(peers []string, selfID string) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if selfID != "" && types.MatchesID(selfID, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}
