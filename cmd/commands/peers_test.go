package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePeersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peers.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParsePeersFile(t *testing.T) {
	path := writePeersFile(t, `
# validators
node1:48000
  node2.cluster.local:48001   # fully qualified

node3:48002
`)

	peers, err := ParsePeersFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"node1:48000", "node2.cluster.local:48001", "node3:48002"}, peers)
}

func TestParsePeersFileRejectsBadEntry(t *testing.T) {
	path := writePeersFile(t, "node1:48000\nnot-an-address\n")

	_, err := ParsePeersFile(path)
	assert.Error(t, err)
}

func TestFilterSelf(t *testing.T) {
	peers := []string{"node1:48000", "node2:48001"}

	assert.Equal(t, []string{"node2:48001"}, filterSelf(peers, "node1.cluster.local:48000"))
	assert.Equal(t, peers, filterSelf(peers, "node9:48000"))
}
