package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/Asadullah378/MiniChain/types"
)

// ParsePeersFile reads the plain-text peer list: one "host:port" per line,
// blank lines and '#' comments ignored. Entries are normalized here so the
// core never re-parses them.
func ParsePeersFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var peers []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		entry := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(entry, '#'); i >= 0 {
			entry = strings.TrimSpace(entry[:i])
		}
		if entry == "" {
			continue
		}
		if _, err := types.CanonicalID(entry); err != nil {
			return nil, fmt.Errorf("peers file %s line %d: %w", path, line, err)
		}
		peers = append(peers, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return peers, nil
}
