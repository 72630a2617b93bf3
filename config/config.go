package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	// Version is advertised in HELLO frames.
	Version = "0.1.0"

	defaultDataDir     = "data"
	defaultChainFile   = "chain.json"
	defaultNodeKeyFile = "node_key.json"
)

// Config is the full node configuration. The launcher fills it from flags and
// the config file; the core consumes it read-only.
type Config struct {
	Base      BaseConfig       `mapstructure:",squash"`
	P2P       *P2PConfig       `mapstructure:"p2p"`
	Mempool   *MempoolConfig   `mapstructure:"mempool"`
	Consensus *ConsensusConfig `mapstructure:"consensus"`
	Sync      *SyncConfig      `mapstructure:"sync"`
}

func DefaultConfig() *Config {
	return &Config{
		Base:      DefaultBaseConfig(),
		P2P:       DefaultP2PConfig(),
		Mempool:   DefaultMempoolConfig(),
		Consensus: DefaultConsensusConfig(),
		Sync:      DefaultSyncConfig(),
	}
}

// TestConfig returns a config tuned for tests: zero block interval, instant
// ticks, tiny timeouts.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Consensus.BlockInterval = 0
	cfg.Consensus.TickInterval = 10 * time.Millisecond
	cfg.Consensus.ProposalTimeout = 200 * time.Millisecond
	cfg.P2P.HeartbeatInterval = 50 * time.Millisecond
	cfg.P2P.ReconnectBaseWait = 20 * time.Millisecond
	cfg.P2P.ReconnectMaxWait = 100 * time.Millisecond
	return cfg
}

func (cfg *Config) ValidateBasic() error {
	if cfg.Base.SelfID == "" {
		return errors.New("node identity (self id) is required")
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("p2p: %w", err)
	}
	if err := cfg.Consensus.ValidateBasic(); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

//---------------------------------------------------------------------------

// BaseConfig holds identity and filesystem paths.
type BaseConfig struct {
	// RootDir is the node home; everything else is relative to it.
	RootDir string `mapstructure:"home"`

	// SelfID is this node's raw identity, "host:port" of its listen address
	// as the peers see it.
	SelfID string `mapstructure:"self_id"`

	// Moniker is a human-readable node name for logs.
	Moniker string `mapstructure:"moniker"`
}

func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		RootDir: ".minichain",
		Moniker: "anonymous",
	}
}

func (cfg BaseConfig) DataDir() string {
	return filepath.Join(cfg.RootDir, defaultDataDir)
}

// ChainFile is the canonical path of the persisted chain document.
func (cfg BaseConfig) ChainFile() string {
	return filepath.Join(cfg.DataDir(), defaultChainFile)
}

func (cfg BaseConfig) NodeKeyFile() string {
	return filepath.Join(cfg.RootDir, defaultNodeKeyFile)
}

//---------------------------------------------------------------------------

type P2PConfig struct {
	// ListenAddress is the local bind address, "host:port".
	ListenAddress string `mapstructure:"listen_address"`

	// Peers are the normalized "host:port" entries supplied by the launcher.
	// The core never re-parses the peers file.
	Peers []string `mapstructure:"peers"`

	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Reconnect backoff: base doubling up to max, ±20% jitter.
	ReconnectBaseWait time.Duration `mapstructure:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `mapstructure:"reconnect_max_wait"`

	// SendQueueCapacity bounds each peer's outbound queue.
	SendQueueCapacity int `mapstructure:"send_queue_capacity"`
}

func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		ListenAddress:     "0.0.0.0:48000",
		DialTimeout:       5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		SendQueueCapacity: 256,
	}
}

func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.ListenAddress == "" {
		return errors.New("listen_address is required")
	}
	if cfg.SendQueueCapacity <= 0 {
		return errors.New("send_queue_capacity must be positive")
	}
	if cfg.ReconnectBaseWait <= 0 || cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		return errors.New("bad reconnect backoff bounds")
	}
	return nil
}

//---------------------------------------------------------------------------

type MempoolConfig struct {
	// MaxSize caps the pending set; 0 means unbounded.
	MaxSize int `mapstructure:"max_size"`
}

func DefaultMempoolConfig() *MempoolConfig {
	return &MempoolConfig{
		MaxSize: 10000,
	}
}

//---------------------------------------------------------------------------

type ConsensusConfig struct {
	// BlockInterval is the minimum spacing between blocks.
	BlockInterval time.Duration `mapstructure:"block_interval"`

	// ProposalTimeout is how long the scheduled leader may stall before a
	// view change is signalled.
	ProposalTimeout time.Duration `mapstructure:"proposal_timeout"`

	// TickInterval is the cadence of the orchestrator's consensus tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// QuorumSize is the number of distinct acks needed to commit.
	// 0 selects simple majority of the validator set.
	QuorumSize int `mapstructure:"quorum_size"`

	// MaxTxsPerBlock caps proposal size.
	MaxTxsPerBlock int `mapstructure:"max_txs_per_block"`
}

func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		BlockInterval:   3 * time.Second,
		ProposalTimeout: 7 * time.Second,
		TickInterval:    1 * time.Second,
		MaxTxsPerBlock:  50,
	}
}

func (cfg *ConsensusConfig) ValidateBasic() error {
	if cfg.BlockInterval < 0 {
		return errors.New("block_interval must be non-negative")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	if cfg.QuorumSize < 0 {
		return errors.New("quorum_size must be non-negative")
	}
	if cfg.MaxTxsPerBlock <= 0 {
		return errors.New("max_txs_per_block must be positive")
	}
	return nil
}

//---------------------------------------------------------------------------

type SyncConfig struct {
	// BatchSize bounds how many blocks are requested or served per message.
	BatchSize int64 `mapstructure:"batch_size"`
}

func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		BatchSize: 100,
	}
}

func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	return nil
}
