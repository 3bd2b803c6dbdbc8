package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Backend struct {
	HostPort     string        `yaml:"hostPort"`
	ClientDomain string        `yaml:"clientDomain,omitempty"`
	ApiKey       string        `yaml:"apiKey"`
	SkipVerify   bool          `yaml:"skipVerify"`
	Timeout      time.Duration `yaml:"timeout"`
}

type Cache struct {
	FrontTTL time.Duration `yaml:"front-ttl"`
}

type Sync struct {
	// ConflictTables is the allow-list of tables with meaningful
	// last-modified semantics; updates to other tables replay without a
	// conflict check.
	ConflictTables []string `yaml:"conflictTables"`

	// UpdatedAtField is the server column carrying the row's last-modified
	// timestamp.
	UpdatedAtField string `yaml:"updatedAtField"`

	// BootDelay is how long after startup the one-shot boot sync fires,
	// catching a queue left over from a previous offline session.
	BootDelay time.Duration `yaml:"bootDelay"`

	// RefreshLimit / RefreshBurst bound the background cache refetches
	// fired by cached reads, in refreshes per second.
	RefreshLimit float64 `yaml:"refreshLimit"`
	RefreshBurst int     `yaml:"refreshBurst"`
}

type Client struct {
	DataDir string  `yaml:"dataDir"`
	Backend Backend `yaml:"backend"`
	Cache   Cache   `yaml:"cache"`
	Sync    Sync    `yaml:"sync"`
}

func (c *Client) Validate() error {
	if c.DataDir == "" {
		return errors.New("dataDir must be set")
	}
	if c.Backend.HostPort == "" {
		return errors.New("backend.hostPort must be set")
	}
	if c.Backend.ApiKey == "" {
		return errors.New("backend.apiKey must be set")
	}
	return nil
}

func Load(path string) (*Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Client
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
