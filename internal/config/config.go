package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models nicheperq.yml. One config per owner, stored in owner_configs
// and seeded from the default template on first use.
type Config struct {
	Owner struct {
		ID   string `yaml:"id"`
		Plan string `yaml:"plan"`
	} `yaml:"owner"`
	Statuses struct {
		// EarlyStage statuses are bumped to in_conversation on a reply.
		EarlyStage []string `yaml:"early_stage"`
		// Engaged statuses are eligible for the inactivity sweep.
		Engaged []string `yaml:"engaged"`
		// Reply is the status a replying early-stage lead moves to.
		Reply string `yaml:"reply"`
	} `yaml:"statuses"`
	Inactivity struct {
		ThresholdDays int `yaml:"threshold_days"`
		// NewLeadGraceDays keeps freshly created, never-contacted leads out
		// of the inactive_for_days trigger.
		NewLeadGraceDays int `yaml:"new_lead_grace_days"`
	} `yaml:"inactivity"`
	Batch struct {
		Enroll  int `yaml:"enroll"`
		Signals int `yaml:"signals"`
		Sweep   int `yaml:"sweep"`
		Tick    int `yaml:"tick"`
	} `yaml:"batch"`
	Sending struct {
		// AutoSendPlans lists owner plans allowed to dispatch without
		// manual approval; other plans keep drafts queued.
		AutoSendPlans  []string `yaml:"auto_send_plans"`
		GeneratorURL   string   `yaml:"generator_url"`
		DispatcherURL  string   `yaml:"dispatcher_url"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"sending"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with nicheperq config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Owner.ID == "" {
		return fmt.Errorf("config.owner.id is required")
	}
	if len(c.Statuses.EarlyStage) == 0 {
		return fmt.Errorf("config.statuses.early_stage is required")
	}
	if len(c.Statuses.Engaged) == 0 {
		return fmt.Errorf("config.statuses.engaged is required")
	}
	if c.Statuses.Reply == "" {
		return fmt.Errorf("config.statuses.reply is required")
	}
	if c.Inactivity.ThresholdDays <= 0 {
		return fmt.Errorf("config.inactivity.threshold_days must be positive")
	}
	if c.Inactivity.NewLeadGraceDays < 0 {
		return fmt.Errorf("config.inactivity.new_lead_grace_days must not be negative")
	}
	for name, v := range map[string]int{
		"batch.enroll":  c.Batch.Enroll,
		"batch.signals": c.Batch.Signals,
		"batch.sweep":   c.Batch.Sweep,
		"batch.tick":    c.Batch.Tick,
	} {
		if v <= 0 {
			return fmt.Errorf("config.%s must be positive", name)
		}
	}
	if c.Sending.TimeoutSeconds < 0 {
		return fmt.Errorf("config.sending.timeout_seconds must not be negative")
	}
	return nil
}

// EarlyStage reports whether status is in the early-stage set.
func (c *Config) EarlyStage(status string) bool {
	return contains(c.Statuses.EarlyStage, status)
}

// Engaged reports whether status is eligible for the inactivity sweep.
func (c *Config) Engaged(status string) bool {
	return contains(c.Statuses.Engaged, status)
}

// AutoSendAllowed reports whether the owner plan may dispatch automatically.
func (c *Config) AutoSendAllowed(plan string) bool {
	return contains(c.Sending.AutoSendPlans, plan)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "nicheperq.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(ownerID string) string {
	return fmt.Sprintf(defaultTemplate, ownerID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an owner.
func Default(ownerID string) *Config {
	var cfg Config
	cfg.Owner.ID = ownerID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, ownerID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `owner:
  id: %s
  plan: free

statuses:
  early_stage: [new, contacted, attempted]
  engaged: [contacted, attempted, qualified, in_conversation]
  reply: in_conversation

inactivity:
  threshold_days: 7
  new_lead_grace_days: 3

batch:
  enroll: 50
  signals: 200
  sweep: 50
  tick: 100

sending:
  auto_send_plans: [pro]
  generator_url: ""
  dispatcher_url: ""
  timeout_seconds: 5
`
