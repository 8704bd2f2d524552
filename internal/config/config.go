package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models plenario.yml: the standing rules of the chamber that the
// conduct engine consults (session calendar, voting policies per matter
// kind, webhook subscribers).
type Config struct {
	Chamber struct {
		Name   string `yaml:"name"`
		Period string `yaml:"period"`
	} `yaml:"chamber"`
	Sessions struct {
		Weekday      string `yaml:"weekday"`
		StartTime    string `yaml:"start_time"`
		Location     string `yaml:"location"`
		RecessMonths []int  `yaml:"recess_months"`
	} `yaml:"sessions"`
	Voting struct {
		Default VotingPolicy            `yaml:"default"`
		Kinds   map[string]VotingPolicy `yaml:"kinds"`
	} `yaml:"voting"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// VotingPolicy is the decision rule for one document kind.
type VotingPolicy struct {
	Majority           string `yaml:"majority" json:"majority"`
	QualifiedThreshold string `yaml:"qualified_threshold,omitempty" json:"qualified_threshold,omitempty"`
	CastingVote        bool   `yaml:"casting_vote" json:"casting_vote"`
	Secret             bool   `yaml:"secret" json:"secret"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with plenario config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets the required structure.
func (c *Config) Validate() error {
	if c.Chamber.Period == "" {
		return fmt.Errorf("config.chamber.period is required")
	}
	if c.Sessions.Weekday != "" {
		if _, ok := weekdays[strings.ToLower(c.Sessions.Weekday)]; !ok {
			return fmt.Errorf("config.sessions.weekday %q is not a weekday name", c.Sessions.Weekday)
		}
	}
	if c.Sessions.StartTime != "" {
		if _, _, err := parseClock(c.Sessions.StartTime); err != nil {
			return fmt.Errorf("config.sessions.start_time: %w", err)
		}
	}
	for _, m := range c.Sessions.RecessMonths {
		if m < 1 || m > 12 {
			return fmt.Errorf("config.sessions.recess_months contains invalid month %d", m)
		}
	}
	if err := c.Voting.Default.validate("voting.default"); err != nil {
		return err
	}
	for kind, p := range c.Voting.Kinds {
		if kind == "" {
			return fmt.Errorf("config.voting.kinds contains empty kind")
		}
		if err := p.validate("voting.kinds." + kind); err != nil {
			return err
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

func (p VotingPolicy) validate(path string) error {
	switch p.Majority {
	case "", "simple":
	case "qualified":
		num, den, err := p.Threshold()
		if err != nil {
			return fmt.Errorf("config.%s.qualified_threshold: %w", path, err)
		}
		if num*2 <= den {
			return fmt.Errorf("config.%s.qualified_threshold %d/%d is not above half", path, num, den)
		}
	default:
		return fmt.Errorf("config.%s.majority must be simple or qualified", path)
	}
	return nil
}

// PolicyFor returns the voting policy for a document kind, falling back to
// the default policy for unset fields.
func (c *Config) PolicyFor(kind string) VotingPolicy {
	p, ok := c.Voting.Kinds[kind]
	if !ok {
		return c.normalized(c.Voting.Default)
	}
	if p.Majority == "" {
		p.Majority = c.Voting.Default.Majority
	}
	return c.normalized(p)
}

func (c *Config) normalized(p VotingPolicy) VotingPolicy {
	if p.Majority == "" {
		p.Majority = "simple"
	}
	return p
}

// Threshold parses the qualified threshold fraction, e.g. "2/3".
func (p VotingPolicy) Threshold() (num, den int, err error) {
	s := strings.TrimSpace(p.QualifiedThreshold)
	if s == "" {
		return 0, 0, fmt.Errorf("fraction required for qualified majority")
	}
	if _, err := fmt.Sscanf(s, "%d/%d", &num, &den); err != nil {
		return 0, 0, fmt.Errorf("invalid fraction %q", s)
	}
	if num <= 0 || den <= 0 {
		return 0, 0, fmt.Errorf("invalid fraction %q", s)
	}
	return num, den, nil
}

// SessionWeekday returns the configured weekday for ordinary sessions.
func (c *Config) SessionWeekday() time.Weekday {
	if wd, ok := weekdays[strings.ToLower(c.Sessions.Weekday)]; ok {
		return wd
	}
	return time.Monday
}

// SessionClock returns the configured start hour and minute.
func (c *Config) SessionClock() (hour, minute int) {
	h, m, err := parseClock(c.Sessions.StartTime)
	if err != nil {
		return 19, 0
	}
	return h, m
}

// IsRecessMonth reports whether the month is a full legislative recess.
func (c *Config) IsRecessMonth(month time.Month) bool {
	for _, m := range c.Sessions.RecessMonths {
		if time.Month(m) == month {
			return true
		}
	}
	return false
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	return hour, minute, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "plenario.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(periodID string) string {
	return fmt.Sprintf(defaultTemplate, periodID)
}

// Default returns the default Config struct for a period.
func Default(periodID string) *Config {
	var cfg Config
	cfg.Chamber.Period = periodID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, periodID))).Decode(&cfg)
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

const defaultTemplate = `chamber:
  name: Camara Municipal
  period: %s

sessions:
  weekday: monday
  start_time: "19:00"
  location: Plenario Principal
  recess_months: [1, 7]

voting:
  default:
    majority: simple
    casting_vote: true
    secret: false

  kinds:
    veto:
      majority: qualified
      qualified_threshold: 2/3
      casting_vote: false

    parecer:
      majority: simple
      casting_vote: true
`
