// Package rules loads the betting rule document and keeps a live, atomically
// replaced snapshot of it.
package rules

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/betbot/dicebot/internal/domain"
)

// Document 规则文件的磁盘格式（兼容旧版 rule.json 的键名）
type Document struct {
	GameSettings Settings `json:"gameSettings" yaml:"gameSettings"`
	GameRules    []string `json:"gameRules,omitempty" yaml:"gameRules,omitempty"`
	BettingRules []Rule   `json:"bettingRules" yaml:"bettingRules"`
}

// Settings 全局下注参数
type Settings struct {
	BetAmount        domain.Money `json:"BET_AMOUNT" yaml:"BET_AMOUNT"`
	JackpotThreshold domain.Money `json:"JACKPOT_THRESHOLD" yaml:"JACKPOT_THRESHOLD"`
	BetStop          domain.Money `json:"BET_STOP" yaml:"BET_STOP"`
	IsMartingale     bool         `json:"IS_MARTINGALE" yaml:"IS_MARTINGALE"`
	RateMartingale   float64      `json:"RATE_MARTINGALE" yaml:"RATE_MARTINGALE"`
	Zombie           bool         `json:"ZOMBIE" yaml:"ZOMBIE"`
	MaxStake         domain.Money `json:"MAX_STAKE,omitempty" yaml:"MAX_STAKE,omitempty"` // 0 = 不封顶
}

// RuleID accepts numeric or string ids.
type RuleID string

func (id *RuleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*id = RuleID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	*id = RuleID(string(b))
	return nil
}

func (id *RuleID) UnmarshalYAML(node *yaml.Node) error {
	*id = RuleID(node.Value)
	return nil
}

// Rule pattern -> action 规则。Pattern 按时间顺序书写（旧 -> 新），空 pattern 为兜底规则。
// Channel 指定与哪条历史通道比较；为空时使用玩法的默认通道。
type Rule struct {
	ID          RuleID           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int              `json:"priority" yaml:"priority"`
	Active      bool             `json:"active" yaml:"active"`
	Channel     string           `json:"channel,omitempty" yaml:"channel,omitempty"`
	Pattern     []string         `json:"pattern" yaml:"pattern"`
	BetOn       domain.BetTarget `json:"betOn" yaml:"betOn"`
	BetAmount   *domain.Money    `json:"betAmount,omitempty" yaml:"betAmount,omitempty"`
}

// Config 不可变的规则快照
type Config struct {
	BaseStake            domain.Money
	JackpotThreshold     domain.Money
	BalanceStopThreshold domain.Money
	MartingaleEnabled    bool
	MartingaleMultiplier float64
	ZombieModeEnabled    bool
	MaxStake             domain.Money
	Rules                []Rule
	Notes                []string

	Source   string
	LoadedAt time.Time
}

// ActiveRules returns the active rules sorted by ascending priority.
// Equal priorities keep document order.
func (c *Config) ActiveRules() []Rule {
	out := make([]Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Document rebuilds the on-disk form of the snapshot.
func (c *Config) Document() *Document {
	doc := &Document{
		GameSettings: Settings{
			BetAmount:        c.BaseStake,
			JackpotThreshold: c.JackpotThreshold,
			BetStop:          c.BalanceStopThreshold,
			IsMartingale:     c.MartingaleEnabled,
			RateMartingale:   c.MartingaleMultiplier,
			Zombie:           c.ZombieModeEnabled,
			MaxStake:         c.MaxStake,
		},
		GameRules:    append([]string(nil), c.Notes...),
		BettingRules: append([]Rule(nil), c.Rules...),
	}
	return doc
}

// ConfigError 规则文件无法解析或校验失败
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rule document %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Parse decodes a rule document; the format follows the file extension
// (.yaml/.yml, everything else is JSON).
func Parse(path string, data []byte) (*Document, error) {
	var doc Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	return &doc, nil
}

// Encode serializes the document in the format implied by path.
func Encode(path string, doc *Document) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(doc)
	default:
		return json.MarshalIndent(doc, "", "  ")
	}
}

// Validate checks the document and converts it into a snapshot.
func (d *Document) Validate() (*Config, error) {
	s := d.GameSettings
	if s.BetAmount <= 0 {
		return nil, fmt.Errorf("BET_AMOUNT must be > 0, got %d", s.BetAmount)
	}
	if s.JackpotThreshold < 0 {
		return nil, fmt.Errorf("JACKPOT_THRESHOLD must be >= 0, got %d", s.JackpotThreshold)
	}
	if s.BetStop < 0 {
		return nil, fmt.Errorf("BET_STOP must be >= 0, got %d", s.BetStop)
	}
	if s.IsMartingale && s.RateMartingale <= 1 {
		return nil, fmt.Errorf("RATE_MARTINGALE must be > 1 when IS_MARTINGALE is on, got %v", s.RateMartingale)
	}
	if s.MaxStake < 0 {
		return nil, fmt.Errorf("MAX_STAKE must be >= 0, got %d", s.MaxStake)
	}

	seen := make(map[RuleID]bool, len(d.BettingRules))
	for i, r := range d.BettingRules {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if r.ID != "" {
			if seen[r.ID] {
				return nil, fmt.Errorf("rule %s: duplicate id %s", label, r.ID)
			}
			seen[r.ID] = true
		}
		if !r.Active {
			continue
		}
		if r.BetOn == "" {
			return nil, fmt.Errorf("rule %s: betOn is required", label)
		}
		if r.BetAmount != nil && *r.BetAmount <= 0 {
			return nil, fmt.Errorf("rule %s: betAmount must be > 0", label)
		}
		for j, p := range r.Pattern {
			if strings.TrimSpace(p) == "" {
				return nil, fmt.Errorf("rule %s: pattern[%d] is empty", label, j)
			}
		}
	}

	return &Config{
		BaseStake:            s.BetAmount,
		JackpotThreshold:     s.JackpotThreshold,
		BalanceStopThreshold: s.BetStop,
		MartingaleEnabled:    s.IsMartingale,
		MartingaleMultiplier: s.RateMartingale,
		ZombieModeEnabled:    s.Zombie,
		MaxStake:             s.MaxStake,
		Rules:                append([]Rule(nil), d.BettingRules...),
		Notes:                append([]string(nil), d.GameRules...),
	}, nil
}

// SetGameSetting updates one gameSettings key by its document name.
func (d *Document) SetGameSetting(key, value string) error {
	parseMoney := func() (domain.Money, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		return domain.Money(n), err
	}
	var err error
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case "BET_AMOUNT":
		d.GameSettings.BetAmount, err = parseMoney()
	case "JACKPOT_THRESHOLD":
		d.GameSettings.JackpotThreshold, err = parseMoney()
	case "BET_STOP":
		d.GameSettings.BetStop, err = parseMoney()
	case "MAX_STAKE":
		d.GameSettings.MaxStake, err = parseMoney()
	case "IS_MARTINGALE":
		d.GameSettings.IsMartingale, err = strconv.ParseBool(value)
	case "ZOMBIE":
		d.GameSettings.Zombie, err = strconv.ParseBool(value)
	case "RATE_MARTINGALE":
		d.GameSettings.RateMartingale, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
	default:
		return fmt.Errorf("unknown game setting %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// SetRuleStake sets betAmount of the rule with the given id.
func (d *Document) SetRuleStake(id RuleID, amount domain.Money) error {
	for i := range d.BettingRules {
		if d.BettingRules[i].ID == id {
			if amount <= 0 {
				// 0 表示改回全局注额
				d.BettingRules[i].BetAmount = nil
				return nil
			}
			a := amount
			d.BettingRules[i].BetAmount = &a
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", id)
}
