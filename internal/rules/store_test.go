package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dicebot/internal/domain"
)

const sampleJSON = `{
  "gameSettings": {
    "BET_AMOUNT": 10000,
    "JACKPOT_THRESHOLD": 500000,
    "BET_STOP": 1000,
    "IS_MARTINGALE": true,
    "RATE_MARTINGALE": 2,
    "ZOMBIE": false
  },
  "gameRules": ["Tong 3 xuc xac > 10 la TAI"],
  "bettingRules": [
    {"id": 1, "name": "bet", "priority": 2, "active": true, "pattern": ["TAI", "TAI"], "betOn": "XIU", "betAmount": 20000},
    {"id": 2, "name": "fallback", "priority": 9, "active": true, "pattern": [], "betOn": "TAI"},
    {"id": 3, "name": "off", "priority": 1, "active": false, "pattern": ["XIU"], "betOn": "TAI"}
  ]
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStore_LoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	writeFile(t, path, sampleJSON)

	s := NewStore(path)
	cfg, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, domain.Money(10000), cfg.BaseStake)
	assert.Equal(t, domain.Money(500000), cfg.JackpotThreshold)
	assert.Equal(t, domain.Money(1000), cfg.BalanceStopThreshold)
	assert.True(t, cfg.MartingaleEnabled)
	assert.Equal(t, 2.0, cfg.MartingaleMultiplier)
	require.Len(t, cfg.Rules, 3)
	assert.Equal(t, RuleID("1"), cfg.Rules[0].ID)
	require.NotNil(t, cfg.Rules[0].BetAmount)
	assert.Equal(t, domain.Money(20000), *cfg.Rules[0].BetAmount)
	assert.Same(t, cfg, s.Current())

	active := cfg.ActiveRules()
	require.Len(t, active, 2)
	assert.Equal(t, "bet", active[0].Name)
	assert.Equal(t, "fallback", active[1].Name)
}

func TestStore_LoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.yaml")
	writeFile(t, path, `
gameSettings:
  BET_AMOUNT: 5000
  IS_MARTINGALE: false
bettingRules:
  - id: a
    name: red streak
    priority: 1
    active: true
    channel: color
    pattern: [RED_4, RED_4]
    betOn: 4
`)
	cfg, err := NewStore(path).Load()
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "color", cfg.Rules[0].Channel)
	assert.Equal(t, domain.BetTarget("4"), cfg.Rules[0].BetOn)
}

func TestStore_InvalidKeepsPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	writeFile(t, path, sampleJSON)

	s := NewStore(path)
	first, err := s.Load()
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"gameSettings": `},
		{"zero base stake", `{"gameSettings": {"BET_AMOUNT": 0}, "bettingRules": []}`},
		{"martingale rate too low", `{"gameSettings": {"BET_AMOUNT": 1, "IS_MARTINGALE": true, "RATE_MARTINGALE": 1}}`},
		{"active rule without target", `{"gameSettings": {"BET_AMOUNT": 1}, "bettingRules": [{"name": "x", "active": true, "pattern": []}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFile(t, path, tt.content)
			_, err := s.Load()
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Same(t, first, s.Current())
		})
	}
}

func TestStore_ValidatorHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	writeFile(t, path, sampleJSON)

	s := NewStore(path, WithValidator(func(c *Config) error {
		return errors.New("unsupported target")
	}))
	_, err := s.Load()
	require.Error(t, err)
	assert.Nil(t, s.Current())
}

func TestStore_UpdateRunsValidators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	writeFile(t, path, sampleJSON)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	s := NewStore(path, WithValidator(func(c *Config) error {
		if c.BaseStake > 50000 {
			return errors.New("stake too large for this table")
		}
		return nil
	}))
	err = s.Update(func(d *Document) error { return d.SetGameSetting("BET_AMOUNT", "90000") })
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "a rejected update leaves the file untouched")

	require.NoError(t, s.Update(func(d *Document) error { return d.SetGameSetting("BET_AMOUNT", "20000") }))
}

func TestStore_WatchDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rule.json")
	writeFile(t, path, sampleJSON)

	s := NewStore(path, WithDebounce(200*time.Millisecond))
	_, err := s.Load()
	require.NoError(t, err)

	var calls atomic.Int32
	var last atomic.Pointer[Config]
	unsubscribe := s.OnChange(func(prev, next *Config) {
		calls.Add(1)
		last.Store(next)
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Update(func(d *Document) error {
			return d.SetGameSetting("BET_AMOUNT", "15000")
		}))
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a burst of writes should reload once")
	assert.Equal(t, domain.Money(15000), last.Load().BaseStake)
}

func TestDocument_Setters(t *testing.T) {
	doc, err := Parse("rule.json", []byte(sampleJSON))
	require.NoError(t, err)

	require.NoError(t, doc.SetGameSetting("ZOMBIE", "true"))
	require.NoError(t, doc.SetGameSetting("rate_martingale", "2.5"))
	require.Error(t, doc.SetGameSetting("UNKNOWN", "1"))
	require.Error(t, doc.SetGameSetting("BET_AMOUNT", "abc"))

	require.NoError(t, doc.SetRuleStake("2", 7000))
	require.Error(t, doc.SetRuleStake("42", 7000))

	cfg, err := doc.Validate()
	require.NoError(t, err)
	assert.True(t, cfg.ZombieModeEnabled)
	assert.Equal(t, 2.5, cfg.MartingaleMultiplier)
	assert.Equal(t, domain.Money(7000), *cfg.Rules[1].BetAmount)

	require.NoError(t, doc.SetRuleStake("2", 0))
	assert.Nil(t, doc.BettingRules[1].BetAmount)

	// round trip through the on-disk form
	again, err := cfg.Document().Validate()
	require.NoError(t, err)
	assert.Equal(t, cfg.Rules, again.Rules)
}
