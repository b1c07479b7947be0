package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "taixiu", cfg.Game)
	assert.Equal(t, "rule.json", cfg.RulesFile)
	assert.Equal(t, "file", cfg.AccountStore)
	assert.Nil(t, cfg.Proxy)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.Delay())
	assert.Equal(t, 5*time.Minute, cfg.Reconnect.ZombieDelay())
	assert.Equal(t, 5*time.Second, cfg.Reconnect.Heartbeat())
	assert.False(t, cfg.Telegram.Enabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
game: shakedisk
rules_file: rules/rule.yaml
proxy:
  host: 127.0.0.1
  port: 8080
reconnect:
  max_attempts: 3
telegram:
  bot_token: file-token
  chat_id: "42"
wallet_alert:
  schedule: "@every 10m"
  threshold: 50000
`), 0o644))

	t.Setenv("GOBET_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("GOBET_RECONNECT_DELAY_SECONDS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shakedisk", cfg.Game)
	assert.Equal(t, filepath.Join(dir, "rules", "rule.yaml"), cfg.RulesFile)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Proxy.URL())
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 7*time.Second, cfg.Reconnect.Delay())
	assert.Equal(t, "env-token", cfg.Telegram.BotToken, "env wins over the file")
	assert.Equal(t, "42", cfg.Telegram.ChatID)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, int64(50000), cfg.WalletAlert.Threshold)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown store":     {"GOBET_ACCOUNT_STORE": "s3"},
		"vault without key": {"GOBET_ACCOUNT_STORE": "vault"},
		"bad attempts":      {"GOBET_RECONNECT_MAX_ATTEMPTS": "-1"},
		"alert no limit":    {"GOBET_WALLET_ALERT_SCHEDULE": "@every 1m"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("game = 1"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
