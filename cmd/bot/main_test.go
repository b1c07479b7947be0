package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrame = `[1,"Simms","player_one","pw",{"info":{"ipAddress":"x","userId":"1","username":"player_one","timestamp":1,"refreshToken":"r"},"signature":"s"}]`

const testRules = `{
  "gameSettings": {"BET_AMOUNT": 1000, "JACKPOT_THRESHOLD": 0, "BET_STOP": 0, "IS_MARTINGALE": false, "RATE_MARTINGALE": 2, "ZOMBIE": false},
  "bettingRules": [
    {"id": 1, "name": "A", "priority": 1, "active": true, "pattern": ["TAI", "TAI"], "betOn": "XIU"}
  ]
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--env="}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAccountCommands(t *testing.T) {
	t.Setenv("GOBET_DATA_DIR", t.TempDir())

	out, err := execute(t, "account", "import", "--name", "main", testFrame)
	require.NoError(t, err)
	assert.Contains(t, out, "已导入账户 main")

	_, err = execute(t, "account", "import", testFrame)
	assert.Error(t, err, "duplicate username")

	out, err = execute(t, "account", "select", "player_one")
	require.NoError(t, err)
	assert.Contains(t, out, "已选择账户 main")

	out, err = execute(t, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "player_one")
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "ok")

	out, err = execute(t, "account", "delete", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "已删除账户 main")

	out, err = execute(t, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "没有账户")
}

func TestRulesCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o644))
	t.Setenv("GOBET_RULES_FILE", path)

	_, err := execute(t, "rules", "set", "bet_amount", "2500")
	require.NoError(t, err)
	_, err = execute(t, "rules", "stake", "1", "4000")
	require.NoError(t, err)

	out, err := execute(t, "rules", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "基础注额=2.500 đ")
	assert.Contains(t, out, "TAI,TAI")
	assert.Contains(t, out, "4.000 đ")

	_, err = execute(t, "rules", "set", "BET_AMOUNT", "-1")
	assert.Error(t, err, "invalid values never reach the file")
	_, err = execute(t, "rules", "stake", "9", "100")
	assert.Error(t, err)
}

func TestRulesCheck_RejectsUnknownTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "gameSettings": {"BET_AMOUNT": 1000},
  "bettingRules": [{"id": "typo", "name": "A", "priority": 1, "active": true, "pattern": [], "betOn": "TIA"}]
}`), 0o644))
	t.Setenv("GOBET_RULES_FILE", path)

	_, err := execute(t, "rules", "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIA")
	assert.Contains(t, err.Error(), "TAI, XIU")
}
