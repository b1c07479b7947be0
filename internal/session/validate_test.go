package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dicebot/internal/protocol"
	"github.com/betbot/dicebot/internal/rules"
)

func TestRuleValidator(t *testing.T) {
	variants := protocol.Builtin()
	tests := []struct {
		name    string
		variant string
		rules   string
		wantErr string
	}{
		{
			name:    "valid",
			variant: "taixiu",
			rules:   `[{"id": 1, "name": "a", "priority": 1, "active": true, "pattern": ["TAI"], "betOn": "XIU"}]`,
		},
		{
			name:    "numeric target id",
			variant: "taixiu",
			rules:   `[{"id": 1, "name": "a", "priority": 1, "active": true, "pattern": [], "betOn": "1"}]`,
		},
		{
			name:    "misspelled target",
			variant: "taixiu",
			rules: `[{"id": "typo", "name": "a", "priority": 1, "active": true, "pattern": [], "betOn": "TIA"},
			         {"id": "ok", "name": "b", "priority": 2, "active": true, "pattern": [], "betOn": "XIU"}]`,
			wantErr: "rule typo",
		},
		{
			name:    "inactive rules are not checked",
			variant: "taixiu",
			rules:   `[{"id": 1, "name": "a", "priority": 1, "active": false, "pattern": [], "betOn": "TIA"}]`,
		},
		{
			name:    "unknown channel",
			variant: "shakedisk",
			rules:   `[{"id": 7, "name": "a", "priority": 1, "active": true, "channel": "colour", "pattern": [], "betOn": "CHAN"}]`,
			wantErr: "no channel",
		},
		{
			name:    "known channel",
			variant: "shakedisk",
			rules:   `[{"id": 7, "name": "a", "priority": 1, "active": true, "channel": "parity", "pattern": [], "betOn": "CHAN"}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rule.json")
			doc := `{"gameSettings": {"BET_AMOUNT": 1000}, "bettingRules": ` + tt.rules + `}`
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

			store := rules.NewStore(path, rules.WithValidator(RuleValidator(variants[tt.variant])))
			_, err := store.Load()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, store.Current(), "a rejected document never becomes the snapshot")
		})
	}
}
