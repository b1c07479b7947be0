package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/internal/history"
	"github.com/betbot/dicebot/internal/rules"
	"github.com/betbot/dicebot/internal/stake"
)

func mainHistory(labels ...string) *history.Tracker {
	h := history.NewTracker(history.DefaultWindow)
	for _, l := range labels {
		h.Append(domain.Outcome{Labels: map[string]string{"main": l}})
	}
	return h
}

func money(v domain.Money) *domain.Money { return &v }

func TestSelectAction_FallbackOnEmptyHistory(t *testing.T) {
	cfg := &rules.Config{
		BaseStake:            10000,
		MartingaleEnabled:    true,
		MartingaleMultiplier: 2,
		Rules: []rules.Rule{
			{ID: "A", Name: "A", Priority: 1, Active: true, BetOn: "TAI"},
		},
	}
	e := New("main", stake.NewController(cfg.BaseStake))

	sel, ok := e.SelectAction(mainHistory(), cfg)
	require.True(t, ok)
	assert.Equal(t, rules.RuleID("A"), sel.Rule.ID)
	assert.Equal(t, domain.Money(10000), sel.Stake)
	assert.Equal(t, domain.BetTarget("TAI"), sel.Target)
	assert.Equal(t, "main", sel.Channel)
}

func TestSelectAction_PatternIsChronologicalSuffix(t *testing.T) {
	cfg := &rules.Config{
		BaseStake: 1000,
		Rules: []rules.Rule{
			{ID: "1", Priority: 1, Active: true, Pattern: []string{"TAI", "TAI", "XIU"}, BetOn: "XIU"},
		},
	}
	e := New("main", nil)

	tests := []struct {
		name    string
		history *history.Tracker
		want    bool
	}{
		{"exact", mainHistory("TAI", "TAI", "XIU"), true},
		{"suffix of longer window", mainHistory("XIU", "XIU", "TAI", "TAI", "XIU"), true},
		{"reversed order", mainHistory("XIU", "TAI", "TAI"), false},
		{"too short", mainHistory("TAI", "XIU"), false},
		{"case insensitive", mainHistory("tai", "Tai", "xiu"), true},
		{"empty", mainHistory(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := e.SelectAction(tt.history, cfg)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSelectAction_PriorityAndActive(t *testing.T) {
	cfg := &rules.Config{
		BaseStake: 1000,
		Rules: []rules.Rule{
			{ID: "low", Priority: 5, Active: true, BetOn: "TAI"},
			{ID: "off", Priority: 0, Active: false, BetOn: "XIU"},
			{ID: "high", Priority: 1, Active: true, Pattern: []string{"XIU"}, BetOn: "XIU"},
			{ID: "tie", Priority: 5, Active: true, BetOn: "XIU"},
		},
	}
	e := New("main", nil)

	sel, ok := e.SelectAction(mainHistory("XIU"), cfg)
	require.True(t, ok)
	assert.Equal(t, rules.RuleID("high"), sel.Rule.ID)

	sel, ok = e.SelectAction(mainHistory("TAI"), cfg)
	require.True(t, ok)
	assert.Equal(t, rules.RuleID("low"), sel.Rule.ID, "document order breaks priority ties")
}

func TestSelectAction_NoMatch(t *testing.T) {
	cfg := &rules.Config{
		BaseStake: 1000,
		Rules: []rules.Rule{
			{ID: "1", Priority: 1, Active: true, Pattern: []string{"TAI"}, BetOn: "XIU"},
		},
	}
	_, ok := New("main", nil).SelectAction(mainHistory("XIU"), cfg)
	assert.False(t, ok)

	_, ok = New("main", nil).SelectAction(mainHistory(), nil)
	assert.False(t, ok)
}

func TestSelectAction_StakeSource(t *testing.T) {
	rule := rules.Rule{ID: "1", Priority: 1, Active: true, BetOn: "TAI", BetAmount: money(2500)}
	ctrl := stake.NewController(1000)
	ctrl.RecordWager(domain.Wager{Amount: 1000})
	ctrl.OnRoundResult(false, stake.Policy{Martingale: true, Multiplier: 2})

	tests := []struct {
		name string
		cfg  *rules.Config
		rule rules.Rule
		want domain.Money
	}{
		{"martingale uses controller", &rules.Config{BaseStake: 1000, MartingaleEnabled: true, MartingaleMultiplier: 2}, rule, 2000},
		{"rule stake", &rules.Config{BaseStake: 1000}, rule, 2500},
		{"base stake", &rules.Config{BaseStake: 1000}, rules.Rule{ID: "2", Active: true, BetOn: "TAI"}, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Rules = []rules.Rule{tt.rule}
			sel, ok := New("main", ctrl).SelectAction(mainHistory(), tt.cfg)
			require.True(t, ok)
			assert.Equal(t, tt.want, sel.Stake)
		})
	}
}

func TestSelectAction_ExplicitChannel(t *testing.T) {
	h := history.NewTracker(history.DefaultWindow)
	h.Append(domain.Outcome{Labels: map[string]string{"color": "RED_4", "parity": "CHAN", "combined": "RED_4_CHAN"}})
	h.Append(domain.Outcome{Labels: map[string]string{"color": "MIXED", "parity": "CHAN", "combined": "MIXED_CHAN"}})

	cfg := &rules.Config{
		BaseStake: 1000,
		Rules: []rules.Rule{
			{ID: "color", Priority: 1, Active: true, Channel: "color", Pattern: []string{"RED_4", "RED_4"}, BetOn: "4"},
			{ID: "parity", Priority: 2, Active: true, Channel: "parity", Pattern: []string{"CHAN", "CHAN"}, BetOn: "3"},
		},
	}
	sel, ok := New("combined", nil).SelectAction(h, cfg)
	require.True(t, ok)
	assert.Equal(t, rules.RuleID("parity"), sel.Rule.ID)
	assert.Equal(t, "parity", sel.Channel)
}
