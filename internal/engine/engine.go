// Package engine picks the wager for a round from the active rule set and
// the recent outcome history.
package engine

import (
	"strings"

	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/internal/rules"
)

// History 最近结果的只读视图（history.Tracker 实现）
type History interface {
	Recent(k int) []domain.Outcome
}

// StakeSource 倍投时的当前注额（stake.Controller 实现）
type StakeSource interface {
	Current() domain.Money
}

// Selection 引擎选出的动作
type Selection struct {
	Rule    rules.Rule
	Channel string
	Target  domain.BetTarget
	Stake   domain.Money
}

// Engine 规则引擎。无内部状态，可并发使用。
type Engine struct {
	defaultChannel string
	stakes         StakeSource
}

// New builds an engine. defaultChannel is used for rules without an explicit channel.
func New(defaultChannel string, stakes StakeSource) *Engine {
	return &Engine{defaultChannel: defaultChannel, stakes: stakes}
}

// SelectAction evaluates active rules in ascending priority and returns the
// first match. Patterns are written oldest -> newest and must equal the tail
// of the history; an empty pattern always matches.
func (e *Engine) SelectAction(h History, cfg *rules.Config) (Selection, bool) {
	if cfg == nil {
		return Selection{}, false
	}
	for _, r := range cfg.ActiveRules() {
		channel := r.Channel
		if channel == "" {
			channel = e.defaultChannel
		}
		if !matches(h, channel, r.Pattern) {
			continue
		}
		return Selection{
			Rule:    r,
			Channel: channel,
			Target:  r.BetOn,
			Stake:   e.stakeFor(r, cfg),
		}, true
	}
	return Selection{}, false
}

func matches(h History, channel string, pattern []string) bool {
	if len(pattern) == 0 {
		return true
	}
	recent := h.Recent(len(pattern))
	if len(recent) < len(pattern) {
		return false
	}
	for i, o := range recent {
		if !strings.EqualFold(o.Label(channel), pattern[len(pattern)-1-i]) {
			return false
		}
	}
	return true
}

func (e *Engine) stakeFor(r rules.Rule, cfg *rules.Config) domain.Money {
	switch {
	case cfg.MartingaleEnabled && e.stakes != nil:
		return e.stakes.Current()
	case r.BetAmount != nil && *r.BetAmount > 0:
		return *r.BetAmount
	default:
		return cfg.BaseStake
	}
}
