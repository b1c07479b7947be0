package domain

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BetTarget 下注的目标（结果分类名，如 TAI、XIU、RED_4）
type BetTarget string

// UnmarshalJSON accepts both "TAI" and bare numeric target ids such as 2.
func (t *BetTarget) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*t = BetTarget(strings.TrimSpace(s))
		return nil
	}
	if string(b) == "null" {
		*t = ""
		return nil
	}
	*t = BetTarget(string(b))
	return nil
}

// UnmarshalYAML accepts scalar strings and numbers.
func (t *BetTarget) UnmarshalYAML(node *yaml.Node) error {
	*t = BetTarget(strings.TrimSpace(node.Value))
	return nil
}

// Wager 一笔已发出（或即将发出）的下注
type Wager struct {
	ID       string
	RoundID  string
	Target   BetTarget
	Amount   Money
	RuleName string
	PlacedAt time.Time
}
