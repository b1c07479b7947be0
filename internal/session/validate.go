package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/betbot/dicebot/internal/protocol"
	"github.com/betbot/dicebot/internal/rules"
)

// RuleValidator 规则文件的玩法校验（配合 rules.WithValidator）：
// 启用的规则必须下注在该玩法认识的目标上，显式 channel 必须是该玩法的历史通道。
func RuleValidator(v *protocol.Variant) func(*rules.Config) error {
	return func(c *rules.Config) error {
		interp, err := v.Interpreter()
		if err != nil {
			return err
		}
		channels := interp.Channels()
		for _, r := range c.ActiveRules() {
			if _, _, err := v.ResolveTarget(r.BetOn); err != nil {
				return fmt.Errorf("rule %s: %w (可选: %s)", r.ID, err, strings.Join(v.TargetNames(), ", "))
			}
			if r.Channel != "" && !slices.Contains(channels, r.Channel) {
				return fmt.Errorf("rule %s: variant %s has no channel %q (可选: %s)",
					r.ID, v.Name, r.Channel, strings.Join(channels, ", "))
			}
		}
		return nil
	}
}
