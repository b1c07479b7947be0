// Package stake implements the progressive (Martingale) wager sizing state.
package stake

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/pkg/logger"
)

// Policy 结算时生效的倍投参数（来自当前规则快照）
type Policy struct {
	Martingale bool
	Multiplier float64
	MaxStake   domain.Money // 0 = 不封顶
}

// Controller 倍投状态机。
// 不变式：没有未结算的亏损时 current == base。
type Controller struct {
	mu      sync.Mutex
	base    domain.Money
	current domain.Money
	last    *domain.Wager
}

func NewController(base domain.Money) *Controller {
	return &Controller{base: base, current: base}
}

func (c *Controller) Base() domain.Money {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// Current is the escalated stake used when martingale is on.
func (c *Controller) Current() domain.Money {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Pending returns the wager awaiting a result, if any.
func (c *Controller) Pending() (domain.Wager, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.Wager{}, false
	}
	return *c.last, true
}

// RecordWager stores the wager right before its frame is sent.
func (c *Controller) RecordWager(w domain.Wager) {
	c.mu.Lock()
	c.last = &w
	c.mu.Unlock()
}

// CancelWager forgets the pending wager (the frame never left).
func (c *Controller) CancelWager() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

// OnRoundResult adjusts the stake for a settled round and always clears the
// pending wager. Without a pending wager or with martingale off the stake is untouched.
func (c *Controller) OnRoundResult(won bool, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.last
	c.last = nil
	if last == nil || last.Amount <= 0 || !p.Martingale {
		return
	}
	if won {
		c.current = c.base
		logger.Infof("倍投: 赢，注额重置为 %s", c.current)
		return
	}
	next := Escalate(last.Amount, p.Multiplier)
	if p.MaxStake > 0 && next > p.MaxStake {
		logger.Warnf("倍投: 下一注 %s 超过上限 %s，回到基础注额 %s", next, p.MaxStake, c.base)
		c.current = c.base
		return
	}
	c.current = next
	logger.Infof("倍投: 输，下一注提高到 %s", c.current)
}

// Reset restores current := base. A pending wager stays pending until its result.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.current = c.base
	c.mu.Unlock()
}

// Rebase switches to a new base stake and resets; the pending wager is kept.
func (c *Controller) Rebase(base domain.Money) {
	c.mu.Lock()
	c.base = base
	c.current = base
	c.mu.Unlock()
}

// Escalate returns ceil(amount * multiplier) computed exactly.
func Escalate(amount domain.Money, multiplier float64) domain.Money {
	return domain.MoneyFromDecimal(amount.Decimal().Mul(decimal.NewFromFloat(multiplier)))
}
