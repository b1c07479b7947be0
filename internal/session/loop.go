package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/dicebot/internal/alert"
	"github.com/betbot/dicebot/internal/connection"
	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/internal/metrics"
	"github.com/betbot/dicebot/internal/protocol"
	"github.com/betbot/dicebot/internal/rules"
	"github.com/betbot/dicebot/internal/stake"
)

// run 事件循环：所有会话状态的修改都从这里发生
func (s *Session) run() {
	defer close(s.loop)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if s.ctx.Err() != nil {
				return
			}
			s.handleEvent(ev)
		case round := <-s.betC:
			s.executeBettingLogic(round)
		case ch := <-s.configC:
			if s.ctx.Err() != nil {
				return
			}
			s.handleConfigChange(ch.prev, ch.next)
		}
	}
}

func (s *Session) handleEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.EventConnected:
		s.log().WithField("channel", ev.Channel).Info("通道已连接")
		ch := s.channels[ev.Channel]
		if ch == nil {
			return
		}
		if ch == s.wagers {
			s.mu.Lock()
			if !s.bettingAllowed {
				s.log().Warn("重连后未收到上一注的确认，重新允许下注")
			}
			s.bettingAllowed = true
			s.mu.Unlock()
		}
		// 断线期间的余额不可信
		ch.codec.RequestBalance()
	case connection.EventZombie:
		s.recycleSiblings(ev.Channel, ev.Err)
	case connection.EventDisconnected:
		s.log().WithField("channel", ev.Channel).Warnf("通道断开 (%s): %v", ev.Failure, ev.Err)
	case connection.EventFatal:
		s.log().WithField("channel", ev.Channel).Errorf("通道无法恢复: %v", ev.Err)
		alert.Notify(s.deps.Alerts, alert.Alert{
			Severity: alert.SeverityError,
			Title:    AlertReconnectFail,
			Body:     fmt.Sprintf("Reconnect attempts exhausted on channel %s; the session has stopped.", ev.Channel),
			Metadata: map[string]string{
				"user":    s.account.Label(),
				"channel": ev.Channel,
				"reason":  errorText(ev.Err),
			},
		})
		s.shutdown(ReasonFatal, false)
	case connection.EventMessage:
		s.handleMessage(ev.Channel, ev.Data)
	}
}

// recycleSiblings 僵尸模式下一条通道失败时，其余通道一起断开重连
func (s *Session) recycleSiblings(failed string, cause error) {
	for _, name := range s.order {
		if name == failed {
			continue
		}
		reason := fmt.Errorf("channel %s failed: %v", failed, errorText(cause))
		if s.channels[name].sup.Recycle(reason) {
			s.log().WithField("channel", name).Warnf("僵尸模式: %s 通道失败，一并重连", failed)
		}
	}
}

// disconnected returns the first channel that is not connected.
func (s *Session) disconnected() (string, bool) {
	for _, name := range s.order {
		if s.channels[name].sup.State() != connection.StateConnected {
			return name, true
		}
	}
	return "", false
}

func (s *Session) handleMessage(name string, data []byte) {
	ch, ok := s.channels[name]
	if !ok {
		return
	}
	msg, err := ch.codec.Decode(data)
	if err != nil {
		metrics.DecodeErrors.Add(1)
		s.log().WithField("channel", name).Warnf("丢弃无法解析的帧: %v", err)
		return
	}
	switch msg.Kind {
	case protocol.KindHistory:
		s.history.Replace(msg.History)
		s.log().Infof("收到历史记录 %d 条: %v", len(msg.History), s.history.Labels(s.deps.Variant.Interpreter().DefaultChannel()))
	case protocol.KindResult:
		s.handleResult(msg.Outcome)
	case protocol.KindRoundStarted:
		s.handleRoundStarted(msg.RoundID)
	case protocol.KindWagerAck:
		s.mu.Lock()
		s.bettingAllowed = true
		s.mu.Unlock()
		for _, c := range s.channels {
			c.codec.RequestBalance()
		}
		s.log().Info("下注已确认")
	case protocol.KindPot:
		s.mu.Lock()
		s.pot = msg.Amount
		s.mu.Unlock()
		s.log().Debugf("奖池: %s", msg.Amount)
	case protocol.KindBalance:
		s.mu.Lock()
		s.balance = msg.Amount
		s.balanceKnown = true
		s.mu.Unlock()
		metrics.Balance.Set(int64(msg.Amount))
		s.log().Infof("余额: %s", msg.Amount)
	}
}

func (s *Session) handleRoundStarted(round string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopping || s.state == StateStopped {
		return
	}
	if round != "" && round == s.lastRound {
		return
	}
	s.lastRound = round
	s.round = round
	if s.betTimer != nil {
		s.betTimer.Stop()
	}
	delay := s.betDelay()
	ctx := s.ctx
	s.betTimer = time.AfterFunc(delay, func() {
		select {
		case s.betC <- round:
		case <-ctx.Done():
		}
	})
	s.log().WithField("round", round).Infof("新一局开始，%s 后执行下注逻辑", delay.Round(time.Millisecond))
}

// executeBettingLogic 依次检查：下注许可、通道状态、奖池门槛、规则匹配、余额保护
func (s *Session) executeBettingLogic(round string) {
	if s.ctx.Err() != nil {
		return
	}
	cfg := s.deps.Rules.Current()
	if cfg == nil {
		return
	}
	entry := s.log().WithField("round", round)

	s.mu.Lock()
	allowed, pot := s.bettingAllowed, s.pot
	balance, known := s.balance, s.balanceKnown
	s.mu.Unlock()

	if !allowed {
		entry.Warn("上一注尚未确认，跳过本局")
		metrics.RoundsSkipped.Add(1)
		return
	}
	if name, down := s.disconnected(); down {
		entry.Warnf("通道 %s 未连接，跳过本局", name)
		metrics.RoundsSkipped.Add(1)
		return
	}
	if pot <= cfg.JackpotThreshold {
		entry.Infof("奖池 %s 未超过门槛 %s，跳过本局", pot, cfg.JackpotThreshold)
		metrics.RoundsSkipped.Add(1)
		return
	}
	sel, ok := s.engine.SelectAction(s.history, cfg)
	if !ok {
		entry.Info("最近的历史没有匹配的规则")
		metrics.RoundsSkipped.Add(1)
		return
	}
	if known {
		if title, violated := balanceGuard(balance, sel.Stake, cfg); violated {
			entry.Errorf("%s: 余额 %s, 注额 %s, 停止线 %s", title, balance, sel.Stake, cfg.BalanceStopThreshold)
			alert.Notify(s.deps.Alerts, alert.Alert{
				Severity: alert.SeverityWarning,
				Title:    title,
				Body:     "Please check the wallet or lower the stake.",
				Metadata: map[string]string{
					"user":    s.account.Label(),
					"wallet":  balance.String(),
					"stake":   sel.Stake.String(),
					"betStop": cfg.BalanceStopThreshold.String(),
				},
			})
			s.shutdown(ReasonGuard, false)
			return
		}
	}

	target, _, err := s.deps.Variant.ResolveTarget(sel.Target)
	if err != nil {
		entry.Errorf("规则 %s: %v", sel.Rule.Name, err)
		return
	}
	w := domain.Wager{
		ID:       uuid.NewString(),
		RoundID:  round,
		Target:   domain.BetTarget(target),
		Amount:   sel.Stake,
		RuleName: sel.Rule.Name,
		PlacedAt: time.Now(),
	}
	frame, err := s.wagers.codec.Wager(round, w.Target, w.Amount)
	if err != nil {
		entry.Errorf("无法构造下注帧: %v", err)
		return
	}

	s.stakes.RecordWager(w)
	if err := s.wagers.sup.Send(frame); err != nil {
		s.stakes.CancelWager()
		metrics.WagersFailed.Add(1)
		if errors.Is(err, connection.ErrNotConnected) {
			entry.Warn("下注通道未连接，放弃本局")
		} else {
			entry.Errorf("发送下注失败: %v", err)
		}
		return
	}
	s.mu.Lock()
	s.bettingAllowed = false
	s.mu.Unlock()

	metrics.WagersPlaced.Add(1)
	metrics.CurrentStake.Set(int64(w.Amount))
	if err := s.deps.Recorder.RecordWager(s.ctx, s.id, w); err != nil {
		entry.Warnf("记录下注失败: %v", err)
	}
	entry.Infof("规则 %s: 下注 %s 于 %s", sel.Rule.Name, w.Amount, w.Target)
}

// balanceGuard reports which guard trips, if any.
func balanceGuard(balance, stakeAmount domain.Money, cfg *rules.Config) (string, bool) {
	switch {
	case balance <= cfg.BalanceStopThreshold:
		return AlertBelowStop, true
	case stakeAmount > balance:
		return AlertStakeOverFunds, true
	}
	return "", false
}

func (s *Session) handleResult(o domain.Outcome) {
	s.history.Append(o)
	entry := s.log().WithField("round", o.RoundID)
	if err := s.deps.Recorder.RecordRound(s.ctx, s.id, o); err != nil {
		entry.Warnf("记录结果失败: %v", err)
	}

	cfg := s.deps.Rules.Current()
	p := stake.Policy{}
	if cfg != nil {
		p = stake.Policy{Martingale: cfg.MartingaleEnabled, Multiplier: cfg.MartingaleMultiplier, MaxStake: cfg.MaxStake}
	}
	pending, ok := s.stakes.Pending()
	if !ok {
		s.stakes.OnRoundResult(false, p)
		entry.Infof("开奖: %v = %s", o.Dice, o)
		return
	}
	won := protocol.Wins(string(pending.Target), o)
	s.stakes.OnRoundResult(won, p)
	if won {
		metrics.RoundsWon.Add(1)
	} else {
		metrics.RoundsLost.Add(1)
	}
	metrics.CurrentStake.Set(int64(s.stakes.Current()))
	if err := s.deps.Recorder.SettleWager(s.ctx, pending.ID, won, o.At); err != nil {
		entry.Warnf("结算记录失败: %v", err)
	}
	result := "输"
	if won {
		result = "赢"
	}
	entry.Infof("开奖: %v = %s, 下注 %s %s: %s, 下一注 %s", o.Dice, o, pending.Target, pending.Amount, result, s.stakes.Current())
}

func (s *Session) handleConfigChange(prev, next *rules.Config) {
	metrics.ConfigReloads.Add(1)
	switch {
	case prev.BaseStake != next.BaseStake:
		s.stakes.Rebase(next.BaseStake)
		s.log().Infof("基础注额变更 %s -> %s，倍投重置", prev.BaseStake, next.BaseStake)
	case prev.MartingaleEnabled && !next.MartingaleEnabled:
		s.stakes.Reset()
		s.log().Info("倍投已关闭，注额重置")
	}
	s.logRules(next)
}

// checkWallet 由 cron 调用
func (s *Session) checkWallet() {
	s.mu.Lock()
	balance, known := s.balance, s.balanceKnown
	s.mu.Unlock()
	threshold := s.deps.Wallet.Threshold
	if !known || balance >= threshold {
		return
	}
	s.log().Warnf("余额 %s 低于提醒线 %s", balance, threshold)
	alert.Notify(s.deps.Alerts, alert.Alert{
		Severity: alert.SeverityWarning,
		Title:    AlertWalletLow,
		Body:     "The wallet balance is below the alert threshold.",
		Metadata: map[string]string{
			"user":      s.account.Label(),
			"wallet":    balance.String(),
			"threshold": threshold.String(),
		},
	})
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
