// Package session runs one betting session: it owns the channel supervisors,
// the outcome history and the stake state, and turns server events into
// wagers.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/betbot/dicebot/internal/account"
	"github.com/betbot/dicebot/internal/alert"
	"github.com/betbot/dicebot/internal/connection"
	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/internal/engine"
	"github.com/betbot/dicebot/internal/history"
	"github.com/betbot/dicebot/internal/metrics"
	"github.com/betbot/dicebot/internal/protocol"
	"github.com/betbot/dicebot/internal/recorder"
	"github.com/betbot/dicebot/internal/rules"
	"github.com/betbot/dicebot/internal/stake"
	"github.com/betbot/dicebot/pkg/logger"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// StopReason 停止原因。只有用户停止会发送“已暂停”告警。
type StopReason string

const (
	ReasonUser     StopReason = "user"
	ReasonShutdown StopReason = "shutdown"
	ReasonGuard    StopReason = "balance_guard"
	ReasonFatal    StopReason = "reconnect_exhausted"
	ReasonStartup  StopReason = "start_failed"
)

// 告警标题
const (
	AlertPaused         = "Game paused"
	AlertReconnectFail  = "Reconnect failed"
	AlertBelowStop      = "Wallet below the stop threshold"
	AlertStakeOverFunds = "Wallet cannot cover the next wager"
	AlertWalletLow      = "Wallet balance low"
)

var ErrSessionClosed = errors.New("session: closed")

// WalletWatch 周期性低余额提醒（cron 表达式，支持 @every）
type WalletWatch struct {
	Schedule  string
	Threshold domain.Money
}

// Deps 会话依赖
type Deps struct {
	Variant  *protocol.Variant
	Rules    *rules.Store
	Alerts   alert.Sender
	Recorder recorder.Recorder
	Policy   connection.Policy
	ProxyURL string
	Wallet   WalletWatch
	// URLs 按通道名覆盖连接地址
	URLs map[string]string
}

type channel struct {
	codec *protocol.Codec
	sup   *connection.Supervisor
}

type configChange struct {
	prev, next *rules.Config
}

// Session 一次下注会话。单次使用：Stop 后不能再 Start。
type Session struct {
	id      string
	account account.Account
	deps    Deps

	engine  *engine.Engine
	history *history.Tracker
	stakes  *stake.Controller

	channels map[string]*channel
	order    []string
	wagers   *channel

	events  chan connection.Event
	betC    chan string
	configC chan configChange

	ctx    context.Context
	cancel context.CancelFunc
	loop   chan struct{}
	cron   *cron.Cron
	unsub  func()
	onStop func(*Session, StopReason)

	mu             sync.Mutex
	state          State
	startedAt      time.Time
	stoppedAt      time.Time
	reason         StopReason
	round          string
	lastRound      string
	pot            domain.Money
	balance        domain.Money
	balanceKnown   bool
	bettingAllowed bool
	betTimer       *time.Timer
	rng            *rand.Rand
}

// New prepares a session for acct. Nothing connects until Start.
func New(acct account.Account, deps Deps) (*Session, error) {
	if deps.Variant == nil {
		return nil, errors.New("session: variant is required")
	}
	if deps.Rules == nil {
		return nil, errors.New("session: rule store is required")
	}
	if deps.Alerts == nil {
		deps.Alerts = alert.Noop{}
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.Noop{}
	}
	cfg := deps.Rules.Current()
	if cfg == nil {
		return nil, errors.New("session: rules are not loaded")
	}

	interp := deps.Variant.Interpreter()
	stakes := stake.NewController(cfg.BaseStake)
	s := &Session{
		id:             uuid.NewString(),
		account:        acct,
		deps:           deps,
		engine:         engine.New(interp.DefaultChannel(), stakes),
		history:        history.NewTracker(history.DefaultWindow),
		stakes:         stakes,
		channels:       make(map[string]*channel),
		events:         make(chan connection.Event, 256),
		betC:           make(chan string, 1),
		configC:        make(chan configChange, 4),
		loop:           make(chan struct{}),
		state:          StateIdle,
		bettingAllowed: true,
		rng:            rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}

	policy := deps.Policy
	policy.ZombieEnabled = func() bool {
		c := deps.Rules.Current()
		return c != nil && c.ZombieModeEnabled
	}
	creds := acct.Credentials()
	for _, spec := range deps.Variant.Channels {
		codec := protocol.NewCodec(deps.Variant, spec, creds)
		url := spec.URL
		if u, ok := deps.URLs[spec.Name]; ok && u != "" {
			url = u
		}
		ch := &channel{
			codec: codec,
			sup: connection.NewSupervisor(connection.Options{
				Name:     spec.Name,
				URL:      url,
				ProxyURL: deps.ProxyURL,
				Protocol: codec,
				Policy:   policy,
				Events:   s.events,
				Alerts:   deps.Alerts,
				Account:  acct.Label(),
			}),
		}
		s.channels[spec.Name] = ch
		s.order = append(s.order, spec.Name)
		if spec.Wagers {
			s.wagers = ch
		}
	}
	if s.wagers == nil {
		return nil, fmt.Errorf("session: variant %s has no wager channel", deps.Variant.Name)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) log() *logger.Entry {
	return logger.WithFields(logger.Fields{"session": s.id[:8], "user": s.account.Label()})
}

// Start connects every channel and returns once all handshakes are done.
// On failure everything is torn down and the error returned; ctx only
// bounds the start, the session then lives until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateStarting
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	release := context.AfterFunc(ctx, s.cancel)
	defer release()

	cfg := s.deps.Rules.Current()
	s.stakes.Rebase(cfg.BaseStake)
	s.logRules(cfg)

	unsub := s.deps.Rules.OnChange(func(prev, next *rules.Config) {
		select {
		case s.configC <- configChange{prev: prev, next: next}:
		case <-s.ctx.Done():
		}
	})
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	go s.run()

	for _, name := range s.order {
		if err := s.channels[name].sup.Start(s.ctx); err != nil {
			s.log().Errorf("启动失败: %v", err)
			s.shutdown(ReasonStartup, true)
			return err
		}
	}
	if err := s.startWalletWatch(); err != nil {
		s.shutdown(ReasonStartup, true)
		return err
	}

	s.mu.Lock()
	if s.state != StateStarting {
		// 启动过程中已经自行停止
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateRunning
	s.mu.Unlock()
	metrics.SessionsStarted.Add(1)
	s.log().Infof("会话已启动: 玩法=%s 通道=%v", s.deps.Variant.Name, s.order)
	return nil
}

func (s *Session) logRules(cfg *rules.Config) {
	s.log().WithFields(logger.Fields{
		"base_stake": cfg.BaseStake.String(),
		"jackpot":    cfg.JackpotThreshold.String(),
		"bet_stop":   cfg.BalanceStopThreshold.String(),
		"martingale": cfg.MartingaleEnabled,
		"rate":       cfg.MartingaleMultiplier,
		"zombie":     cfg.ZombieModeEnabled,
		"max_stake":  cfg.MaxStake.String(),
	}).Info("当前下注设置")
	for _, r := range cfg.ActiveRules() {
		s.log().Infof("规则 #%d %s: %v -> %s", r.Priority, r.Name, r.Pattern, r.BetOn)
	}
}

func (s *Session) startWalletWatch() error {
	w := s.deps.Wallet
	if w.Schedule == "" || w.Threshold <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(w.Schedule, s.checkWallet); err != nil {
		return fmt.Errorf("wallet watch schedule %q: %w", w.Schedule, err)
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()
	return nil
}

// Stop tears the session down. Safe to call more than once; only the first
// call acts. Automatic stops do not send the "paused" alert.
func (s *Session) Stop(reason StopReason) {
	s.shutdown(reason, true)
}

// shutdown stops timers, supervisors and the event loop. wait is false when
// called from the event loop itself.
func (s *Session) shutdown(reason StopReason, wait bool) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateStopped
		s.reason = reason
		s.mu.Unlock()
		close(s.loop)
		return
	case StateStopping, StateStopped:
		s.mu.Unlock()
		s.log().Debugf("会话已停止，忽略重复停止 (%s)", reason)
		return
	}
	s.state = StateStopping
	s.reason = reason
	if s.betTimer != nil {
		s.betTimer.Stop()
		s.betTimer = nil
	}
	unsub, c := s.unsub, s.cron
	s.mu.Unlock()

	s.log().Infof("正在停止会话: %s", reason)
	s.cancel()
	if unsub != nil {
		unsub()
	}
	if c != nil {
		<-c.Stop().Done()
	}
	for _, name := range s.order {
		s.channels[name].sup.Stop()
	}
	if wait {
		<-s.loop
	}

	s.mu.Lock()
	s.state = StateStopped
	s.stoppedAt = time.Now()
	s.mu.Unlock()

	if reason == ReasonUser {
		cfg := s.deps.Rules.Current()
		zombie := "off"
		if cfg != nil && cfg.ZombieModeEnabled {
			zombie = "on"
		}
		alert.Notify(s.deps.Alerts, alert.Alert{
			Severity: alert.SeverityWarning,
			Title:    AlertPaused,
			Body:     "The session was stopped by the user. Please check in.",
			Metadata: map[string]string{
				"user":   s.account.Label(),
				"stake":  s.stakes.Current().String(),
				"zombie": zombie,
			},
		})
	}
	s.log().Infof("会话已停止 (%s)", reason)
	if s.onStop != nil {
		s.onStop(s, reason)
	}
}

// Done is closed when the event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.loop }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// betDelay draws the pre-wager delay uniformly from the variant's range.
func (s *Session) betDelay() time.Duration {
	d := s.deps.Variant.BetDelay
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(s.rng.Int64N(int64(d.Max-d.Min)+1))
}
