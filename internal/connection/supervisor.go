// Package connection supervises one websocket to the game server: dial,
// handshake, heartbeat, inbound dispatch, and recovery (bounded retries,
// then unbounded zombie retries when enabled).
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/dicebot/internal/alert"
	"github.com/betbot/dicebot/internal/metrics"
	"github.com/betbot/dicebot/internal/protocol"
	"github.com/betbot/dicebot/pkg/logger"
	"github.com/betbot/dicebot/pkg/syncgroup"
)

var (
	ErrNotConnected   = errors.New("connection: not connected")
	ErrAlreadyStarted = errors.New("connection: already started")
	ErrStopped        = errors.New("connection: stopped")
	ErrExhausted      = errors.New("connection: reconnect attempts exhausted")
	ErrRecycled       = errors.New("connection: recycled")
)

// ZombieAlertTitle 僵尸模式连续失败告警的标题
const ZombieAlertTitle = "Zombie mode: consecutive connection failures"

const writeTimeout = 10 * time.Second

// Protocol 通道协议：握手帧与每次心跳要发送的帧
type Protocol interface {
	Handshake() ([]protocol.Frame, error)
	Heartbeat() [][]byte
}

// Options 监督器配置
type Options struct {
	Name     string // 通道名，用于日志与事件
	URL      string
	ProxyURL string // 为空时读取环境变量代理
	Header   http.Header
	Protocol Protocol
	Policy   Policy
	Events   chan<- Event
	Alerts   alert.Sender
	Account  string // 告警元数据
}

type link struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	group  *syncgroup.SyncGroup
}

// shutdown cancels the link's goroutines, closes the socket and waits.
func (l *link) shutdown(graceful bool) {
	l.cancel()
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopped")
		_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	_ = l.conn.Close()
	l.group.Close()
}

type failure struct {
	kind FailureKind
	err  error
	link *link
}

// Supervisor 一条 websocket 的生命周期管理。一次性使用：Stop 之后不能再 Start。
type Supervisor struct {
	opts   Options
	dialer *websocket.Dialer

	mu             sync.Mutex
	state          State
	started        bool
	stopped        bool
	link           *link
	life           context.Context
	lifeCancel     context.CancelFunc
	done           chan struct{}
	attempts       int
	zombieFailures int

	failC   chan failure
	writeMu sync.Mutex
}

func NewSupervisor(opts Options) *Supervisor {
	opts.Policy = opts.Policy.withDefaults()
	dialer := &websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	if opts.ProxyURL != "" {
		if u, err := url.Parse(opts.ProxyURL); err != nil {
			logger.Warnf("[%s] 解析代理 URL 失败: %v，将尝试直接连接", opts.Name, err)
		} else {
			dialer.Proxy = http.ProxyURL(u)
			logger.Infof("[%s] 使用代理连接 WebSocket: %s", opts.Name, opts.ProxyURL)
		}
	}
	return &Supervisor{
		opts:   opts,
		dialer: dialer,
		state:  StateDisconnected,
		failC:  make(chan failure, 1),
	}
}

func (s *Supervisor) Name() string { return s.opts.Name }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Counters returns the bounded attempt counter and the zombie failure counter.
func (s *Supervisor) Counters() (attempts, zombieFailures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, s.zombieFailures
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	if s.state != StateClosing || st == StateDisconnected {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Supervisor) log() *logrus.Entry {
	return logger.WithFields(logger.Fields{"channel": s.opts.Name, "state": s.State().String()})
}

// Start dials and completes the handshake. It returns once the channel is
// connected or the first attempt failed; a failed start does not retry.
// ctx bounds the supervisor's whole lifetime.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.life, s.lifeCancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.connect(s.life); err != nil {
		s.mu.Lock()
		s.stopped = true
		s.state = StateDisconnected
		s.mu.Unlock()
		s.lifeCancel()
		close(s.done)
		return fmt.Errorf("channel %s: %w", s.opts.Name, err)
	}
	go s.run()
	s.emit(Event{Kind: EventConnected})
	return nil
}

func (s *Supervisor) connect(ctx context.Context) error {
	s.setState(StateConnecting)
	frames, err := s.opts.Protocol.Handshake()
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("handshake frames: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, s.opts.Header)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	l := &link{conn: conn, cancel: cancel, group: syncgroup.NewSyncGroup()}

	s.mu.Lock()
	if s.state == StateClosing {
		s.mu.Unlock()
		l.shutdown(false)
		return ErrStopped
	}
	s.link = l
	s.mu.Unlock()

	for _, f := range frames {
		if f.Delay > 0 {
			continue
		}
		if err := s.write(conn, f.Data); err != nil {
			s.detach(l)
			l.shutdown(false)
			s.setState(StateDisconnected)
			return fmt.Errorf("handshake: %w", err)
		}
	}
	for _, f := range frames {
		if f.Delay <= 0 {
			continue
		}
		frame := f
		l.group.Go(func() { s.sendLater(connCtx, l, frame) })
	}
	l.group.Go(func() { s.readLoop(connCtx, l) })
	l.group.Go(func() { s.heartbeat(connCtx, l) })

	s.setState(StateConnected)
	s.log().Infof("WebSocket 已连接: %s", s.opts.URL)
	return nil
}

// detach clears l as the current link; false when it was already replaced.
func (s *Supervisor) detach(l *link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != l {
		return false
	}
	s.link = nil
	return true
}

func (s *Supervisor) write(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send writes a frame; only allowed while connected.
func (s *Supervisor) Send(data []byte) error {
	s.mu.Lock()
	l := s.link
	st := s.state
	s.mu.Unlock()
	if st != StateConnected || l == nil {
		return ErrNotConnected
	}
	if err := s.write(l.conn, data); err != nil {
		s.fail(l, FailureError, err)
		return fmt.Errorf("channel %s: send: %w", s.opts.Name, err)
	}
	return nil
}

// Recycle drops the live link and lets the run loop reconnect it with the
// usual policy. False when there is nothing connected to drop.
func (s *Supervisor) Recycle(reason error) bool {
	s.mu.Lock()
	l := s.link
	ok := s.started && !s.stopped && l != nil && s.state == StateConnected
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.log().Warnf("主动断开重连: %v", reason)
	s.fail(l, FailureClosed, fmt.Errorf("%w: %v", ErrRecycled, reason))
	return true
}

// fail hands a broken link to the run loop. Only the first failure of a link counts.
func (s *Supervisor) fail(l *link, kind FailureKind, err error) {
	s.mu.Lock()
	if s.link != l || s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.state = StateDisconnected
	life := s.life
	s.mu.Unlock()

	select {
	case s.failC <- failure{kind: kind, err: err, link: l}:
	case <-life.Done():
		// 可能在 link 自己的 goroutine 里，不能等待 group
		l.cancel()
		_ = l.conn.Close()
	}
}

func (s *Supervisor) sendLater(ctx context.Context, l *link, f protocol.Frame) {
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	if err := s.write(l.conn, f.Data); err != nil && ctx.Err() == nil {
		s.fail(l, FailureError, err)
	}
}

func (s *Supervisor) readLoop(ctx context.Context, l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			kind := FailureError
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				kind = FailureClosed
			}
			s.fail(l, kind, err)
			return
		}
		s.emit(Event{Kind: EventMessage, Data: data})
	}
}

func (s *Supervisor) heartbeat(ctx context.Context, l *link) {
	ticker := time.NewTicker(s.opts.Policy.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, frame := range s.opts.Protocol.Heartbeat() {
				if err := s.write(l.conn, frame); err != nil {
					if ctx.Err() == nil {
						s.fail(l, FailureError, err)
					}
					return
				}
			}
		}
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case <-s.life.Done():
			return
		case f := <-s.failC:
			f.link.shutdown(false)
			s.log().Warnf("连接断开 (%s): %v", f.kind, f.err)
			s.emit(Event{Kind: EventDisconnected, Failure: f.kind, Err: f.err})
			if !s.recover(f) {
				return
			}
		}
	}
}

// recover retries until connected, stopped, or the bounded budget runs out
// with zombie mode off. Returns false when the run loop should exit.
func (s *Supervisor) recover(f failure) bool {
	p := s.opts.Policy
	for {
		if s.life.Err() != nil {
			return false
		}
		zombie := p.ZombieEnabled != nil && p.ZombieEnabled()

		s.mu.Lock()
		var delay time.Duration
		switch {
		case zombie:
			s.zombieFailures++
			n := s.zombieFailures
			s.mu.Unlock()
			metrics.ZombieFailures.Add(1)
			s.log().Warnf("僵尸模式: 第 %d 次连续失败，%s 后重试", n, p.ZombieDelay)
			if p.ZombieAlertEvery > 0 && n%p.ZombieAlertEvery == 0 {
				alert.Notify(s.opts.Alerts, alert.Alert{
					Severity: alert.SeverityError,
					Title:    ZombieAlertTitle,
					Body:     fmt.Sprintf("%d consecutive connection failures; still retrying.", n),
					Metadata: map[string]string{
						"user":         s.opts.Account,
						"channel":      s.opts.Name,
						"error":        errString(f.err),
						"failureCount": strconv.Itoa(n),
						"lastFailure":  time.Now().Format("2006-01-02 15:04:05"),
					},
				})
			}
			if !errors.Is(f.err, ErrRecycled) {
				s.emit(Event{Kind: EventZombie, Failure: f.kind, Err: f.err})
			}
			delay = p.ZombieDelay
		case s.attempts < p.MaxAttempts:
			s.attempts++
			n := s.attempts
			s.mu.Unlock()
			s.log().Warnf("%s 后重连 (第 %d/%d 次)", p.Delay, n, p.MaxAttempts)
			delay = p.Delay
		default:
			s.mu.Unlock()
			err := fmt.Errorf("%w (%d) on channel %s: %v", ErrExhausted, p.MaxAttempts, s.opts.Name, f.err)
			s.log().Errorf("已达到最大重连次数，放弃: %v", f.err)
			s.emit(Event{Kind: EventFatal, Failure: f.kind, Err: err})
			return false
		}

		if !sleep(s.life, delay) {
			return false
		}
		metrics.Reconnects.Add(1)
		if err := s.connect(s.life); err != nil {
			if errors.Is(err, ErrStopped) || s.life.Err() != nil {
				return false
			}
			s.log().Warnf("重连失败: %v", err)
			f = failure{kind: FailureConnect, err: err}
			continue
		}
		s.mu.Lock()
		s.attempts = 0
		s.zombieFailures = 0
		s.mu.Unlock()
		s.emit(Event{Kind: EventConnected})
		return true
	}
}

// Stop closes the socket, cancels every timer and goroutine and waits for
// them. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		logger.Debugf("[%s] 连接已停止，忽略重复 Stop", s.opts.Name)
		return
	}
	s.stopped = true
	s.state = StateClosing
	l := s.link
	s.link = nil
	cancel, done := s.lifeCancel, s.done
	s.mu.Unlock()

	cancel()
	if l != nil {
		l.shutdown(true)
	}
	<-done

	s.mu.Lock()
	s.state = StateDisconnected
	s.attempts = 0
	s.zombieFailures = 0
	s.mu.Unlock()
	logger.Infof("[%s] 连接已关闭", s.opts.Name)
}

func (s *Supervisor) emit(ev Event) {
	ev.Channel = s.opts.Name
	select {
	case s.opts.Events <- ev:
	case <-s.life.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
