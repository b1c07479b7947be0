package session

import (
	"context"
	"errors"
	"sync"

	"github.com/betbot/dicebot/internal/account"
	"github.com/betbot/dicebot/pkg/logger"
)

var (
	ErrAlreadyRunning = errors.New("session: already running")
	ErrNotRunning     = errors.New("session: not running")
	// ErrNoUserSelected 与 account 包共用同一个哨兵错误
	ErrNoUserSelected = account.ErrNoUserSelected
)

// AccountSource 提供当前选中的账号（account.Book 实现）
type AccountSource interface {
	Selected(ctx context.Context) (*account.Account, error)
}

// Manager 进程内唯一的会话槽位
type Manager struct {
	accounts AccountSource
	deps     Deps

	mu       sync.Mutex
	current  *Session
	starting bool
	last     *Status
}

func NewManager(accounts AccountSource, deps Deps) *Manager {
	return &Manager{accounts: accounts, deps: deps}
}

// StartSession checks the preconditions, then starts a session for the
// selected account. Precondition errors leave the manager untouched.
func (m *Manager) StartSession(ctx context.Context) (Status, error) {
	m.mu.Lock()
	if m.current != nil || m.starting {
		m.mu.Unlock()
		return Status{}, ErrAlreadyRunning
	}
	m.starting = true
	m.mu.Unlock()

	s, err := m.prepare(ctx)
	if err == nil {
		s.onStop = m.release
		err = s.Start(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
	if err != nil {
		return Status{}, err
	}
	if st := s.State(); st == StateStopping || st == StateStopped {
		// 启动后立刻自行停止
		snap := s.Status()
		m.last = &snap
		return snap, ErrSessionClosed
	}
	m.current = s
	return s.Status(), nil
}

func (m *Manager) prepare(ctx context.Context) (*Session, error) {
	acct, err := m.accounts.Selected(ctx)
	if err != nil {
		return nil, err
	}
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if m.deps.Rules != nil && m.deps.Rules.Current() == nil {
		if _, err := m.deps.Rules.Load(); err != nil {
			return nil, err
		}
	}
	return New(*acct, m.deps)
}

// release 会话停止时回调（用户停止或自行停止）
func (m *Manager) release(s *Session, reason StopReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return
	}
	st := s.Status()
	m.last = &st
	m.current = nil
	logger.Infof("会话槽位已释放 (%s)", reason)
}

// StopSession stops the running session as a user stop. Stopping when
// nothing runs is not an error.
func (m *Manager) StopSession() error {
	return m.stop(ReasonUser)
}

// Shutdown stops the running session without the "paused" alert.
func (m *Manager) Shutdown() error {
	return m.stop(ReasonShutdown)
}

func (m *Manager) stop(reason StopReason) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		logger.Debug("没有运行中的会话")
		return nil
	}
	s.Stop(reason)
	return nil
}

// Running reports whether a session occupies the slot.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Status returns the running session's snapshot, or the last stopped one.
func (m *Manager) Status() (Status, error) {
	m.mu.Lock()
	s, last := m.current, m.last
	m.mu.Unlock()
	if s != nil {
		return s.Status(), nil
	}
	if last != nil {
		return *last, nil
	}
	return Status{State: StateIdle.String()}, ErrNotRunning
}

// Wait blocks until the current session (if any) stops or ctx ends.
func (m *Manager) Wait(ctx context.Context) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case <-s.Done():
	case <-ctx.Done():
	}
}
