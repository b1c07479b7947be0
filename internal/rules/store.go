package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/betbot/dicebot/pkg/logger"
)

// DefaultDebounce collapses bursts of file events into one reload.
const DefaultDebounce = 300 * time.Millisecond

// ChangeFunc is called after a successful reload.
type ChangeFunc func(prev, next *Config)

// Option 配置 Store
type Option func(*Store)

// WithValidator adds a check run after the built-in validation, on every
// load and before every Update is written (session.RuleValidator checks the
// rules against the game variant).
func WithValidator(fn func(*Config) error) Option {
	return func(s *Store) { s.validators = append(s.validators, fn) }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Store 规则配置存储：负责加载、校验、热重载，并持有当前快照
type Store struct {
	path       string
	debounce   time.Duration
	validators []func(*Config) error

	current atomic.Pointer[Config]

	subMu  sync.Mutex
	subs   map[int]ChangeFunc
	nextID int

	watchMu  sync.Mutex
	watching bool
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewStore creates a store for the document at path. Nothing is read until Load.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		subs:     make(map[int]ChangeFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string { return s.path }

// Current returns the live snapshot (nil before the first successful Load).
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Load reads and validates the document. On failure the previous snapshot stays live.
func (s *Store) Load() (*Config, error) {
	cfg, err := s.read()
	if err != nil {
		logger.Errorf("加载规则文件失败，继续使用旧配置: %v", err)
		return nil, err
	}
	prev := s.current.Swap(cfg)
	logger.WithFields(map[string]interface{}{
		"base_stake": cfg.BaseStake,
		"martingale": cfg.MartingaleEnabled,
		"rate":       cfg.MartingaleMultiplier,
		"zombie":     cfg.ZombieModeEnabled,
		"rules":      len(cfg.Rules),
	}).Infof("规则文件已加载: %s", s.path)
	if prev != nil {
		s.notify(prev, cfg)
	}
	return cfg, nil
}

func (s *Store) read() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &ConfigError{Path: s.path, Err: err}
	}
	doc, err := Parse(s.path, data)
	if err != nil {
		return nil, &ConfigError{Path: s.path, Err: err}
	}
	cfg, err := doc.Validate()
	if err != nil {
		return nil, &ConfigError{Path: s.path, Err: err}
	}
	for _, v := range s.validators {
		if err := v(cfg); err != nil {
			return nil, &ConfigError{Path: s.path, Err: err}
		}
	}
	cfg.Source = s.path
	cfg.LoadedAt = time.Now()
	return cfg, nil
}

// OnChange subscribes to successful reloads. The returned func unsubscribes.
func (s *Store) OnChange(fn ChangeFunc) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(prev, next *Config) {
	s.subMu.Lock()
	fns := make([]ChangeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(prev, next)
	}
}

// Watch starts reloading the document whenever it changes on disk, until ctx
// is done or Close is called. The parent directory is watched because editors
// usually replace the file instead of writing it in place.
func (s *Store) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watching {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.fsw = fsw
	s.done = make(chan struct{})
	s.watching = true
	go s.watchLoop(ctx, fsw, s.done)
	logger.Infof("开始监听规则文件变化: %s", s.path)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	stopTimer := func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path || ev.Op == fsnotify.Chmod {
				continue
			}
			logger.Debugf("规则文件事件: %s", ev)
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				logger.Infof("检测到规则文件变化，重新加载: %s", s.path)
				_, _ = s.Load()
			})
			timerMu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("规则文件监听错误: %v", err)
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (s *Store) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if !s.watching {
		return nil
	}
	s.watching = false
	return s.fsw.Close()
}

// Update reads the document from disk, applies fn and writes it back atomically.
// A running watcher picks the change up like any external edit.
func (s *Store) Update(fn func(*Document) error) error {
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	doc := &Document{}
	if len(data) > 0 {
		if doc, err = Parse(s.path, data); err != nil {
			return &ConfigError{Path: s.path, Err: err}
		}
	}
	if err := fn(doc); err != nil {
		return err
	}
	cfg, err := doc.Validate()
	if err != nil {
		return &ConfigError{Path: s.path, Err: err}
	}
	for _, v := range s.validators {
		if err := v(cfg); err != nil {
			return &ConfigError{Path: s.path, Err: err}
		}
	}
	return s.Save(doc)
}

// Save writes doc atomically (tmp file + rename).
func (s *Store) Save(doc *Document) error {
	b, err := Encode(s.path, doc)
	if err != nil {
		return fmt.Errorf("encode rule document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
