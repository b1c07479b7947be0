package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/dicebot/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type entry struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器。
// 同一阶段(stage)内的回调并发执行，阶段之间按注册顺序串行：
// 先停会话，再关控制面，最后关存储。
type Manager struct {
	mu     sync.Mutex
	stages [][]entry
	once   sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 在新阶段注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, []entry{{name: name, handler: handler}})
}

// Alongside 注册到最后一个阶段，与其并发执行
func (m *Manager) Alongside(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stages) == 0 {
		m.stages = append(m.stages, nil)
	}
	last := len(m.stages) - 1
	m.stages[last] = append(m.stages[last], entry{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该是一个带超时的 context，避免无限等待；超时后剩余阶段不再执行。
func (m *Manager) Shutdown(ctx context.Context) (failed int) {
	m.once.Do(func() {
		m.mu.Lock()
		stages := m.stages
		m.mu.Unlock()

		if len(stages) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}
		logger.Infof("开始优雅关闭，共 %d 个阶段", len(stages))

		for _, stage := range stages {
			if ctx.Err() != nil {
				logger.Warnf("关闭超时，跳过剩余阶段: %v", ctx.Err())
				failed++
				return
			}
			failed += runStage(ctx, stage)
		}
		logger.Info("所有关闭回调已完成")
	})
	return failed
}

func runStage(ctx context.Context, stage []entry) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, e := range stage {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			start := time.Now()
			if err := e.handler(ctx); err != nil {
				logger.Errorf("关闭 %s 失败: %v", e.name, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			logger.Debugf("已关闭 %s (%s)", e.name, time.Since(start).Round(time.Millisecond))
		}(e)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return failed
	case <-ctx.Done():
		logger.Warnf("关闭超时: %v", ctx.Err())
		mu.Lock()
		defer mu.Unlock()
		return failed + 1
	}
}
