// Package syncgroup ties a set of goroutines to one WaitGroup so their
// owner can stop them and wait for all of them in one place.
package syncgroup

import (
	"sync"
)

// SyncGroup sync.WaitGroup 的包装器，自动管理 Add()/Done()
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Go 启动一个受管 goroutine。Close 之后调用返回 false 且不启动。
func (g *SyncGroup) Go(fn func()) bool {
	if fn == nil {
		return false
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.running++
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			g.running--
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn()
	}()
	return true
}

// Running 当前运行中的 goroutine 数量
func (g *SyncGroup) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Close 拒绝新的 goroutine，并等待已有的全部退出
func (g *SyncGroup) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}

// Wait 等待所有 goroutine 完成（不关闭）
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
