// Package sigchan is a coalescing, non-blocking signal: any number of Emit
// calls before the next Take collapse into one pending signal.
package sigchan

// Chan 非阻塞信号
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel，bufferSize 为可同时挂起的信号数
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号（满了就丢弃）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// Take consumes a pending signal without blocking.
func (c *Chan) Take() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}

// C 返回内部 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}
