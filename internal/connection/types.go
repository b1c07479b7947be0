package connection

import "time"

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// FailureKind 断线原因分类
type FailureKind int

const (
	FailureConnect FailureKind = iota // 拨号或握手失败
	FailureClosed                     // 对端关闭
	FailureError                      // 读写错误
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnect:
		return "connect_failed"
	case FailureClosed:
		return "closed"
	default:
		return "error"
	}
}

// EventKind 上报给会话的事件类型
type EventKind int

const (
	EventConnected EventKind = iota
	EventMessage
	EventDisconnected
	EventFatal
	// EventZombie 僵尸模式下的一次连续失败，重试前发出
	EventZombie
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	case EventZombie:
		return "zombie"
	default:
		return "fatal"
	}
}

// Event 监督器事件
type Event struct {
	Kind    EventKind
	Channel string
	Data    []byte
	Failure FailureKind
	Err     error
}

// Policy 重连策略
type Policy struct {
	MaxAttempts       int
	Delay             time.Duration
	ZombieDelay       time.Duration
	ZombieAlertEvery  int
	HeartbeatInterval time.Duration
	// ZombieEnabled 每次失败时读取，跟随规则热更新
	ZombieEnabled func() bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		Delay:             5 * time.Second,
		ZombieDelay:       5 * time.Minute,
		ZombieAlertEvery:  3,
		HeartbeatInterval: 5 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = d.Delay
	}
	if p.ZombieDelay <= 0 {
		p.ZombieDelay = d.ZombieDelay
	}
	if p.ZombieAlertEvery <= 0 {
		p.ZombieAlertEvery = d.ZombieAlertEvery
	}
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = d.HeartbeatInterval
	}
	return p
}
