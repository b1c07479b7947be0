package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dicebot/internal/account"
	"github.com/betbot/dicebot/internal/alert"
	"github.com/betbot/dicebot/internal/connection"
	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/internal/protocol"
	"github.com/betbot/dicebot/internal/recorder"
	"github.com/betbot/dicebot/internal/rules"
)

// fakeServer 假的游戏服务器。按鉴权帧的 zone 区分 game / wallet 连接。
type fakeServer struct {
	srv    *httptest.Server
	frames chan string

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		frames: make(chan string, 1024),
		conns:  make(map[string]*websocket.Conn),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, first, err := c.ReadMessage()
		if err != nil {
			return
		}
		name := "wallet"
		if strings.Contains(string(first), `"MiniGame"`) {
			name = "game"
		}
		fs.mu.Lock()
		fs.conns[name] = c
		fs.mu.Unlock()
		fs.record(string(first))
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			fs.record(string(data))
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) record(frame string) {
	select {
	case fs.frames <- frame:
	default:
	}
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) conn(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		c := fs.conns[name]
		fs.mu.Unlock()
		if c != nil {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %s never connected", name)
	return nil
}

func (fs *fakeServer) push(t *testing.T, name string, frames ...string) {
	t.Helper()
	c := fs.conn(t, name)
	for _, f := range frames {
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(f)))
	}
}

// closeAll 关闭监听和所有连接
func (fs *fakeServer) closeAll() {
	fs.srv.Close()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		_ = c.Close()
	}
}

// waitFrame returns the first received frame containing every fragment.
func (fs *fakeServer) waitFrame(t *testing.T, fragments ...string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-fs.frames:
			ok := true
			for _, part := range fragments {
				if !strings.Contains(f, part) {
					ok = false
					break
				}
			}
			if ok {
				return f
			}
		case <-deadline:
			t.Fatalf("no frame containing %v", fragments)
			return ""
		}
	}
}

// noFrame fails if a frame containing every fragment arrives within d.
func (fs *fakeServer) noFrame(t *testing.T, d time.Duration, fragments ...string) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case f := <-fs.frames:
			match := true
			for _, part := range fragments {
				if !strings.Contains(f, part) {
					match = false
					break
				}
			}
			if match {
				t.Fatalf("unexpected frame %s", f)
			}
		case <-deadline:
			return
		}
	}
}

const baseRules = `{
  "gameSettings": {
    "BET_AMOUNT": 1000,
    "JACKPOT_THRESHOLD": 0,
    "BET_STOP": 0,
    "IS_MARTINGALE": true,
    "RATE_MARTINGALE": 2,
    "ZOMBIE": false
  },
  "bettingRules": [
    {"id": 1, "name": "A", "priority": 1, "active": true, "pattern": [], "betOn": "TAI"}
  ]
}`

func writeRules(t *testing.T, content string) *rules.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rule.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	store := rules.NewStore(path)
	_, err := store.Load()
	require.NoError(t, err)
	return store
}

func testDeps(fs *fakeServer, store *rules.Store, alerts alert.Sender) Deps {
	v := protocol.Builtin()["taixiu"]
	v.BetDelay = protocol.Delay{Min: 5 * time.Millisecond, Max: 10 * time.Millisecond}
	return Deps{
		Variant: v,
		Rules:   store,
		Alerts:  alerts,
		Policy: connection.Policy{
			MaxAttempts:       2,
			Delay:             10 * time.Millisecond,
			ZombieDelay:       10 * time.Millisecond,
			HeartbeatInterval: 50 * time.Millisecond,
		},
		URLs: map[string]string{"game": fs.url(), "wallet": fs.url()},
	}
}

func testAccount() account.Account {
	return account.Account{
		ID:        "0b7d3c1e-5a8f-4c2e-9d61-7f3a2b1c0e99",
		Name:      "player",
		Username:  "player",
		Password:  "pw",
		Signature: "sig",
		Info:      []byte(`{"ipAddress":"1.2.3.4","userId":"u1","username":"player","timestamp":1,"refreshToken":"r"}`),
	}
}

func startSession(t *testing.T, deps Deps) *Session {
	t.Helper()
	s, err := New(testAccount(), deps)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(ReasonShutdown) })
	return s
}

func money(v int64) domain.Money { return domain.Money(v) }

// auditLog 记录下注与结算，用于断言审计链路
type auditLog struct {
	recorder.Noop
	mu      sync.Mutex
	wagers  []domain.Wager
	settled map[string]bool
}

func (a *auditLog) RecordWager(_ context.Context, _ string, w domain.Wager) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wagers = append(a.wagers, w)
	return nil
}

func (a *auditLog) SettleWager(_ context.Context, wagerID string, won bool, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled == nil {
		a.settled = make(map[string]bool)
	}
	a.settled[wagerID] = won
	return nil
}

// outcome returns the settlement of the n-th wager.
func (a *auditLog) outcome(n int) (won, settled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n >= len(a.wagers) {
		return false, false
	}
	won, settled = a.settled[a.wagers[n].ID]
	return won, settled
}
