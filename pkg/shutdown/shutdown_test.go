package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_StagesRunInOrder(t *testing.T) {
	m := NewManager()
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Handler {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	m.OnShutdown("session", record("session"))
	m.OnShutdown("http", record("http"))
	m.Alongside("alerts", record("alerts"))
	m.OnShutdown("db", record("db"))

	failed := m.Shutdown(context.Background())
	assert.Zero(t, failed)
	assert.Len(t, order, 4)
	assert.Equal(t, "session", order[0])
	assert.ElementsMatch(t, []string{"http", "alerts"}, order[1:3])
	assert.Equal(t, "db", order[3])

	// 第二次调用不重复执行
	assert.Zero(t, m.Shutdown(context.Background()))
	assert.Len(t, order, 4)
}

func TestShutdown_CountsFailuresAndTimeout(t *testing.T) {
	m := NewManager()
	m.OnShutdown("broken", func(context.Context) error { return errors.New("boom") })
	m.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	m.OnShutdown("never", func(context.Context) error {
		t.Error("stage after a timeout must not run")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, 3, m.Shutdown(ctx))
}

func TestShutdown_Empty(t *testing.T) {
	assert.Zero(t, NewManager().Shutdown(context.Background()))
}
