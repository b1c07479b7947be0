// Package alert delivers operator notifications (Telegram) without ever
// blocking the betting path.
package alert

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/betbot/dicebot/pkg/logger"
)

// Severity 告警级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func (s Severity) icon() string {
	switch s {
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "🚨"
	default:
		return "ℹ️"
	}
}

// Alert 一条告警
type Alert struct {
	Severity Severity
	Title    string
	Body     string
	Metadata map[string]string
}

// Sender 告警通道
type Sender interface {
	Send(ctx context.Context, a Alert) error
}

// SendTimeout bounds one fire-and-forget delivery.
const SendTimeout = 30 * time.Second

// Notify sends the alert in the background; failures are only logged.
// A nil sender drops the alert.
func Notify(sender Sender, a Alert) {
	if sender == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		defer cancel()
		if err := sender.Send(ctx, a); err != nil {
			logger.Warnf("发送告警失败 [%s]: %v", a.Title, err)
		}
	}()
}

// Format renders the alert as Telegram HTML.
func Format(a Alert) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>%s</b>\n", a.Severity.icon(), html.EscapeString(a.Title)))
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(a.Body))
		b.WriteString("\n")
	}
	if len(a.Metadata) > 0 {
		keys := make([]string, 0, len(a.Metadata))
		for k := range a.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("• <b>%s</b>: %s\n", html.EscapeString(k), html.EscapeString(a.Metadata[k])))
		}
	}
	b.WriteString(fmt.Sprintf("\n<i>%s</i>", time.Now().Format("2006-01-02 15:04:05")))
	return b.String()
}

// Noop 丢弃所有告警（未配置 Telegram 时使用）
type Noop struct{}

func (Noop) Send(ctx context.Context, a Alert) error {
	logger.Debugf("告警(未发送): %s", a.Title)
	return nil
}

// Recorder keeps every alert in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Send(ctx context.Context, a Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// Count returns how many recorded alerts have the given title.
func (r *Recorder) Count(title string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Title == title {
			n++
		}
	}
	return n
}
