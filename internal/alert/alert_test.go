package alert

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	text := Format(Alert{
		Severity: SeverityWarning,
		Title:    "Balance <low>",
		Body:     "check wallet",
		Metadata: map[string]string{"wallet": "1.000 đ", "bet": "2.000 đ"},
	})
	assert.Contains(t, text, "<b>Balance &lt;low&gt;</b>")
	assert.Contains(t, text, "check wallet")
	assert.Less(t, strings.Index(text, "bet"), strings.Index(text, "wallet"))
}

func TestTelegram_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "TOKEN", ChatID: "99", BaseURL: srv.URL})
	require.NoError(t, tg.Send(context.Background(), Alert{Severity: SeverityError, Title: "down"}))
	assert.Equal(t, "99", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestTelegram_SendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "TOKEN", ChatID: "1", BaseURL: srv.URL})
	err := tg.Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	err = NewTelegram(TelegramConfig{}).Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}

type failingSender struct{ calls chan struct{} }

func (f failingSender) Send(ctx context.Context, a Alert) error {
	f.calls <- struct{}{}
	return errors.New("boom")
}

func TestNotify_NeverBlocks(t *testing.T) {
	f := failingSender{calls: make(chan struct{}, 1)}
	Notify(f, Alert{Title: "x"})
	select {
	case <-f.calls:
	case <-time.After(time.Second):
		t.Fatal("sender was not called")
	}

	Notify(nil, Alert{Title: "dropped"})

	rec := &Recorder{}
	Notify(rec, Alert{Title: "a"})
	assert.Eventually(t, func() bool { return rec.Count("a") == 1 }, time.Second, 10*time.Millisecond)
}
