package alert

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/dicebot/pkg/logger"
	"github.com/betbot/dicebot/pkg/ratelimit"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig Telegram 机器人配置
type TelegramConfig struct {
	BotToken string
	ChatID   string
	ProxyURL string
	BaseURL  string // 测试时替换 API 地址
}

// Telegram 通过 Bot API 发送告警
type Telegram struct {
	client  *resty.Client
	cfg     TelegramConfig
	limiter *ratelimit.TokenBucket
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(20 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)
	if cfg.ProxyURL != "" {
		client.SetProxy(cfg.ProxyURL)
		logger.Infof("Telegram 告警使用代理: %s", cfg.ProxyURL)
	}
	// 同一个 chat 大约每秒一条，允许少量突发
	limiter := ratelimit.NewTokenBucket(3, time.Second)
	return &Telegram{client: client, cfg: cfg, limiter: limiter}
}

func (t *Telegram) Send(ctx context.Context, a Alert) error {
	if t.cfg.BotToken == "" || t.cfg.ChatID == "" {
		return errors.New("telegram bot token and chat id are required")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "telegram rate limit")
	}
	var out telegramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"chat_id":    t.cfg.ChatID,
			"text":       Format(a),
			"parse_mode": "HTML",
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + t.cfg.BotToken + "/sendMessage")
	if err != nil {
		return errors.Wrap(err, "telegram sendMessage")
	}
	if resp.IsError() || !out.OK {
		return errors.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}
