package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/betbot/dicebot/internal/alert"
	"github.com/betbot/dicebot/internal/connection"
	"github.com/betbot/dicebot/internal/controlplane"
	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/internal/recorder"
	"github.com/betbot/dicebot/internal/session"
	"github.com/betbot/dicebot/pkg/config"
	"github.com/betbot/dicebot/pkg/logger"
	"github.com/betbot/dicebot/pkg/shutdown"
)

const gracefulShutdownPeriod = 10 * time.Second

var runIdle bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Long: `Start the agent for the selected account.

Without a control plane address the session starts immediately and the
process exits when it stops. With GOBET_CONTROL_ADDR (or control_addr) set
the session is driven over HTTP and the process runs until signalled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logger.Init(logger.Config{
			Level:      cfg.LogLevel,
			OutputFile: cfg.LogFile,
			MaxSize:    100, // 100MB
			MaxBackups: 3,
			MaxAge:     7, // 7天
			Compress:   true,
		}); err != nil {
			return fmt.Errorf("初始化日志失败: %w", err)
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runIdle, "idle", false, "有控制面时不自动启动会话")
	rootCmd.AddCommand(runCmd)
}

func run(parent context.Context, cfg *config.Config) error {
	variant, err := loadVariant(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	shutdowns := shutdown.NewManager()

	// 规则文件：加载失败不致命，启动会话时会再次校验
	store := newRulesStore(cfg, variant)
	if _, err := store.Load(); err != nil {
		logrus.Warnf("规则文件暂不可用: %v", err)
	}
	if err := store.Watch(ctx); err != nil {
		logrus.Warnf("规则文件热更新未启用: %v", err)
	}

	book, closeBook, err := openBook(cfg)
	if err != nil {
		return err
	}

	var sender alert.Sender = alert.Noop{}
	if cfg.Telegram.Enabled() {
		sender = alert.NewTelegram(alert.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			ProxyURL: cfg.Proxy.URL(),
		})
		logrus.Infof("Telegram 告警已启用: chat=%s", cfg.Telegram.ChatID)
	} else {
		logrus.Warn("未配置 Telegram，告警只写日志")
	}

	var rec recorder.Recorder = recorder.Noop{}
	if cfg.RecorderDB != "" {
		db, err := recorder.Open(cfg.RecorderDB)
		if err != nil {
			_ = closeBook()
			return err
		}
		rec = db
		logrus.Infof("对局记录写入: %s", cfg.RecorderDB)
	}

	manager := session.NewManager(book, session.Deps{
		Variant:  variant,
		Rules:    store,
		Alerts:   sender,
		Recorder: rec,
		Policy: connection.Policy{
			MaxAttempts:       cfg.Reconnect.MaxAttempts,
			Delay:             cfg.Reconnect.Delay(),
			ZombieDelay:       cfg.Reconnect.ZombieDelay(),
			ZombieAlertEvery:  cfg.Reconnect.ZombieAlertEvery,
			HeartbeatInterval: cfg.Reconnect.Heartbeat(),
		},
		ProxyURL: cfg.Proxy.URL(),
		Wallet: session.WalletWatch{
			Schedule:  cfg.WalletAlert.Schedule,
			Threshold: domain.Money(cfg.WalletAlert.Threshold),
		},
	})

	// 关闭顺序：会话 -> 控制面 -> 存储
	shutdowns.OnShutdown("session", func(context.Context) error {
		return manager.Shutdown()
	})

	var server *controlplane.Server
	if cfg.ControlAddr != "" {
		server = controlplane.New(controlplane.Config{Addr: cfg.ControlAddr}, manager, store)
		go func() {
			if err := server.ListenAndServe(); err != nil {
				logrus.Errorf("控制面退出: %v", err)
				cancel()
			}
		}()
		shutdowns.OnShutdown("controlplane", server.Shutdown)
	}

	shutdowns.OnShutdown("rules", func(context.Context) error { return store.Close() })
	shutdowns.Alongside("accounts", func(context.Context) error { return closeBook() })
	shutdowns.Alongside("recorder", func(context.Context) error { return rec.Close() })

	if server == nil || !runIdle {
		status, err := manager.StartSession(ctx)
		if err != nil {
			logrus.Errorf("启动会话失败: %v", err)
			if server == nil {
				shutdownAll(shutdowns)
				return err
			}
		} else {
			logrus.Infof("会话已启动: id=%s account=%s variant=%s", status.ID, status.Account, status.Variant)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if server == nil {
		// 无控制面：会话结束即退出
		sessionDone := make(chan struct{})
		go func() {
			manager.Wait(ctx)
			close(sessionDone)
		}()
		select {
		case sig := <-sigChan:
			logrus.Infof("收到信号 %s，开始关闭", sig)
		case <-sessionDone:
			if st, err := manager.Status(); err == nil {
				logrus.Infof("会话已结束: reason=%s", st.StopReason)
			}
		}
	} else {
		select {
		case sig := <-sigChan:
			logrus.Infof("收到信号 %s，开始关闭", sig)
		case <-ctx.Done():
		}
	}

	if failed := shutdownAll(shutdowns); failed > 0 {
		return fmt.Errorf("%d 个组件关闭失败", failed)
	}
	return nil
}

func shutdownAll(m *shutdown.Manager) int {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	return m.Shutdown(ctx)
}
