package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 所有环境变量覆盖项的前缀
const EnvPrefix = "GOBET_"

// ProxyConfig 代理配置
type ProxyConfig struct {
	Host string
	Port int
}

// URL returns the proxy as http://host:port.
func (p *ProxyConfig) URL() string {
	if p == nil || p.Host == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// ReconnectConfig 断线重连参数
type ReconnectConfig struct {
	MaxAttempts      int // 有限重连次数，默认 5
	DelaySeconds     int // 每次重连前等待（秒），默认 5
	ZombieDelayMin   int // 僵尸模式重试间隔（分钟），默认 5
	ZombieAlertEvery int // 僵尸模式每 N 次连续失败告警一次，默认 3
	HeartbeatSeconds int // 心跳间隔（秒），默认 5
}

func (r ReconnectConfig) Delay() time.Duration { return time.Duration(r.DelaySeconds) * time.Second }
func (r ReconnectConfig) ZombieDelay() time.Duration {
	return time.Duration(r.ZombieDelayMin) * time.Minute
}
func (r ReconnectConfig) Heartbeat() time.Duration {
	return time.Duration(r.HeartbeatSeconds) * time.Second
}

// TelegramConfig 告警机器人
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Enabled reports whether alerts can be delivered.
func (t TelegramConfig) Enabled() bool { return t.BotToken != "" && t.ChatID != "" }

// WalletAlertConfig 低余额提醒
type WalletAlertConfig struct {
	Schedule  string // cron 表达式，例如 "@every 10m"；为空则关闭
	Threshold int64
}

// Config 应用配置
type Config struct {
	Game         string // 玩法：taixiu | shakedisk
	RulesFile    string // 规则文件（rule.json / rule.yaml）
	ProtocolFile string // 可选，协议表覆盖
	DataDir      string
	AccountStore string // file | vault
	VaultKey     string // vault 模式的 32 字节密钥（hex 或 base64）
	RecorderDB   string // sqlite 审计库，为空则不记录
	Proxy        *ProxyConfig
	Reconnect    ReconnectConfig
	Telegram     TelegramConfig
	WalletAlert  WalletAlertConfig
	ControlAddr  string // 控制面监听地址，为空则不启动
	LogLevel     string
	LogFile      string
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Game         string `yaml:"game" json:"game"`
	RulesFile    string `yaml:"rules_file" json:"rules_file"`
	ProtocolFile string `yaml:"protocol_file" json:"protocol_file"`
	DataDir      string `yaml:"data_dir" json:"data_dir"`
	AccountStore string `yaml:"account_store" json:"account_store"`
	RecorderDB   string `yaml:"recorder_db" json:"recorder_db"`
	Proxy        struct {
		Host string `yaml:"host" json:"host"`
		Port int    `yaml:"port" json:"port"`
	} `yaml:"proxy" json:"proxy"`
	Reconnect struct {
		MaxAttempts      int `yaml:"max_attempts" json:"max_attempts"`
		DelaySeconds     int `yaml:"delay_seconds" json:"delay_seconds"`
		ZombieDelayMin   int `yaml:"zombie_delay_minutes" json:"zombie_delay_minutes"`
		ZombieAlertEvery int `yaml:"zombie_alert_every" json:"zombie_alert_every"`
		HeartbeatSeconds int `yaml:"heartbeat_seconds" json:"heartbeat_seconds"`
	} `yaml:"reconnect" json:"reconnect"`
	Telegram struct {
		BotToken string `yaml:"bot_token" json:"bot_token"`
		ChatID   string `yaml:"chat_id" json:"chat_id"`
	} `yaml:"telegram" json:"telegram"`
	WalletAlert struct {
		Schedule  string `yaml:"schedule" json:"schedule"`
		Threshold int64  `yaml:"threshold" json:"threshold"`
	} `yaml:"wallet_alert" json:"wallet_alert"`
	ControlAddr string `yaml:"control_addr" json:"control_addr"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFile     string `yaml:"log_file" json:"log_file"`
}

// Load 加载配置（优先级：环境变量 > 配置文件 > 默认值）。filePath 为空时只用环境变量和默认值。
func Load(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	cfg := &Config{
		Game:         getString("GAME", cf.Game, "taixiu"),
		RulesFile:    getString("RULES_FILE", cf.RulesFile, "rule.json"),
		ProtocolFile: getString("PROTOCOL_FILE", cf.ProtocolFile, ""),
		DataDir:      getString("DATA_DIR", cf.DataDir, "data"),
		AccountStore: strings.ToLower(getString("ACCOUNT_STORE", cf.AccountStore, "file")),
		VaultKey:     getEnv("VAULT_KEY", ""),
		RecorderDB:   getString("RECORDER_DB", cf.RecorderDB, ""),
		Reconnect: ReconnectConfig{
			MaxAttempts:      getInt("RECONNECT_MAX_ATTEMPTS", cf.Reconnect.MaxAttempts, 5),
			DelaySeconds:     getInt("RECONNECT_DELAY_SECONDS", cf.Reconnect.DelaySeconds, 5),
			ZombieDelayMin:   getInt("ZOMBIE_DELAY_MINUTES", cf.Reconnect.ZombieDelayMin, 5),
			ZombieAlertEvery: getInt("ZOMBIE_ALERT_EVERY", cf.Reconnect.ZombieAlertEvery, 3),
			HeartbeatSeconds: getInt("HEARTBEAT_SECONDS", cf.Reconnect.HeartbeatSeconds, 5),
		},
		Telegram: TelegramConfig{
			BotToken: getString("TELEGRAM_BOT_TOKEN", cf.Telegram.BotToken, ""),
			ChatID:   getString("TELEGRAM_CHAT_ID", cf.Telegram.ChatID, ""),
		},
		WalletAlert: WalletAlertConfig{
			Schedule:  getString("WALLET_ALERT_SCHEDULE", cf.WalletAlert.Schedule, ""),
			Threshold: int64(getInt("WALLET_ALERT_THRESHOLD", int(cf.WalletAlert.Threshold), 0)),
		},
		ControlAddr: getString("CONTROL_ADDR", cf.ControlAddr, ""),
		LogLevel:    getString("LOG_LEVEL", cf.LogLevel, "info"),
		LogFile:     getString("LOG_FILE", cf.LogFile, "logs/game.log"),
	}
	cfg.Proxy = parseProxy(cf)

	// 相对路径按配置文件所在目录解析
	if filePath != "" {
		base := filepath.Dir(filePath)
		cfg.RulesFile = resolve(base, cfg.RulesFile)
		cfg.ProtocolFile = resolve(base, cfg.ProtocolFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &configFile, nil
}

// parseProxy 代理：GOBET_PROXY (http://host:port) > 配置文件 > 无
func parseProxy(cf *ConfigFile) *ProxyConfig {
	if raw := getEnv("PROXY", ""); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return nil
		}
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil
		}
		return &ProxyConfig{Host: u.Hostname(), Port: port}
	}
	if cf.Proxy.Host != "" {
		return &ProxyConfig{Host: cf.Proxy.Host, Port: cf.Proxy.Port}
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Game == "" {
		return fmt.Errorf("game 未配置")
	}
	if c.RulesFile == "" {
		return fmt.Errorf("rules_file 未配置")
	}
	switch c.AccountStore {
	case "file":
	case "vault":
		if c.VaultKey == "" {
			return fmt.Errorf("account_store=vault 需要设置 %sVAULT_KEY", EnvPrefix)
		}
	default:
		return fmt.Errorf("未知的 account_store: %s (支持 file, vault)", c.AccountStore)
	}
	if c.Proxy != nil && (c.Proxy.Port <= 0 || c.Proxy.Port > 65535) {
		return fmt.Errorf("代理端口无效: %d", c.Proxy.Port)
	}
	r := c.Reconnect
	if r.MaxAttempts <= 0 || r.DelaySeconds <= 0 || r.ZombieDelayMin <= 0 || r.ZombieAlertEvery <= 0 || r.HeartbeatSeconds <= 0 {
		return fmt.Errorf("reconnect 参数必须大于 0: %+v", r)
	}
	if c.WalletAlert.Schedule != "" && c.WalletAlert.Threshold <= 0 {
		return fmt.Errorf("wallet_alert.threshold 必须大于 0")
	}
	return nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// getEnv 获取带前缀的环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getString(key, fileValue, defaultValue string) string {
	if fileValue != "" {
		defaultValue = fileValue
	}
	return getEnv(key, defaultValue)
}

// getInt 环境变量无效时回退到配置文件/默认值
func getInt(key string, fileValue, defaultValue int) int {
	if fileValue != 0 {
		defaultValue = fileValue
	}
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
