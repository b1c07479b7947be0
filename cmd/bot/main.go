package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/betbot/dicebot/pkg/config"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "dicebot",
	Short: "Pattern-driven dice game betting agent",
	Long: `dicebot keeps a game socket and a wallet socket open for one account,
tracks recent round outcomes and places wagers when a configured pattern
matches.

Commands:
  run       start the agent (optionally with the HTTP control plane)
  account   manage stored accounts
  rules     inspect or edit the rule document`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "环境变量文件（不存在则忽略）")
}

// loadConfig 读取 .env 后加载配置
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("加载 %s 失败: %w", envFile, err)
			}
		}
	}
	return config.Load(cfgFile)
}
