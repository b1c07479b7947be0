package main

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/betbot/dicebot/internal/account"
	"github.com/betbot/dicebot/internal/protocol"
	"github.com/betbot/dicebot/internal/rules"
	"github.com/betbot/dicebot/internal/session"
	"github.com/betbot/dicebot/pkg/config"
	"github.com/betbot/dicebot/pkg/secretstore"
)

// openBook 按 account_store 打开账户簿，返回的 close 用于释放底层存储
func openBook(cfg *config.Config) (*account.Book, func() error, error) {
	switch cfg.AccountStore {
	case "vault":
		key, err := secretstore.ParseKey(cfg.VaultKey)
		if err != nil {
			return nil, nil, errors.Wrap(err, "解析 VAULT_KEY")
		}
		store, err := secretstore.Open(secretstore.OpenOptions{
			Path:          filepath.Join(cfg.DataDir, "vault"),
			EncryptionKey: key,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "打开加密账户库")
		}
		return account.NewBook(account.NewVaultBackend(store)), store.Close, nil
	default:
		backend := account.NewFileBackend(filepath.Join(cfg.DataDir, "persistence"))
		return account.NewBook(backend), func() error { return nil }, nil
	}
}

// loadVariant 内置玩法 + 可选的协议表覆盖
func loadVariant(cfg *config.Config) (*protocol.Variant, error) {
	variants, err := protocol.LoadVariants(cfg.ProtocolFile)
	if err != nil {
		return nil, err
	}
	variant, ok := variants[cfg.Game]
	if !ok {
		return nil, errors.Errorf("未知的玩法: %s", cfg.Game)
	}
	if err := variant.Validate(); err != nil {
		return nil, errors.Wrapf(err, "玩法 %s 协议表无效", cfg.Game)
	}
	return variant, nil
}

// newRulesStore 规则文件按当前玩法校验下注目标与通道
func newRulesStore(cfg *config.Config, variant *protocol.Variant) *rules.Store {
	return rules.NewStore(cfg.RulesFile, rules.WithValidator(session.RuleValidator(variant)))
}
