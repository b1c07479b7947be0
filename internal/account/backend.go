package account

import (
	"context"
	"errors"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/betbot/dicebot/pkg/persistence"
	"github.com/betbot/dicebot/pkg/secretstore"
)

// FileBackend 明文 JSON 文件（0600）
type FileBackend struct {
	store persistence.Store
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{store: persistence.NewJSONFileService(dir).NewStore("accounts", "book", "v1")}
}

func (f *FileBackend) LoadAll(ctx context.Context) ([]Account, error) {
	var out []Account
	if err := f.store.Load(&out); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return out, nil
}

func (f *FileBackend) SaveAll(ctx context.Context, accounts []Account) error {
	if accounts == nil {
		accounts = []Account{}
	}
	if err := f.store.Save(accounts); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	return nil
}

const vaultPrefix = "account:"

// VaultBackend Badger 加密存储，每个账号一个键
type VaultBackend struct {
	store *secretstore.Store
}

func NewVaultBackend(store *secretstore.Store) *VaultBackend {
	return &VaultBackend{store: store}
}

func (v *VaultBackend) LoadAll(ctx context.Context) ([]Account, error) {
	values, keys, err := v.store.Scan(vaultPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan accounts: %w", err)
	}
	out := make([]Account, 0, len(keys))
	for _, k := range keys {
		var a Account
		if err := json.Unmarshal(values[k], &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *VaultBackend) SaveAll(ctx context.Context, accounts []Account) error {
	_, keys, err := v.store.Scan(vaultPrefix)
	if err != nil {
		return fmt.Errorf("scan accounts: %w", err)
	}
	keep := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		key := vaultPrefix + a.ID
		keep[key] = true
		if err := v.store.Set(key, data); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
	}
	for _, k := range keys {
		if !keep[k] {
			if err := v.store.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
	}
	return nil
}
