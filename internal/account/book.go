package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/dicebot/pkg/logger"
)

// Backend 账号持久化后端
type Backend interface {
	LoadAll(ctx context.Context) ([]Account, error)
	SaveAll(ctx context.Context, accounts []Account) error
}

// Book 账号簿：增删、选择、读取选中账号。同一时刻最多一个 Selected。
type Book struct {
	mu      sync.Mutex
	backend Backend
	now     func() time.Time
}

func NewBook(backend Backend) *Book {
	return &Book{backend: backend, now: time.Now}
}

// List returns every stored account.
func (b *Book) List(ctx context.Context) ([]Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backend.LoadAll(ctx)
}

// Add stores a new account and returns it with its assigned id.
// Usernames are unique.
func (b *Book) Add(ctx context.Context, a Account) (Account, error) {
	if strings.TrimSpace(a.Username) == "" {
		return Account{}, errors.New("username is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.backend.LoadAll(ctx)
	if err != nil {
		return Account{}, err
	}
	for _, existing := range all {
		if strings.EqualFold(existing.Username, a.Username) {
			return Account{}, fmt.Errorf("account %q already exists", a.Username)
		}
	}
	a.ID = uuid.NewString()
	a.Selected = false
	if a.CreatedAt.IsZero() {
		a.CreatedAt = b.now()
	}
	all = append(all, a)
	if err := b.backend.SaveAll(ctx, all); err != nil {
		return Account{}, err
	}
	logger.Infof("添加账号: %s (%s)", a.Label(), a.ID)
	return a, nil
}

// find matches by id, id prefix, name or username.
func find(all []Account, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, ErrNotFound
	}
	match := -1
	for i, a := range all {
		if a.ID == ref || strings.EqualFold(a.Name, ref) || strings.EqualFold(a.Username, ref) {
			return i, nil
		}
		if len(ref) >= 4 && strings.HasPrefix(a.ID, ref) {
			if match >= 0 {
				return -1, fmt.Errorf("ambiguous account reference %q", ref)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return match, nil
}

// Select marks one account as selected and clears the others.
func (b *Book) Select(ctx context.Context, ref string) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.backend.LoadAll(ctx)
	if err != nil {
		return Account{}, err
	}
	idx, err := find(all, ref)
	if err != nil {
		return Account{}, err
	}
	for i := range all {
		all[i].Selected = i == idx
	}
	if err := b.backend.SaveAll(ctx, all); err != nil {
		return Account{}, err
	}
	logger.Infof("选中账号: %s", all[idx].Label())
	return all[idx], nil
}

// Delete removes an account.
func (b *Book) Delete(ctx context.Context, ref string) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.backend.LoadAll(ctx)
	if err != nil {
		return Account{}, err
	}
	idx, err := find(all, ref)
	if err != nil {
		return Account{}, err
	}
	removed := all[idx]
	all = append(all[:idx], all[idx+1:]...)
	if err := b.backend.SaveAll(ctx, all); err != nil {
		return Account{}, err
	}
	logger.Infof("删除账号: %s", removed.Label())
	return removed, nil
}

// Selected returns the selected account or ErrNoUserSelected.
func (b *Book) Selected(ctx context.Context) (*Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.backend.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Selected {
			a := all[i]
			return &a, nil
		}
	}
	return nil, ErrNoUserSelected
}
