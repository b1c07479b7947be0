// Package account keeps the game accounts the agent can log in with and
// which one is selected.
package account

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/betbot/dicebot/internal/protocol"
)

// ErrNoUserSelected 没有选中的账号
var ErrNoUserSelected = errors.New("no user selected")

// ErrNotFound 账号不存在
var ErrNotFound = errors.New("account not found")

// MissingCredentialsError 选中的账号缺少鉴权材料
type MissingCredentialsError struct {
	Account string
	Fields  []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("account %q is missing credentials: %s", e.Account, strings.Join(e.Fields, ", "))
}

// RequiredInfoKeys info 对象必须包含的键
var RequiredInfoKeys = []string{"ipAddress", "userId", "username", "timestamp", "refreshToken"}

// Account 一个游戏账号
type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Username  string          `json:"username"`
	Password  string          `json:"password"`
	Signature string          `json:"signature"`
	Info      json.RawMessage `json:"info,omitempty"`
	Selected  bool            `json:"selected"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Label is the display name used in logs and alerts.
func (a *Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}

// Validate reports every missing credential at once.
func (a *Account) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(a.Signature) == "" {
		missing = append(missing, "signature")
	}
	info := bytes.TrimSpace(a.Info)
	if len(info) == 0 || string(info) == "null" || string(info) == "{}" {
		missing = append(missing, "info")
	}
	if len(missing) > 0 {
		return &MissingCredentialsError{Account: a.Label(), Fields: missing}
	}
	return nil
}

// Credentials converts the account for the auth frame.
func (a *Account) Credentials() protocol.Credentials {
	return protocol.Credentials{
		Username:  a.Username,
		Password:  a.Password,
		Signature: a.Signature,
		Info:      a.Info,
	}
}

// ParseAuthFrame builds an account from a captured login frame:
// [1, zone, username, password, {info, signature, ...}]. info may be an
// object or a JSON-encoded string and must carry RequiredInfoKeys.
func ParseAuthFrame(raw string) (Account, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &frame); err != nil {
		return Account{}, fmt.Errorf("auth frame is not a json array: %w", err)
	}
	if len(frame) < 5 {
		return Account{}, fmt.Errorf("auth frame needs 5 elements, got %d", len(frame))
	}
	var username, password string
	if err := json.Unmarshal(frame[2], &username); err != nil {
		return Account{}, fmt.Errorf("auth frame username: %w", err)
	}
	if err := json.Unmarshal(frame[3], &password); err != nil {
		return Account{}, fmt.Errorf("auth frame password: %w", err)
	}
	var body struct {
		Info      json.RawMessage `json:"info"`
		Signature *string         `json:"signature"`
	}
	if err := json.Unmarshal(frame[4], &body); err != nil {
		return Account{}, fmt.Errorf("auth frame body: %w", err)
	}
	if len(body.Info) == 0 {
		return Account{}, errors.New("auth frame body is missing 'info'")
	}
	if body.Signature == nil {
		return Account{}, errors.New("auth frame body is missing 'signature'")
	}

	info := bytes.TrimSpace(body.Info)
	if len(info) > 0 && info[0] == '"' {
		var s string
		if err := json.Unmarshal(info, &s); err != nil {
			return Account{}, fmt.Errorf("info: %w", err)
		}
		info = []byte(s)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(info, &fields); err != nil {
		return Account{}, fmt.Errorf("info is not a valid json object: %w", err)
	}
	for _, k := range RequiredInfoKeys {
		if _, ok := fields[k]; !ok {
			return Account{}, fmt.Errorf("info is missing %q", k)
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, info); err != nil {
		return Account{}, err
	}
	return Account{
		Name:      username,
		Username:  username,
		Password:  password,
		Signature: *body.Signature,
		Info:      json.RawMessage(compact.Bytes()),
	}, nil
}
