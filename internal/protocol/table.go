// Package protocol describes the game server's wire protocol: command codes,
// field names and channels live in a Variant table so a new game only needs
// configuration plus an outcome interpreter.
package protocol

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/dicebot/internal/domain"
)

// Commands 服务器命令号。0 表示该玩法没有这条命令。
type Commands struct {
	History      int `yaml:"history"`
	Result       int `yaml:"result"`
	RoundStarted int `yaml:"round_started"`
	WagerAck     int `yaml:"wager_ack"`
	Pot          int `yaml:"pot"`
	Balance      int `yaml:"balance"`
	PlaceWager   int `yaml:"place_wager"`
	BalanceQuery int `yaml:"balance_query"`
}

// Fields 负载中的字段名。支持点号路径，如 "As.gold"。
type Fields struct {
	Command     string         `yaml:"command"`
	RoundID     string         `yaml:"round_id"`
	Pot         string         `yaml:"pot"`
	Balance     string         `yaml:"balance"`
	History     string         `yaml:"history"`
	Dice        string         `yaml:"dice"` // 为空时骰子在负载顶层 (d1, d2, ...)
	WagerAmount string         `yaml:"wager_amount"`
	WagerTarget string         `yaml:"wager_target"`
	WagerRound  string         `yaml:"wager_round"` // 为空时下注帧不带局号
	WagerExtra  map[string]any `yaml:"wager_extra"`
}

// InitCommand 握手后发送的初始化命令
type InitCommand struct {
	Command int           `yaml:"command"`
	Delay   time.Duration `yaml:"delay"`
}

// ChannelSpec 一条 websocket 通道
type ChannelSpec struct {
	Name          string         `yaml:"name"`
	URL           string         `yaml:"url"`
	Zone          string         `yaml:"zone"`
	PingZone      string         `yaml:"ping_zone"`
	Plugin        string         `yaml:"plugin"`
	BalancePlugin string         `yaml:"balance_plugin"`
	AuthExtra     map[string]any `yaml:"auth_extra"`
	Init          []InitCommand  `yaml:"init"`
	Wagers        bool           `yaml:"wagers"`       // 下注从这条通道发出
	PollBalance   bool           `yaml:"poll_balance"` // 心跳时顺带查询余额
}

// Delay 下注前的随机等待区间
type Delay struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Variant 一个玩法的完整协议表
type Variant struct {
	Name     string         `yaml:"name"`
	Kind     string         `yaml:"interpreter"`
	Commands Commands       `yaml:"commands"`
	Fields   Fields         `yaml:"fields"`
	Channels []ChannelSpec  `yaml:"channels"`
	Targets  map[string]int `yaml:"targets"`
	BetDelay Delay          `yaml:"bet_delay"`
}

// Validate checks the table for values the codec relies on.
func (v *Variant) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("variant name is required")
	}
	if _, err := v.interpreter(); err != nil {
		return err
	}
	if len(v.Channels) == 0 {
		return fmt.Errorf("variant %s: no channels", v.Name)
	}
	wagers := 0
	for _, ch := range v.Channels {
		if ch.Name == "" || ch.URL == "" {
			return fmt.Errorf("variant %s: channel name and url are required", v.Name)
		}
		if ch.Wagers {
			wagers++
		}
	}
	if wagers != 1 {
		return fmt.Errorf("variant %s: exactly one channel must carry wagers, got %d", v.Name, wagers)
	}
	if v.Commands.Result == 0 || v.Commands.PlaceWager == 0 {
		return fmt.Errorf("variant %s: result and place_wager commands are required", v.Name)
	}
	if len(v.Targets) == 0 {
		return fmt.Errorf("variant %s: no targets", v.Name)
	}
	if v.BetDelay.Min < 0 || v.BetDelay.Max < v.BetDelay.Min {
		return fmt.Errorf("variant %s: invalid bet delay %s..%s", v.Name, v.BetDelay.Min, v.BetDelay.Max)
	}
	return nil
}

// Interpreter returns the outcome interpreter configured for the variant.
func (v *Variant) Interpreter() Interpreter {
	in, _ := v.interpreter()
	return in
}

func (v *Variant) interpreter() (Interpreter, error) {
	switch v.Kind {
	case "taixiu":
		return TaiXiu{}, nil
	case "shakedisk":
		return ShakeDisk{}, nil
	default:
		return nil, fmt.Errorf("variant %s: unknown interpreter %q", v.Name, v.Kind)
	}
}

// ResolveTarget maps a rule's betOn value to the canonical target name and
// the server's entry id. Both names ("TAI") and ids ("1") are accepted.
func (v *Variant) ResolveTarget(t domain.BetTarget) (string, int, error) {
	s := strings.ToUpper(strings.TrimSpace(string(t)))
	if id, ok := v.Targets[s]; ok {
		return s, id, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		for name, id := range v.Targets {
			if id == n {
				return name, id, nil
			}
		}
	}
	return "", 0, fmt.Errorf("variant %s: unknown bet target %q", v.Name, string(t))
}

// TargetNames lists the accepted target names, sorted.
func (v *Variant) TargetNames() []string {
	out := make([]string, 0, len(v.Targets))
	for name := range v.Targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtin returns fresh copies of the built-in variants keyed by name.
func Builtin() map[string]*Variant {
	return map[string]*Variant{
		"taixiu":    taiXiuVariant(),
		"shakedisk": shakeDiskVariant(),
	}
}

func taiXiuVariant() *Variant {
	return &Variant{
		Name: "taixiu",
		Kind: "taixiu",
		Commands: Commands{
			History:      2000,
			Result:       2006,
			RoundStarted: 2005,
			WagerAck:     2002,
			Pot:          2011,
			Balance:      310,
			PlaceWager:   2002,
			BalanceQuery: 310,
		},
		Fields: Fields{
			Command:     "cmd",
			RoundID:     "sid",
			Pot:         "J",
			Balance:     "As.gold",
			History:     "htr",
			WagerAmount: "b",
			WagerTarget: "eid",
			WagerRound:  "sid",
			WagerExtra:  map[string]any{"aid": 1},
		},
		Channels: []ChannelSpec{
			{
				Name:     "game",
				URL:      "wss://websocket.mangee.io/websocket",
				Zone:     "MiniGame",
				PingZone: "Simms",
				Plugin:   "taixiuUnbalancedPlugin",
				Init: []InitCommand{
					{Command: 2000},
					{Command: 2000, Delay: 200 * time.Millisecond},
				},
				Wagers: true,
			},
			{
				Name:          "wallet",
				URL:           "wss://websocket.mangee.io/websocket2",
				Zone:          "Simms",
				PingZone:      "Simms",
				BalancePlugin: "channelPlugin",
				AuthExtra:     map[string]any{"pid": 4, "subi": true},
				PollBalance:   true,
			},
		},
		Targets:  map[string]int{"TAI": 1, "XIU": 2},
		BetDelay: Delay{Min: 10 * time.Second, Max: 30 * time.Second},
	}
}

func shakeDiskVariant() *Variant {
	return &Variant{
		Name: "shakedisk",
		Kind: "shakedisk",
		Commands: Commands{
			Result:       907,
			RoundStarted: 904,
			WagerAck:     900,
			Pot:          207,
			Balance:      310,
			PlaceWager:   900,
			BalanceQuery: 310,
		},
		Fields: Fields{
			Command:     "cmd",
			RoundID:     "gid",
			Pot:         "ba",
			Balance:     "As.gold",
			Dice:        "dice",
			WagerAmount: "v",
			WagerTarget: "eid",
		},
		Channels: []ChannelSpec{
			{
				Name:          "game",
				URL:           "wss://ws-xdcm.atpman.net/websocket",
				Zone:          "ShakeDisk",
				PingZone:      "ShakeDisk",
				Plugin:        "SD_ConMucPlugin",
				BalancePlugin: "channelPlugin",
				AuthExtra:     map[string]any{"pid": 4, "subi": true},
				Init:          []InitCommand{{Command: 1950, Delay: time.Second}},
				Wagers:        true,
				PollBalance:   true,
			},
		},
		Targets: map[string]int{
			"RED_4":          0,
			"RED_3_YELLOW_1": 1,
			"CHAN":           2,
			"LE":             3,
			"YELLOW_4":       4,
			"YELLOW_3_RED_1": 5,
		},
		BetDelay: Delay{Min: 5 * time.Second, Max: 20 * time.Second},
	}
}

// LoadVariants reads a YAML file of variant overrides and merges it over the
// built-ins. Keys present in the file replace the built-in value; a variant
// unknown to the built-ins must be complete.
func LoadVariants(path string) (map[string]*Variant, error) {
	variants := Builtin()
	if path == "" {
		return variants, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol table: %w", err)
	}
	var doc struct {
		Variants map[string]yaml.Node `yaml:"variants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse protocol table: %w", err)
	}
	for name, node := range doc.Variants {
		v, ok := variants[name]
		if !ok {
			v = &Variant{Name: name}
		}
		// 在内置值之上解码，只覆盖文件里出现的键
		if err := node.Decode(v); err != nil {
			return nil, fmt.Errorf("variant %s: %w", name, err)
		}
		if v.Name == "" {
			v.Name = name
		}
		if err := v.Validate(); err != nil {
			return nil, err
		}
		variants[name] = v
	}
	return variants, nil
}
