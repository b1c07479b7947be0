package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/pkg/sigchan"
)

// 帧类型（数组第一个元素）
const (
	frameAuth    = 1
	frameCommand = 6
	framePing    = 7
)

// ErrMalformed 帧无法解析
var ErrMalformed = errors.New("malformed frame")

// Credentials 鉴权帧所需的账号材料
type Credentials struct {
	Username  string
	Password  string
	Signature string
	Info      json.RawMessage
}

// Frame 待发送的帧，Delay 为握手后延迟发送的时间
type Frame struct {
	Data  []byte
	Delay time.Duration
}

// Kind 入站消息的语义分类
type Kind int

const (
	KindUnknown Kind = iota
	KindHistory
	KindResult
	KindRoundStarted
	KindWagerAck
	KindPot
	KindBalance
)

func (k Kind) String() string {
	switch k {
	case KindHistory:
		return "history"
	case KindResult:
		return "result"
	case KindRoundStarted:
		return "round_started"
	case KindWagerAck:
		return "wager_ack"
	case KindPot:
		return "pot"
	case KindBalance:
		return "balance"
	default:
		return "unknown"
	}
}

// Message 解码后的入站消息
type Message struct {
	Kind    Kind
	Command int
	RoundID string
	Outcome domain.Outcome   // KindResult
	History []domain.Outcome // KindHistory，按时间顺序
	Amount  domain.Money     // KindPot / KindBalance
}

// Codec 一条通道的编解码器。Ping 序号与余额查询标记按通道独立维护。
type Codec struct {
	variant *Variant
	channel ChannelSpec
	interp  Interpreter
	creds   Credentials

	seq     atomic.Int64
	balance *sigchan.Chan
	now     func() time.Time
}

// NewCodec builds the codec for one channel of the variant.
func NewCodec(v *Variant, channel ChannelSpec, creds Credentials) *Codec {
	c := &Codec{
		variant: v,
		channel: channel,
		interp:  v.Interpreter(),
		creds:   creds,
		balance: sigchan.New(1),
		now:     time.Now,
	}
	// 连接后的第一次心跳就查询余额
	c.balance.Emit()
	return c
}

// Channel returns the channel this codec speaks for.
func (c *Codec) Channel() ChannelSpec { return c.channel }

func (c *Codec) encode(frame []any) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		// 帧只包含基础类型
		panic(fmt.Sprintf("protocol: encode frame: %v", err))
	}
	return data
}

// Auth builds the login frame: [1, zone, user, pass, {info, signature, ...}].
func (c *Codec) Auth() ([]byte, error) {
	if c.creds.Username == "" || c.creds.Signature == "" || len(c.creds.Info) == 0 {
		return nil, fmt.Errorf("channel %s: incomplete credentials", c.channel.Name)
	}
	var info bytes.Buffer
	if err := json.Compact(&info, c.creds.Info); err != nil {
		return nil, fmt.Errorf("channel %s: info is not valid json: %w", c.channel.Name, err)
	}
	extra := map[string]any{
		"info":      info.String(),
		"signature": c.creds.Signature,
	}
	for k, v := range c.channel.AuthExtra {
		extra[k] = v
	}
	return c.encode([]any{frameAuth, c.channel.Zone, c.creds.Username, c.creds.Password, extra}), nil
}

// Command builds [6, zone, plugin, {cmd: code, ...fields}].
func (c *Codec) Command(plugin string, code int, fields map[string]any) []byte {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body[c.commandField()] = code
	return c.encode([]any{frameCommand, c.channel.Zone, plugin, body})
}

// Ping builds [7, zone, seq, 0] with a per-channel increasing sequence.
func (c *Codec) Ping() []byte {
	zone := c.channel.PingZone
	if zone == "" {
		zone = c.channel.Zone
	}
	return c.encode([]any{framePing, zone, c.seq.Add(1), 0})
}

// BalanceQuery builds the wallet balance request.
func (c *Codec) BalanceQuery() []byte {
	plugin := c.channel.BalancePlugin
	if plugin == "" {
		plugin = c.channel.Plugin
	}
	return c.Command(plugin, c.variant.Commands.BalanceQuery, nil)
}

// Wager builds the place-wager command.
func (c *Codec) Wager(roundID string, target domain.BetTarget, amount domain.Money) ([]byte, error) {
	_, eid, err := c.variant.ResolveTarget(target)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("wager amount must be positive, got %d", amount)
	}
	f := c.variant.Fields
	fields := map[string]any{
		f.WagerAmount: int64(amount),
		f.WagerTarget: eid,
	}
	if f.WagerRound != "" {
		if roundID == "" {
			return nil, fmt.Errorf("wager needs a round id")
		}
		// 数字局号按数字发送
		if n, err := strconv.ParseInt(roundID, 10, 64); err == nil {
			fields[f.WagerRound] = n
		} else {
			fields[f.WagerRound] = roundID
		}
	}
	for k, v := range f.WagerExtra {
		fields[k] = v
	}
	return c.Command(c.channel.Plugin, c.variant.Commands.PlaceWager, fields), nil
}

// Handshake returns the auth frame followed by the channel's init commands.
func (c *Codec) Handshake() ([]Frame, error) {
	auth, err := c.Auth()
	if err != nil {
		return nil, err
	}
	frames := []Frame{{Data: auth}}
	for _, ic := range c.channel.Init {
		frames = append(frames, Frame{Data: c.Command(c.channel.Plugin, ic.Command, nil), Delay: ic.Delay})
	}
	return frames, nil
}

// Heartbeat returns the frames for one heartbeat tick: a pending balance
// query (wallet channels only) and the ping.
func (c *Codec) Heartbeat() [][]byte {
	frames := make([][]byte, 0, 2)
	if c.channel.PollBalance && c.balance.Take() {
		frames = append(frames, c.BalanceQuery())
	}
	return append(frames, c.Ping())
}

// RequestBalance arms a balance query for the next heartbeat.
func (c *Codec) RequestBalance() {
	c.balance.Emit()
}

func (c *Codec) commandField() string {
	if c.variant.Fields.Command == "" {
		return "cmd"
	}
	return c.variant.Fields.Command
}

// Decode parses an inbound frame. Frames that carry no command object
// decode to KindUnknown without error.
func (c *Codec) Decode(raw []byte) (Message, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payload, code, ok := c.findCommand(frame)
	if !ok {
		return Message{Kind: KindUnknown}, nil
	}
	cmds := c.variant.Commands
	msg := Message{Kind: KindUnknown, Command: code}
	switch {
	case matches(cmds.Result, code):
		o, err := c.outcome(payload)
		if err != nil {
			return msg, fmt.Errorf("%w: result: %v", ErrMalformed, err)
		}
		msg.Kind = KindResult
		msg.Outcome = o
		msg.RoundID = o.RoundID
	case matches(cmds.History, code):
		entries, ok := payload.Objects(c.variant.Fields.History)
		if !ok {
			return msg, fmt.Errorf("%w: history field %q missing", ErrMalformed, c.variant.Fields.History)
		}
		msg.Kind = KindHistory
		for _, e := range entries {
			o, err := c.outcome(e)
			if err != nil {
				continue
			}
			msg.History = append(msg.History, o)
		}
	case matches(cmds.RoundStarted, code):
		msg.Kind = KindRoundStarted
		msg.RoundID, _ = payload.String(c.variant.Fields.RoundID)
	case matches(cmds.WagerAck, code) && c.channel.Wagers:
		msg.Kind = KindWagerAck
	case matches(cmds.Pot, code):
		v, ok := payload.Int(c.variant.Fields.Pot)
		if !ok {
			return msg, fmt.Errorf("%w: pot field %q missing", ErrMalformed, c.variant.Fields.Pot)
		}
		msg.Kind = KindPot
		msg.Amount = domain.Money(v)
	case matches(cmds.Balance, code):
		v, ok := payload.Int(c.variant.Fields.Balance)
		if !ok {
			return msg, fmt.Errorf("%w: balance field %q missing", ErrMalformed, c.variant.Fields.Balance)
		}
		msg.Kind = KindBalance
		msg.Amount = domain.Money(v)
	}
	return msg, nil
}

func matches(code, got int) bool { return code != 0 && code == got }

func (c *Codec) findCommand(frame []json.RawMessage) (Payload, int, bool) {
	field := c.commandField()
	for _, raw := range frame {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		code, ok := p.Int(field)
		if !ok {
			continue
		}
		return p, int(code), true
	}
	return nil, 0, false
}

func (c *Codec) outcome(p Payload) (domain.Outcome, error) {
	src, ok := p.Object(c.variant.Fields.Dice)
	if !ok {
		return domain.Outcome{}, fmt.Errorf("dice field %q missing", c.variant.Fields.Dice)
	}
	n := c.interp.Dice()
	dice := make([]int, 0, n)
	sum := 0
	for i := 1; i <= n; i++ {
		v, ok := src.Int("d" + strconv.Itoa(i))
		if !ok {
			return domain.Outcome{}, fmt.Errorf("die d%d missing", i)
		}
		dice = append(dice, int(v))
		sum += int(v)
	}
	labels, err := c.interp.Classify(dice)
	if err != nil {
		return domain.Outcome{}, err
	}
	round, _ := p.String(c.variant.Fields.RoundID)
	return domain.Outcome{
		RoundID: round,
		Dice:    dice,
		Sum:     sum,
		Labels:  labels,
		At:      c.now(),
	}, nil
}
