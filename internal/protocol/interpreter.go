package protocol

import (
	"fmt"

	"github.com/betbot/dicebot/internal/domain"
)

// Interpreter 把骰子点数换算成各历史通道上的分类结果
type Interpreter interface {
	Name() string
	// Dice is the number of dice in one round.
	Dice() int
	// Channels lists the history channels the interpreter labels.
	Channels() []string
	// DefaultChannel is used by rules that do not name a channel.
	DefaultChannel() string
	Classify(dice []int) (map[string]string, error)
}

// Wins reports whether a wager on target won the round.
// A target wins when any of the outcome's labels equals it.
func Wins(target string, o domain.Outcome) bool {
	for _, label := range o.Labels {
		if label == target {
			return true
		}
	}
	return false
}

func checkDice(dice []int, n int) (int, error) {
	if len(dice) != n {
		return 0, fmt.Errorf("want %d dice, got %d", n, len(dice))
	}
	sum := 0
	for _, d := range dice {
		if d < 1 || d > 6 {
			return 0, fmt.Errorf("die value %d out of range", d)
		}
		sum += d
	}
	return sum, nil
}

// TaiXiu 三颗骰子：点数和 > 10 为 TAI，否则 XIU
type TaiXiu struct{}

const (
	ChannelMain = "main"

	Tai = "TAI"
	Xiu = "XIU"
)

func (TaiXiu) Name() string           { return "taixiu" }
func (TaiXiu) Dice() int              { return 3 }
func (TaiXiu) Channels() []string     { return []string{ChannelMain} }
func (TaiXiu) DefaultChannel() string { return ChannelMain }

func (t TaiXiu) Classify(dice []int) (map[string]string, error) {
	sum, err := checkDice(dice, t.Dice())
	if err != nil {
		return nil, err
	}
	label := Xiu
	if sum > 10 {
		label = Tai
	}
	return map[string]string{ChannelMain: label}, nil
}

// ShakeDisk 四颗骰子：1-3 为红，4-6 为黄；同时按颜色、奇偶和组合三个通道记录
type ShakeDisk struct{}

const (
	ChannelColor    = "color"
	ChannelParity   = "parity"
	ChannelCombined = "combined"

	Red4        = "RED_4"
	Yellow4     = "YELLOW_4"
	Red3Yellow1 = "RED_3_YELLOW_1"
	Yellow3Red1 = "YELLOW_3_RED_1"
	Mixed       = "MIXED"
	Even        = "CHAN"
	Odd         = "LE"
)

func (ShakeDisk) Name() string { return "shakedisk" }
func (ShakeDisk) Dice() int    { return 4 }
func (ShakeDisk) Channels() []string {
	return []string{ChannelColor, ChannelParity, ChannelCombined}
}
func (ShakeDisk) DefaultChannel() string { return ChannelCombined }

func (s ShakeDisk) Classify(dice []int) (map[string]string, error) {
	sum, err := checkDice(dice, s.Dice())
	if err != nil {
		return nil, err
	}
	red := 0
	for _, d := range dice {
		if d <= 3 {
			red++
		}
	}
	var color string
	switch red {
	case 4:
		color = Red4
	case 0:
		color = Yellow4
	case 3:
		color = Red3Yellow1
	case 1:
		color = Yellow3Red1
	default:
		color = Mixed
	}
	parity := Odd
	if sum%2 == 0 {
		parity = Even
	}
	return map[string]string{
		ChannelColor:    color,
		ChannelParity:   parity,
		ChannelCombined: color + "_" + parity,
	}, nil
}
