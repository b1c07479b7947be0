package domain

import (
	"sort"
	"strings"
	"time"
)

// Outcome 一局的结果。Labels 按“历史通道”存放分类结果，
// 例如 tai/xiu 只有 main 通道，shake-disk 有 color / parity / combined 三个通道。
type Outcome struct {
	RoundID string
	Dice    []int
	Sum     int
	Labels  map[string]string
	At      time.Time
}

// Label returns the classification on the given history channel.
func (o Outcome) Label(channel string) string {
	if o.Labels == nil {
		return ""
	}
	return o.Labels[channel]
}

func (o Outcome) String() string {
	if len(o.Labels) == 1 {
		for _, v := range o.Labels {
			return v
		}
	}
	keys := make([]string, 0, len(o.Labels))
	for k := range o.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+o.Labels[k])
	}
	return strings.Join(parts, ",")
}
