// Package metrics holds the process-wide expvar counters of the agent.
package metrics

import (
	"expvar"
	"net/http"
)

var (
	SessionsStarted = expvar.NewInt("sessions_started")
	WagersPlaced    = expvar.NewInt("wagers_placed")
	WagersFailed    = expvar.NewInt("wagers_failed")
	RoundsWon       = expvar.NewInt("rounds_won")
	RoundsLost      = expvar.NewInt("rounds_lost")
	RoundsSkipped   = expvar.NewInt("rounds_skipped")
	Reconnects      = expvar.NewInt("reconnects")
	ZombieFailures  = expvar.NewInt("zombie_failures")
	DecodeErrors    = expvar.NewInt("decode_errors")
	ConfigReloads   = expvar.NewInt("config_reloads")

	// 最近一次已知的钱包余额与当前注额
	Balance      = expvar.NewInt("wallet_balance")
	CurrentStake = expvar.NewInt("current_stake")
)

var counters = map[string]*expvar.Int{
	"sessions_started": SessionsStarted,
	"wagers_placed":    WagersPlaced,
	"wagers_failed":    WagersFailed,
	"rounds_won":       RoundsWon,
	"rounds_lost":      RoundsLost,
	"rounds_skipped":   RoundsSkipped,
	"reconnects":       Reconnects,
	"zombie_failures":  ZombieFailures,
	"decode_errors":    DecodeErrors,
	"config_reloads":   ConfigReloads,
	"wallet_balance":   Balance,
	"current_stake":    CurrentStake,
}

// Snapshot 当前所有计数器的值
func Snapshot() map[string]int64 {
	out := make(map[string]int64, len(counters))
	for name, v := range counters {
		out[name] = v.Value()
	}
	return out
}

// Handler 返回 expvar 的 /debug/vars（含 runtime memstats），由控制面挂载
func Handler() http.Handler {
	return expvar.Handler()
}
