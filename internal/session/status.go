package session

import "time"

// Status 会话快照，供 CLI 与控制面展示
type Status struct {
	ID             string              `json:"id"`
	Account        string              `json:"account"`
	Variant        string              `json:"variant"`
	State          string              `json:"state"`
	StopReason     StopReason          `json:"stopReason,omitempty"`
	StartedAt      time.Time           `json:"startedAt"`
	StoppedAt      *time.Time          `json:"stoppedAt,omitempty"`
	Round          string              `json:"round,omitempty"`
	Pot            int64               `json:"pot"`
	Balance        *int64              `json:"balance,omitempty"`
	BaseStake      int64               `json:"baseStake"`
	CurrentStake   int64               `json:"currentStake"`
	PendingTarget  string              `json:"pendingTarget,omitempty"`
	BettingAllowed bool                `json:"bettingAllowed"`
	History        map[string][]string `json:"history"`
	Channels       map[string]string   `json:"channels"`
}

// Status returns a consistent snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:             s.id,
		Account:        s.account.Label(),
		Variant:        s.deps.Variant.Name,
		State:          s.state.String(),
		StopReason:     s.reason,
		StartedAt:      s.startedAt,
		Round:          s.round,
		Pot:            int64(s.pot),
		BettingAllowed: s.bettingAllowed,
	}
	if s.balanceKnown {
		b := int64(s.balance)
		st.Balance = &b
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		st.StoppedAt = &t
	}
	s.mu.Unlock()

	st.BaseStake = int64(s.stakes.Base())
	st.CurrentStake = int64(s.stakes.Current())
	if w, ok := s.stakes.Pending(); ok {
		st.PendingTarget = string(w.Target)
	}
	st.History = make(map[string][]string)
	for _, ch := range s.deps.Variant.Interpreter().Channels() {
		st.History[ch] = s.history.Labels(ch)
	}
	st.Channels = make(map[string]string, len(s.channels))
	for name, ch := range s.channels {
		st.Channels[name] = ch.sup.State().String()
	}
	return st
}
