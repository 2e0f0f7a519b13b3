package core

import (
	"time"

	"promptstudio-backend-go/internal/models"
)

const (
	trialWindow    = 24 * time.Hour
	maxTrialEvents = 50
)

// Trial refusal reasons.
const (
	TrialDisabled         = "trial_disabled"
	TrialBYOKOnly         = "byok_only"
	TrialMissingServerKey = "missing_server_key"
	TrialAlreadyPro       = "already_pro"
	TrialLimitReached     = "trial_limit_reached"
)

// TrialStatus is the outcome of a trial eligibility check. It is returned to
// the frontend as-is when no key is available.
type TrialStatus struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Used   int    `json:"used,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// TrialPolicy grants FREE accounts a few server-key generations per rolling
// 24h window.
type TrialPolicy struct {
	Enabled      bool
	Limit        int
	BYOKOnly     bool
	HasServerKey bool
}

// Allowed checks eligibility. Events older than the window are pruned from
// the account as a side effect.
func (p TrialPolicy) Allowed(acc *models.Account, now time.Time) TrialStatus {
	switch {
	case !p.Enabled:
		return TrialStatus{Reason: TrialDisabled}
	case p.BYOKOnly:
		return TrialStatus{Reason: TrialBYOKOnly}
	case !p.HasServerKey:
		return TrialStatus{Reason: TrialMissingServerKey}
	case acc.IsPro():
		return TrialStatus{Reason: TrialAlreadyPro}
	}

	cutoff := now.Add(-trialWindow).UnixMilli()
	fresh := acc.Trial.Events[:0:0]
	for _, ts := range acc.Trial.Events {
		if ts > cutoff {
			fresh = append(fresh, ts)
		}
	}
	acc.Trial.Events = fresh

	if len(fresh) >= p.Limit {
		return TrialStatus{Reason: TrialLimitReached, Used: len(fresh), Limit: p.Limit}
	}
	return TrialStatus{OK: true, Used: len(fresh), Limit: p.Limit}
}

// MarkTrial records a trial generation, newest first.
func MarkTrial(acc *models.Account, now time.Time) {
	events := append([]int64{now.UnixMilli()}, acc.Trial.Events...)
	if len(events) > maxTrialEvents {
		events = events[:maxTrialEvents]
	}
	acc.Trial.Events = events
}
