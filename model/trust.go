package model

import "time"

// AgentTrust is the rolling payment-timeliness statistic for a funding party,
// updated on every settlement outcome.
type AgentTrust struct {
	AgentID                string     `json:"agent_id"`
	PaidCount              int64      `json:"paid_count"`
	OverdueCount           int64      `json:"overdue_count"`
	AvgPayTimeSeconds      float64    `json:"avg_pay_time_seconds"`
	IsSuspendedForOverdue  bool       `json:"is_suspended_for_overdue"`
	SuspendedUntil         *time.Time `json:"suspended_until,omitempty"`
	LastOverdueAt          *time.Time `json:"last_overdue_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ObservePayTime folds a new on-time payment sample into the running average:
// newAvg = (oldAvg*n + sample) / (n+1).
func (t *AgentTrust) ObservePayTime(sampleSeconds float64) {
	n := float64(t.PaidCount)
	t.AvgPayTimeSeconds = (t.AvgPayTimeSeconds*n + sampleSeconds) / (n + 1)
	t.PaidCount++
}

// Suspended reports whether the agent is currently blocked from new escrow
// holds, either permanently or until a temporary suspension lifts.
func (t *AgentTrust) Suspended(now time.Time) bool {
	if t.IsSuspendedForOverdue {
		return true
	}
	if t.SuspendedUntil != nil && now.Before(*t.SuspendedUntil) {
		return true
	}
	return false
}
