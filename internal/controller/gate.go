// Package controller decides what the orchestrator is allowed to dispatch:
// business-hour and quota gating, targeting-SQL guarding, and candidate batch
// staging.
package controller

import (
	"fmt"
	"time"

	"github.com/mitto-dev/mitto/internal/models"
)

const (
	maxRunLifetime   = 5 * time.Hour
	maxDailySendsCap = 50000
)

var jst = time.FixedZone("Asia/Tokyo", 9*60*60)

// GateDecision is the outcome of a dispatch-precondition check.
type GateDecision struct {
	Allowed bool
	Reason  string
}

// Gate evaluates the hard preconditions for dispatching candidates.
type Gate struct {
	targeting models.ClientTargeting
	startedAt time.Time
	now       func() time.Time
}

// NewGate creates a gate for one run of a targeting campaign.
func NewGate(targeting models.ClientTargeting, startedAt time.Time) *Gate {
	return &Gate{targeting: targeting, startedAt: startedAt, now: time.Now}
}

// Check evaluates, in order: run lifetime, JST weekday, JST send window, and
// the daily success quota. successesToday is the count of today's successful
// submissions for this targeting.
func (g *Gate) Check(successesToday int) GateDecision {
	now := g.now()

	if now.Sub(g.startedAt) >= maxRunLifetime {
		return GateDecision{Reason: "run lifetime exceeded"}
	}

	local := now.In(jst)
	if !g.weekdayAllowed(local.Weekday()) {
		return GateDecision{Reason: fmt.Sprintf("weekday %d not in send_days_of_week", int(local.Weekday()))}
	}

	ok, reason := g.withinSendWindow(local)
	if !ok {
		return GateDecision{Reason: reason}
	}

	quota := g.targeting.MaxDailySends
	if quota <= 0 || quota > maxDailySendsCap {
		return GateDecision{Reason: fmt.Sprintf("max_daily_sends %d outside (0, %d]", quota, maxDailySendsCap)}
	}
	if successesToday >= quota {
		return GateDecision{Reason: fmt.Sprintf("daily quota reached (%d/%d)", successesToday, quota)}
	}

	return GateDecision{Allowed: true}
}

func (g *Gate) weekdayAllowed(wd time.Weekday) bool {
	if len(g.targeting.SendDaysOfWeek) == 0 {
		return false
	}
	for _, d := range g.targeting.SendDaysOfWeek {
		if d == int(wd) {
			return true
		}
	}
	return false
}

// withinSendWindow checks strict minute-of-day containment: the current JST
// minute must satisfy start <= m <= end.
func (g *Gate) withinSendWindow(local time.Time) (bool, string) {
	start, err := parseMinuteOfDay(g.targeting.SendStartTime)
	if err != nil {
		return false, fmt.Sprintf("invalid send_start_time: %v", err)
	}
	end, err := parseMinuteOfDay(g.targeting.SendEndTime)
	if err != nil {
		return false, fmt.Sprintf("invalid send_end_time: %v", err)
	}
	m := local.Hour()*60 + local.Minute()
	if m < start || m > end {
		return false, fmt.Sprintf("outside send window %s-%s (JST)", g.targeting.SendStartTime, g.targeting.SendEndTime)
	}
	return true, ""
}

func parseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
