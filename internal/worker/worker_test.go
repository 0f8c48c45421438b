package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mitto-dev/mitto/internal/classify"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
)

func budgetWorker(nav, form, submit, js time.Duration) *Worker {
	cfg := &common.Config{}
	cfg.Browser.NavigationTimeout = nav
	cfg.Browser.FormTimeout = form
	cfg.Browser.SubmitTimeout = submit
	cfg.Browser.JavaScriptWaitTime = js
	return &Worker{cfg: cfg, logger: common.GetLogger()}
}

func TestTaskBudgetSumsConfiguredWaits(t *testing.T) {
	w := budgetWorker(30*time.Second, 60*time.Second, 30*time.Second, 3*time.Second)
	assert.Equal(t, 123*time.Second, w.taskBudget())

	// Unconfigured waits fall back to a sane floor.
	assert.Equal(t, 2*time.Minute, budgetWorker(0, 0, 0, 0).taskBudget())
}

func TestCapToBudgetMapsDeadlineExpiry(t *testing.T) {
	budget := time.Minute
	slow := &outcome{status: models.StatusFailed, errorType: classify.CodeAccess}

	capped := capToBudget(slow, context.DeadlineExceeded, budget)
	assert.Equal(t, models.StatusError, capped.status)
	assert.Equal(t, classify.CodeTimeout, capped.errorType)
	assert.Contains(t, capped.errorMessage, "budget")
	assert.True(t, capped.recycleBrowser)
}

func TestCapToBudgetKeepsCleanOutcomes(t *testing.T) {
	budget := time.Minute
	slow := &outcome{status: models.StatusFailed, errorType: classify.CodeAccess}

	// Success right at the edge of the budget is kept.
	won := &outcome{status: models.StatusSuccess}
	assert.Same(t, won, capToBudget(won, context.DeadlineExceeded, budget))

	// No expiry means no rewrite, whatever the outcome was.
	assert.Same(t, slow, capToBudget(slow, nil, budget))
	assert.Same(t, slow, capToBudget(slow, context.Canceled, budget))
}
