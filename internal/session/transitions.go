package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/internal/cookies"
	"github.com/shehryarbajwa/chatpilot/internal/store"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// Error categories persisted on failed records
const (
	CategoryCookieSync = "cookie-sync"
	CategoryAutomation = "browser-automation"
	CategoryUnknown    = "unknown"
)

// apply merges patch onto the stored record and refreshes rec in place.
// The browser object is always written whole, config included.
func (e *Engine) apply(rec *models.SessionRecord, next models.SessionStatus, patch store.Patch) (*models.SessionRecord, error) {
	if !rec.Status.CanTransition(next) {
		return nil, fmt.Errorf("session %s: illegal transition %s -> %s", rec.ID, rec.Status, next)
	}
	patch["status"] = next
	merged, err := e.store.Merge(rec.ID, patch)
	if err != nil {
		return nil, err
	}
	*rec = *merged
	return rec, nil
}

func (e *Engine) modelRun(rec *models.SessionRecord, status models.SessionStatus, completedAt *time.Time, usage *models.Usage) []models.ModelRunRecord {
	run, ok := rec.ActiveModel()
	if !ok {
		run = models.ModelRunRecord{Model: rec.Model}
	}
	run.Status = status
	if run.StartedAt == nil {
		run.StartedAt = rec.StartedAt
	}
	run.CompletedAt = completedAt
	if usage != nil {
		run.Usage = usage
	}
	return []models.ModelRunRecord{run}
}

func (e *Engine) markRunning(rec *models.SessionRecord, notice string) (*models.SessionRecord, error) {
	if rec.StartedAt == nil {
		now := e.now().UTC()
		rec.StartedAt = &now
	}
	patch := store.Patch{
		"startedAt": rec.StartedAt,
		"models":    e.modelRun(rec, models.StatusRunning, nil, nil),
		"browser":   rec.Browser,
	}
	if notice != "" {
		patch["lastNotice"] = notice
	}
	return e.apply(rec, models.StatusRunning, patch)
}

func (e *Engine) persistRuntime(rec *models.SessionRecord, rt models.BrowserRuntimeMetadata) (*models.SessionRecord, error) {
	return e.apply(rec, models.StatusRunning, store.Patch{
		"browser": browserState(rec, rt),
	})
}

func (e *Engine) markCompleted(rec *models.SessionRecord, rt models.BrowserRuntimeMetadata, res result) (*models.SessionRecord, error) {
	now := e.now().UTC()
	usage := res.usage
	rt.WebSocketURL = ""
	var elapsed int64
	if rec.StartedAt != nil {
		elapsed = now.Sub(*rec.StartedAt).Milliseconds()
	}
	return e.apply(rec, models.StatusCompleted, store.Patch{
		"completedAt": now,
		"usage":       usage,
		"elapsedMs":   elapsed,
		"browser":     browserState(rec, rt),
		"response": models.Response{
			Text:       res.text,
			Assets:     res.assets,
			Downloaded: res.downloaded,
		},
		"models":          e.modelRun(rec, models.StatusCompleted, &now, &usage),
		"error":           nil,
		"reattachPending": nil,
		"lastNotice":      nil,
	})
}

func (e *Engine) markDisconnected(rec *models.SessionRecord, rt models.BrowserRuntimeMetadata, cause error) (*models.SessionRecord, error) {
	return e.apply(rec, models.StatusRunning, store.Patch{
		"reattachPending": true,
		"lastNotice":      cause.Error(),
		"browser":         browserState(rec, rt),
		"models":          e.modelRun(rec, models.StatusRunning, nil, nil),
	})
}

func (e *Engine) markFailed(rec *models.SessionRecord, rt models.BrowserRuntimeMetadata, cause error) (*models.SessionRecord, error) {
	now := e.now().UTC()
	rt.WebSocketURL = ""
	info := Classify(cause)
	return e.apply(rec, models.StatusError, store.Patch{
		"completedAt":     now,
		"error":           info,
		"browser":         browserState(rec, rt),
		"response":        nil,
		"models":          e.modelRun(rec, models.StatusError, &now, nil),
		"reattachPending": nil,
		"lastNotice":      nil,
	})
}

func browserState(rec *models.SessionRecord, rt models.BrowserRuntimeMetadata) *models.BrowserState {
	var cfg models.BrowserConfig
	if rec.Browser != nil {
		cfg = rec.Browser.Config
	}
	return &models.BrowserState{Config: cfg, Runtime: rt}
}

// Classify maps a run failure to its persisted form
func Classify(err error) models.ErrorInfo {
	var syncErr *cookies.SyncError
	var autoErr *automation.Error
	switch {
	case errors.As(err, &syncErr):
		return models.ErrorInfo{
			Category: CategoryCookieSync,
			Message:  err.Error(),
			Details:  map[string]string{"path": syncErr.Path},
		}
	case errors.As(err, &autoErr):
		details := make(map[string]string, len(autoErr.Details)+1)
		for k, v := range autoErr.Details {
			details[k] = v
		}
		details["stage"] = string(autoErr.Stage)
		return models.ErrorInfo{Category: CategoryAutomation, Message: err.Error(), Details: details}
	default:
		return models.ErrorInfo{Category: CategoryUnknown, Message: err.Error()}
	}
}
