package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/internal/download"
	"github.com/shehryarbajwa/chatpilot/internal/poller"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

type job struct {
	resume    bool
	prompt    string
	output    string
	download  bool
	preferred string
	timeout   time.Duration
}

type result struct {
	text       string
	assets     []models.Asset
	downloaded string
	usage      models.Usage
}

// execute performs the remote steps of a run. The returned runtime is the
// latest known handle, valid even when err is set.
func (e *Engine) execute(ctx context.Context, log *zap.Logger, rec *models.SessionRecord, j job) (result, models.BrowserRuntimeMetadata, error) {
	cfg := rec.Browser.Config
	rt := rec.Browser.Runtime

	page, live, err := e.connector.Connect(ctx, rt)
	if err != nil {
		return result{}, rt, err
	}
	defer page.Close()
	rt = live
	if _, err := e.persistRuntime(rec, rt); err != nil {
		return result{}, rt, err
	}

	if !j.resume {
		if _, err := e.cookies.Sync(ctx, page, cfg.Origin, cfg.CookieJar, cfg.AllowCookieErrors); err != nil {
			return result{}, rt, err
		}
		if cfg.ChatURL != "" {
			if err := page.Navigate(ctx, cfg.ChatURL); err != nil {
				return result{}, rt, err
			}
		}
		baseline, err := e.discover.CountTurns(ctx, page)
		if err != nil {
			return result{}, rt, err
		}
		rt.BaselineTurns = baseline
		if _, err := e.persistRuntime(rec, rt); err != nil {
			return result{}, rt, err
		}
		log.Debug("Baseline captured", zap.Int("turns", baseline))

		if err := e.submitter.Submit(ctx, page, j.prompt); err != nil {
			var ae *automation.Error
			if !errors.As(err, &ae) {
				err = automation.Errorf(automation.StageSubmit, err, "prompt submission failed")
			}
			return result{}, rt, err
		}
		log.Info("Prompt submitted", zap.Int("chars", len(j.prompt)))
	}

	snap, err := e.await(ctx, log, page, rec.Mode, rt.BaselineTurns, j.timeout)
	if err != nil {
		return result{}, rt, err
	}

	res := result{text: snap.Text}
	if rec.Mode == models.ModeImage {
		found, err := e.discover.Discover(ctx, page, rt.BaselineTurns)
		if err != nil {
			return result{}, rt, err
		}
		for _, a := range found.Assets {
			res.assets = append(res.assets, models.Asset{URL: a.URL, Score: a.Score, Label: a.Label})
		}
		if text, err := e.discover.TextSample(page, rt.BaselineTurns)(ctx); err == nil {
			res.text = text.Text
		} else if automation.IsConnectionLost(err) {
			return result{}, rt, err
		}

		if j.download {
			downloaded, err := e.triggerDownload(ctx, log, page, rt.BaselineTurns, j.preferred)
			if err != nil {
				return result{}, rt, err
			}
			res.downloaded = downloaded
		}
	}

	res.usage = e.estimator.Estimate(j.prompt, res.text)
	return res, rt, nil
}

// await polls until the output of the new turn settles. Connection loss
// ends the wait at once instead of burning the deadline on empty reads.
func (e *Engine) await(ctx context.Context, log *zap.Logger, page Page, mode models.Mode, baseline int, timeout time.Duration) (poller.Snapshot, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sample := e.discover.TextSample(page, baseline)
	if mode == models.ModeImage {
		sample = e.discover.ImageSample(page, baseline)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var lost error
	guarded := func(ctx context.Context) (poller.Snapshot, error) {
		snap, err := sample(ctx)
		if automation.IsConnectionLost(err) {
			lost = err
			cancel()
		}
		return snap, err
	}

	res := e.poller.Wait(pollCtx, guarded, timeout)
	if lost != nil {
		return poller.Snapshot{}, lost
	}
	if err := ctx.Err(); err != nil {
		return poller.Snapshot{}, automation.Errorf(automation.StageTimeout, err, "run cancelled while waiting for output")
	}
	if res.Snapshot.Empty() {
		return poller.Snapshot{}, automation.Errorf(automation.StageTimeout, nil, "no output appeared within %s", timeout)
	}
	if !res.Stable {
		log.Warn("Deadline reached before output settled, using latest snapshot",
			zap.Int("samples", res.Samples), zap.Int("count", res.Snapshot.Count()))
	}
	return res.Snapshot, nil
}

// triggerDownload clicks the save control of the chosen image. A missing
// preferred image fails the run; a missing control does not.
func (e *Engine) triggerDownload(ctx context.Context, log *zap.Logger, page Page, baseline int, preferred string) (string, error) {
	out := e.trigger.Trigger(ctx, page, download.Request{
		Preferred:    preferred,
		MinTurnIndex: baseline,
		Role:         e.discover.Role(),
	})
	switch {
	case out.Err != nil:
		if automation.IsConnectionLost(out.Err) {
			return "", out.Err
		}
		log.Warn("Download trigger failed", zap.Error(out.Err))
		return "", nil
	case out.Kind == download.KindPreferredNotFound:
		return "", &automation.Error{
			Stage:   automation.StageDownload,
			Message: "preferred image not found on page",
			Details: map[string]string{"reason": string(out.Kind), "preferred": preferred},
		}
	case !out.Clicked():
		log.Warn("Download not triggered", zap.String("reason", string(out.Kind)))
		return "", nil
	}
	log.Info("Download triggered", zap.String("target", out.Target))
	return out.Target, nil
}
