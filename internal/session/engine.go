// Package session runs chat sessions end to end and keeps their persisted
// state correct across failures and browser disconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/internal/cookies"
	"github.com/shehryarbajwa/chatpilot/internal/discovery"
	"github.com/shehryarbajwa/chatpilot/internal/download"
	"github.com/shehryarbajwa/chatpilot/internal/output"
	"github.com/shehryarbajwa/chatpilot/internal/poller"
	"github.com/shehryarbajwa/chatpilot/internal/store"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

var (
	// ErrNotResumable is returned when reattaching a session that is not a
	// running, reattach-pending record
	ErrNotResumable = errors.New("session is not awaiting reattach")
	// ErrConcurrencyLimit is returned when every run slot is taken
	ErrConcurrencyLimit = errors.New("concurrency limit reached")
)

// DefaultTimeout bounds the wait for generated output
const DefaultTimeout = 20 * time.Minute

// Page is the attached chat tab
type Page interface {
	automation.Evaluator
	SetCookie(ctx context.Context, origin string, c models.CookieRecord) error
	Navigate(ctx context.Context, url string) error
	Close() error
}

// Connector attaches to the browser described by runtime metadata
type Connector interface {
	Connect(ctx context.Context, rt models.BrowserRuntimeMetadata) (Page, models.BrowserRuntimeMetadata, error)
}

// ConnectFunc adapts a function to Connector
type ConnectFunc func(ctx context.Context, rt models.BrowserRuntimeMetadata) (Page, models.BrowserRuntimeMetadata, error)

func (f ConnectFunc) Connect(ctx context.Context, rt models.BrowserRuntimeMetadata) (Page, models.BrowserRuntimeMetadata, error) {
	return f(ctx, rt)
}

// Submitter enters the prompt into the chat and sends it
type Submitter interface {
	Submit(ctx context.Context, page Page, prompt string) error
}

// Estimator derives token usage for a finished run
type Estimator interface {
	Estimate(prompt, answer string) models.Usage
}

// Notifier is told about every run that reaches a terminal state
type Notifier interface {
	Notify(ctx context.Context, rec *models.SessionRecord)
}

// Config wires an engine
type Config struct {
	Store      *store.Manager
	Connector  Connector
	Submitter  Submitter
	Cookies    *cookies.Synchronizer
	Discoverer *discovery.Discoverer
	Poller     *poller.Poller
	Trigger    *download.Trigger
	Writer     *output.Writer
	Estimator  Estimator
	Notifier   Notifier

	// MaxConcurrent bounds runs in flight in this process; zero means 1.
	MaxConcurrent int64
	Logger        *zap.Logger
}

// Engine drives runs and owns every write to their session records
type Engine struct {
	store     *store.Manager
	connector Connector
	submitter Submitter
	cookies   *cookies.Synchronizer
	discover  *discovery.Discoverer
	poller    *poller.Poller
	trigger   *download.Trigger
	writer    *output.Writer
	estimator Estimator
	notifier  Notifier
	slots     *semaphore.Weighted
	log       *zap.Logger
	now       func() time.Time
}

// NewEngine creates an engine. Store, Connector and Submitter are required;
// the rest fall back to defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Connector == nil || cfg.Submitter == nil {
		return nil, fmt.Errorf("store, connector and submitter are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Cookies == nil {
		cfg.Cookies = cookies.NewSynchronizer(log)
	}
	if cfg.Discoverer == nil {
		cfg.Discoverer = discovery.New(discovery.Selectors{}, "", log)
	}
	if cfg.Poller == nil {
		cfg.Poller = poller.New(poller.Options{}, log)
	}
	if cfg.Trigger == nil {
		cfg.Trigger = download.New(cfg.Discoverer.Selectors(), log)
	}
	if cfg.Writer == nil {
		cfg.Writer = output.NewWriter(cfg.Store, "", log)
	}
	if cfg.Estimator == nil {
		cfg.Estimator = CharEstimator{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Engine{
		store:     cfg.Store,
		connector: cfg.Connector,
		submitter: cfg.Submitter,
		cookies:   cfg.Cookies,
		discover:  cfg.Discoverer,
		poller:    cfg.Poller,
		trigger:   cfg.Trigger,
		writer:    cfg.Writer,
		estimator: cfg.Estimator,
		notifier:  cfg.Notifier,
		slots:     semaphore.NewWeighted(cfg.MaxConcurrent),
		log:       log,
		now:       time.Now,
	}, nil
}

// RunRequest describes one run
type RunRequest struct {
	// ID is generated when empty.
	ID       string
	Prompt   string
	Model    string
	Mode     models.Mode
	Browser  models.BrowserConfig
	Endpoint string

	OutputPath string
	Download   bool
	Preferred  string
	Timeout    time.Duration
}

// ReattachRequest carries the per-invocation options of a reattach
type ReattachRequest struct {
	OutputPath string
	Download   bool
	Preferred  string
	Timeout    time.Duration
	// Force resumes a running record that was never marked reattach
	// pending, as left behind by a process killed mid-poll. The record
	// must still name the browser tab it was driving.
	Force bool
}

// Run creates a session record and drives it to a terminal state, or to a
// reattach-pending running state when the browser connection drops. The
// latter returns the record with a nil error.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*models.SessionRecord, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if req.Mode == "" {
		req.Mode = models.ModeText
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if !e.slots.TryAcquire(1) {
		return nil, ErrConcurrencyLimit
	}
	defer e.slots.Release(1)

	rec := &models.SessionRecord{
		ID:        req.ID,
		Status:    models.StatusPending,
		Mode:      req.Mode,
		Model:     req.Model,
		Prompt:    req.Prompt,
		CreatedAt: e.now().UTC(),
		Browser: &models.BrowserState{
			Config:  req.Browser,
			Runtime: models.BrowserRuntimeMetadata{Endpoint: req.Endpoint},
		},
	}
	if err := e.store.Create(rec); err != nil {
		return nil, err
	}
	log := e.log.With(zap.String("session", rec.ID))
	log.Info("Session created", zap.String("mode", string(rec.Mode)), zap.String("model", rec.Model))

	rec, err := e.markRunning(rec, "")
	if err != nil {
		return nil, err
	}
	return e.drive(ctx, log, rec, job{
		prompt:    req.Prompt,
		output:    req.OutputPath,
		download:  req.Download,
		preferred: req.Preferred,
		timeout:   req.Timeout,
	})
}

// Reattach resumes a session whose browser connection dropped. It
// reconnects to the recorded runtime, skips cookies and submission, and
// resumes polling from the recorded baseline.
func (e *Engine) Reattach(ctx context.Context, id string, req ReattachRequest) (*models.SessionRecord, error) {
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !resumable(rec, req.Force) {
		return rec, ErrNotResumable
	}
	if !e.slots.TryAcquire(1) {
		return nil, ErrConcurrencyLimit
	}
	defer e.slots.Release(1)

	log := e.log.With(zap.String("session", rec.ID))
	log.Info("Reattaching", zap.String("target", rec.Browser.Runtime.TargetID), zap.Bool("force", req.Force))

	rec, err = e.markRunning(rec, "Reattaching to browser")
	if err != nil {
		return nil, err
	}
	return e.drive(ctx, log, rec, job{
		resume:    true,
		prompt:    rec.Prompt,
		output:    req.OutputPath,
		download:  req.Download,
		preferred: req.Preferred,
		timeout:   req.Timeout,
	})
}

func resumable(rec *models.SessionRecord, force bool) bool {
	if rec.Status != models.StatusRunning || rec.Browser == nil {
		return false
	}
	return rec.ReattachPending || (force && rec.Browser.Runtime.TargetID != "")
}

// drive executes a job and persists whichever way it ends
func (e *Engine) drive(ctx context.Context, log *zap.Logger, rec *models.SessionRecord, j job) (*models.SessionRecord, error) {
	res, rt, err := e.execute(ctx, log, rec, j)
	switch {
	case err == nil:
		done, perr := e.markCompleted(rec, rt, res)
		if perr != nil {
			return nil, perr
		}
		if path := e.writer.Write(j.output, res.text); path != "" {
			log.Info("Output written", zap.String("path", path))
		}
		e.notify(ctx, done)
		return done, nil
	case automation.IsConnectionLost(err):
		log.Warn("Browser disconnected before completion, keeping session running for reattach", zap.Error(err))
		return e.markDisconnected(rec, rt, err)
	default:
		log.Error("Run failed", zap.Error(err))
		failed, perr := e.markFailed(rec, rt, err)
		if perr != nil {
			return nil, errors.Join(err, perr)
		}
		e.notify(ctx, failed)
		return failed, err
	}
}

func (e *Engine) notify(ctx context.Context, rec *models.SessionRecord) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, rec)
	}
}
