package models

import "time"

// SessionStatus represents the lifecycle state of a chat run
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// Terminal reports whether no further transition is allowed
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether moving from s to next is a legal forward
// step. running→running is the reattach self-loop.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case "", StatusPending:
		return next == StatusRunning || next == StatusError
	case StatusRunning:
		return next == StatusRunning || next.Terminal()
	default:
		return false
	}
}

// Mode selects what kind of output a run waits for
type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

// Usage holds token counters for a run
type Usage struct {
	InputTokens     int `json:"inputTokens"`
	OutputTokens    int `json:"outputTokens"`
	ReasoningTokens int `json:"reasoningTokens"`
	TotalTokens     int `json:"totalTokens"`
}

// ErrorInfo is the classified failure persisted on a record
type ErrorInfo struct {
	Category string            `json:"category"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
}

// ModelRunRecord tracks the sub-status of one model inside a session
type ModelRunRecord struct {
	Model       string        `json:"model"`
	Status      SessionStatus `json:"status"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Usage       *Usage        `json:"usage,omitempty"`
}

// Asset is one ranked output candidate
type Asset struct {
	URL   string `json:"url"`
	Score int    `json:"score"`
	Label string `json:"label,omitempty"`
}

// Response is the snapshot of what the chat produced
type Response struct {
	Text       string  `json:"text,omitempty"`
	Assets     []Asset `json:"assets,omitempty"`
	Downloaded string  `json:"downloaded,omitempty"`
}

// SessionRecord is the persisted state of one run
type SessionRecord struct {
	ID              string           `json:"id"`
	Status          SessionStatus    `json:"status"`
	Mode            Mode             `json:"mode"`
	Model           string           `json:"model"`
	Prompt          string           `json:"prompt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	Usage           *Usage           `json:"usage,omitempty"`
	ElapsedMs       int64            `json:"elapsedMs,omitempty"`
	Browser         *BrowserState    `json:"browser,omitempty"`
	Response        *Response        `json:"response,omitempty"`
	Error           *ErrorInfo       `json:"error,omitempty"`
	Models          []ModelRunRecord `json:"models,omitempty"`
	ReattachPending bool             `json:"reattachPending,omitempty"`
	LastNotice      string           `json:"lastNotice,omitempty"`
}

// ActiveModel returns the single model run of the session, if any
func (r *SessionRecord) ActiveModel() (ModelRunRecord, bool) {
	if len(r.Models) == 0 {
		return ModelRunRecord{}, false
	}
	return r.Models[0], true
}
