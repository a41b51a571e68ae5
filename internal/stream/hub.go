// Package stream pushes session record changes to websocket subscribers.
// Changes are picked up by watching the store directory, so runs driven by
// another process show up too.
package stream

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/store"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// subscriberBuffer is how many undelivered updates a slow subscriber may
// hold before older ones are dropped
const subscriberBuffer = 8

// Hub fans out record updates per session id
type Hub struct {
	store *store.Manager
	log   *zap.Logger

	mu   sync.Mutex
	subs map[string]map[chan *models.SessionRecord]struct{}
}

// NewHub creates a hub over st
func NewHub(st *store.Manager, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		store: st,
		log:   log,
		subs:  make(map[string]map[chan *models.SessionRecord]struct{}),
	}
}

// Subscribe registers for updates of id. The returned cancel func must be
// called to release the subscription.
func (h *Hub) Subscribe(id string) (<-chan *models.SessionRecord, func()) {
	ch := make(chan *models.SessionRecord, subscriberBuffer)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan *models.SessionRecord]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[id], ch)
			if len(h.subs[id]) == 0 {
				delete(h.subs, id)
			}
			h.mu.Unlock()
		})
	}
}

// Publish loads the current record for id and hands it to its subscribers
func (h *Hub) Publish(id string) {
	h.mu.Lock()
	n := len(h.subs[id])
	h.mu.Unlock()
	if n == 0 {
		return
	}

	rec, err := h.store.Get(id)
	if err != nil {
		h.log.Debug("Skipping update", zap.String("session", id), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		select {
		case ch <- rec:
		default:
			// drop the oldest so the newest state always gets through
			select {
			case <-ch:
			default:
			}
			ch <- rec
		}
	}
}

// Run watches the sessions directory until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(h.store.SessionsDir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", h.store.SessionsDir(), err)
	}
	h.log.Info("Watching session store", zap.String("dir", h.store.SessionsDir()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if id, ok := SessionID(ev.Name); ok {
				h.Publish(id)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.log.Warn("Watcher error", zap.Error(err))
		}
	}
}

// SessionID maps a store file name to its session id. Temp files written
// during atomic saves are ignored.
func SessionID(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") || strings.HasSuffix(base, ".json.tmp") {
		return "", false
	}
	id := strings.TrimSuffix(base, ".json")
	return id, id != ""
}
