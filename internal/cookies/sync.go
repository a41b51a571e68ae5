// Package cookies replays a stored cookie jar into the remote browser
// before navigation.
package cookies

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// Setter installs a single cookie for an origin
type Setter interface {
	SetCookie(ctx context.Context, origin string, c models.CookieRecord) error
}

// SyncError is returned when the cookie jar cannot be loaded
type SyncError struct {
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("cookie sync: load %s: %v", e.Path, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// LoadJar reads a JSON cookie jar: an ordered list of cookie records
func LoadJar(path string) ([]models.CookieRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var jar []models.CookieRecord
	if err := json.Unmarshal(data, &jar); err != nil {
		return nil, fmt.Errorf("parse cookie jar: %w", err)
	}
	return jar, nil
}

// Synchronizer applies cookie jars
type Synchronizer struct {
	log *zap.Logger
}

// NewSynchronizer creates a synchronizer
func NewSynchronizer(log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{log: log}
}

// Sync loads jarPath and applies every record to origin, returning how many
// the browser accepted. An empty jarPath means the profile is expected to
// be signed in already. A jar that cannot be loaded is fatal unless
// allowErrors is set. Individual cookie failures are counted, never retried.
func (s *Synchronizer) Sync(ctx context.Context, setter Setter, origin, jarPath string, allowErrors bool) (int, error) {
	if jarPath == "" {
		s.log.Info("No cookie jar given, relying on existing browser profile", zap.String("origin", origin))
		return 0, nil
	}

	jar, err := LoadJar(jarPath)
	if err != nil {
		syncErr := &SyncError{Path: jarPath, Err: err}
		if !allowErrors {
			return 0, syncErr
		}
		s.log.Warn("Cookie jar unavailable, continuing without cookies",
			zap.String("jar", jarPath), zap.Error(err))
		return 0, nil
	}

	applied := 0
	for _, c := range jar {
		if err := setter.SetCookie(ctx, origin, c); err != nil {
			s.log.Debug("Cookie rejected",
				zap.String("name", c.Name), zap.String("domain", c.Domain), zap.Error(err))
			continue
		}
		applied++
	}

	s.log.Info("Cookies applied",
		zap.String("origin", origin),
		zap.Int("applied", applied),
		zap.Int("total", len(jar)))
	return applied, nil
}
