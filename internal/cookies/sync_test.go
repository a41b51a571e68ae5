package cookies_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shehryarbajwa/chatpilot/internal/cookies"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

type recordingSetter struct {
	reject map[string]bool
	seen   []string
}

func (r *recordingSetter) SetCookie(_ context.Context, origin string, c models.CookieRecord) error {
	r.seen = append(r.seen, origin+"|"+c.Name)
	if r.reject[c.Name] {
		return errors.New("invalid cookie")
	}
	return nil
}

func writeJar(t *testing.T, jar []models.CookieRecord) string {
	t.Helper()
	data, err := json.Marshal(jar)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func sampleJar() []models.CookieRecord {
	return []models.CookieRecord{
		{Name: "__Secure-next-auth.session-token", Value: "a", Domain: ".chat.example", Path: "/", Secure: true, HTTPOnly: true},
		{Name: "cf_clearance", Value: "b", Domain: ".chat.example", Path: "/"},
		{Name: "oai-did", Value: "c", Domain: "chat.example", Path: "/"},
	}
}

func TestSyncAppliesEveryCookie(t *testing.T) {
	setter := &recordingSetter{}
	s := cookies.NewSynchronizer(zap.NewNop())

	n, err := s.Sync(context.Background(), setter, "https://chat.example", writeJar(t, sampleJar()), false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, setter.seen, 3)
	assert.Equal(t, "https://chat.example|cf_clearance", setter.seen[1])
}

func TestSyncCountsPartialSuccess(t *testing.T) {
	setter := &recordingSetter{reject: map[string]bool{"cf_clearance": true}}
	s := cookies.NewSynchronizer(zap.NewNop())

	n, err := s.Sync(context.Background(), setter, "https://chat.example", writeJar(t, sampleJar()), false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, setter.seen, 3, "a failed cookie does not stop the rest")
}

func TestSyncMissingJar(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.json")

	t.Run("fatal by default", func(t *testing.T) {
		s := cookies.NewSynchronizer(zap.NewNop())
		n, err := s.Sync(context.Background(), &recordingSetter{}, "https://chat.example", missing, false)
		var syncErr *cookies.SyncError
		require.ErrorAs(t, err, &syncErr)
		assert.Equal(t, missing, syncErr.Path)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Zero(t, n)
	})

	t.Run("tolerated when allowed", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		s := cookies.NewSynchronizer(zap.New(core))
		setter := &recordingSetter{}

		n, err := s.Sync(context.Background(), setter, "https://chat.example", missing, true)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, setter.seen)
		assert.Equal(t, 1, logs.FilterMessage("Cookie jar unavailable, continuing without cookies").Len())
	})
}

func TestSyncMalformedJar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"a list"}`), 0o600))

	_, err := cookies.NewSynchronizer(nil).Sync(context.Background(), &recordingSetter{}, "https://chat.example", path, false)
	var syncErr *cookies.SyncError
	assert.ErrorAs(t, err, &syncErr)
}

func TestSyncWithoutJarReliesOnProfile(t *testing.T) {
	setter := &recordingSetter{}
	n, err := cookies.NewSynchronizer(nil).Sync(context.Background(), setter, "https://chat.example", "", false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, setter.seen)
}
