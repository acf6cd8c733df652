package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/nettoclaudio/adb-qr-pair/internal/config"
)

// writeFile replaces the file through a rename so the watcher never sees it half written.
func writeFile(t *testing.T, path, content string) {
	t.Helper()

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcher_Watch_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()

	err := (&Watcher{}).Watch(ctx)
	assert.EqualError(t, err, "context canceled")
}

func TestWatcher_Watch_NotConfigured(t *testing.T) {
	assert.Error(t, (&Watcher{}).Watch(context.TODO()))
}

func TestWatcher_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adb-qr-pair.yaml")
	writeFile(t, path, "password: \"000000\"\n")

	store := NewStore(Default())
	changes := make(chan Config, 16)

	w := &Watcher{
		Filename: path,
		Store:    store,
		Load:     func() (Config, error) { return Load(path, Default()) },
		OnChange: func(cfg Config) { changes <- cfg },
	}

	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()

	errs := make(chan error, 1)
	go func() { errs <- w.Watch(ctx) }()

	require.Eventually(t, func() bool {
		writeFile(t, path, "password: \"654321\"\n")
		return store.Credential().Password == "654321"
	}, 5*time.Second, 50*time.Millisecond)

	select {
	case cfg := <-changes:
		assert.Equal(t, "654321", cfg.Password)
	case <-time.After(5 * time.Second):
		t.Fatal("OnChange was not called")
	}

	// an invalid file keeps the previous configuration
	writeFile(t, path, "password: \"\"\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "654321", store.Credential().Password)

	cancel()

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}
