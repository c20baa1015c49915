package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/corpus"
)

const bundleV1 = `{"chunk_id":"c1","content":"scipy ttest_ind independent samples","library":"scipy","category":"hypothesis_test","function_name":"ttest_ind"}
{"chunk_id":"c2","content":"numpy mean of an array","library":"numpy","category":"descriptive","function_name":"mean"}
{"chunk_id":"c3","content":"scipy mannwhitneyu rank test","library":"scipy","category":"hypothesis_test","function_name":"mannwhitneyu"}
`

const bundleV2 = `{"chunk_id":"n1","content":"numpy mean along an axis","library":"numpy","category":"descriptive","function_name":"mean"}
`

// testConfig returns daemon and app configs with short, unique socket paths.
// Unix socket paths are limited to ~104 bytes, too short for t.TempDir().
func testConfig(t *testing.T) (Config, *config.Config) {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	socketPath := filepath.Join(os.TempDir(), "amanrag-test-"+suffix+".sock")
	pidPath := filepath.Join(os.TempDir(), "amanrag-test-"+suffix+".pid")
	t.Cleanup(func() {
		_ = os.Remove(socketPath)
		_ = os.Remove(pidPath)
	})

	app := config.NewConfig()
	app.Storage.DataDir = t.TempDir()
	app.Embeddings.Provider = "none"
	app.Server.WatchDebounce = 20 * time.Millisecond
	app.Server.WatchPoll = 50 * time.Millisecond

	return Config{
		SocketPath:          socketPath,
		PIDPath:             pidPath,
		Timeout:             5 * time.Second,
		ShutdownGracePeriod: time.Second,
	}, app
}

func load(t *testing.T, app *config.Config, bundle string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(bundle), 0644))
	_, err := corpus.NewLoader(corpus.Options{DataDir: app.Storage.DataDir}).Load(context.Background(), path)
	require.NoError(t, err)
}

func intPtr(v int) *int { return &v }
