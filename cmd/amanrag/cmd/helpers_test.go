package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testBundle = `{"chunk_id":"c1","content":"scipy ttest_ind compares two independent samples","library":"scipy","category":"hypothesis_test","function_name":"ttest_ind","title":"scipy.stats.ttest_ind"}
{"chunk_id":"c2","content":"numpy mean computes the arithmetic mean","library":"numpy","category":"descriptive","function_name":"mean","title":"numpy.mean"}
{"chunk_id":"c3","content":"scipy mannwhitneyu rank test for two samples","library":"scipy","category":"hypothesis_test","function_name":"mannwhitneyu","title":"scipy.stats.mannwhitneyu"}
`

// testEnv isolates a command run: home, user config, data dir and daemon
// socket all live in fresh temp locations, and no embedder is contacted.
type testEnv struct {
	home      string
	configDir string
	dataDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	env := &testEnv{
		home:      home,
		configDir: t.TempDir(),
		dataDir:   filepath.Join(home, "data"),
	}

	// Unix socket paths are limited to ~104 bytes, too short for t.TempDir().
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	socketPath := filepath.Join(os.TempDir(), "amanrag-cmd-"+suffix+".sock")
	t.Cleanup(func() { _ = os.Remove(socketPath) })

	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("AMANRAG_DATA_DIR", env.dataDir)
	t.Setenv("AMANRAG_SOCKET_PATH", socketPath)
	t.Setenv("AMANRAG_EMBEDDINGS_PROVIDER", "none")
	t.Setenv("NO_COLOR", "1")
	return env
}

// run executes the root command with --config-dir pointing at the env.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config-dir", e.configDir}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func (e *testEnv) writeBundle(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
