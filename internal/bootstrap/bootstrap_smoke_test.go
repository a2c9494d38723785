package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicenote-ingest-go/internal/platform/config"
	platformerrors "voicenote-ingest-go/internal/platform/errors"
	"voicenote-ingest-go/internal/platform/logging"
	httptransport "voicenote-ingest-go/internal/transport/http"
)

const testConfig = `
log:
  log_level: info
  log_dir: %[1]s/logs
vault:
  root: %[1]s/vault
asr:
  provider: %[2]s
ingest:
  enabled: true
  output_folder: Transcriptions
journal:
  enabled: true
history:
  driver: sqlite
  sqlite:
    path: %[1]s/data/history.db
server:
  enabled: true
  addr: 127.0.0.1:0
`

func writeConfig(t *testing.T, provider string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vault"), 0o755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfig, dir, provider)), 0o644))
	return path
}

func prepare(t *testing.T, provider string) *App {
	t.Helper()
	app, err := Prepare(context.Background(), Options{ConfigPath: writeConfig(t, provider), Quiet: true, Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestInitGraphOrder(t *testing.T) {
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"system:probe",
		"storage:init-history",
		"components:init",
	}
	steps := InitGraph()
	require.Len(t, steps, len(want))
	seen := map[string]bool{}
	for i, step := range steps {
		assert.Equal(t, want[i], step.ID)
		for _, dep := range step.DependsOn {
			assert.True(t, seen[dep], "%s depends on later step %s", step.ID, dep)
		}
		seen[step.ID] = true
	}
}

func TestExecuteInitSteps(t *testing.T) {
	state := &appState{}

	err := executeInitSteps(context.Background(), []initStep{
		{ID: "b", DependsOn: []string{"a"}, Execute: func(context.Context, *appState) error { return nil }},
	}, state)
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))

	err = executeInitSteps(context.Background(), []initStep{
		{ID: "a", Kind: platformerrors.KindStorage, Execute: func(context.Context, *appState) error {
			return errors.New("disk full")
		}},
	}, state)
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindStorage))
	assert.Contains(t, err.Error(), "disk full")

	err = executeInitSteps(context.Background(), []initStep{{ID: "a"}}, state)
	assert.Error(t, err)
}

func TestLogBootstrapGraph(t *testing.T) {
	var buf bytes.Buffer
	logBootstrapGraph(InitGraph(), logging.NewWriter(&buf, "info"))
	out := buf.String()
	assert.Contains(t, out, "初始化依赖关系概览")
	assert.Contains(t, out, "components:init")
	assert.Contains(t, out, "storage:init-history")
}

func TestPrepare(t *testing.T) {
	app := prepare(t, "whisper")

	assert.NotEqual(t, "default", app.ConfigPath())
	orch, err := app.Transcriber()
	require.NoError(t, err)
	assert.Equal(t, "whisper", orch.Provider().Name())

	stats, err := app.History().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats["type"])
	assert.True(t, app.Ingest().Status().Enabled)
}

func TestPrepareWithoutProviderKeepsRunning(t *testing.T) {
	// zhipu 缺少 api_key
	app := prepare(t, "zhipu")

	_, err := app.Transcriber()
	require.Error(t, err)
	assert.False(t, app.Ingest().Status().Enabled)
}

func TestPrepareFailsOnBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("asr:\n  provider: nope\n"), 0o644))

	_, err := Prepare(context.Background(), Options{ConfigPath: path, Quiet: true})
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
}

func TestReload(t *testing.T) {
	app := prepare(t, "whisper")
	ctx := context.Background()

	next := *app.Config()
	next.Ingest.Enabled = false
	require.NoError(t, app.Reload(ctx, &next))
	assert.False(t, app.Ingest().Status().Enabled)
	assert.Same(t, &next, app.Config())

	// 新配置无法创建提供者时保留旧快照
	broken := next
	broken.ASR.Provider = "zhipu"
	require.Error(t, app.Reload(ctx, &broken))
	assert.Same(t, &next, app.Config())
	_, err := app.Transcriber()
	assert.NoError(t, err)
}

func TestHandlerStatus(t *testing.T) {
	app := prepare(t, "whisper")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router, err := app.Handler(ctx)
	require.NoError(t, err)
	srv := httptest.NewServer(router.Engine)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body httptransport.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	data := body.Data.(map[string]any)
	assert.Equal(t, "whisper", data["provider"])
	assert.Equal(t, false, data["journal"].(map[string]any)["running"])
	assert.EqualValues(t, 0, data["websocket_clients"])
}

func TestServeStopsOnCancel(t *testing.T) {
	app := prepare(t, "whisper")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return app.Ingest().IsRunning() && app.Journal().IsRunning()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.False(t, app.Ingest().IsRunning())
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.NoError(t, config.Validate(cfg))
}
