package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "imgshrink/internal/platform/errors"
	"imgshrink/internal/utils"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := strings.NewReplacer("$DIR", filepath.ToSlash(dir)).Replace(`
server:
  port: 18080
  static_dir: ""
log:
  log_level: info
  log_dir: $DIR/logs
  log_file: test.log
database:
  path: $DIR/data/test.db
store:
  type: sqlite
watch:
  enabled: true
  inbox: $DIR/inbox
  outbox: $DIR/outbox
`)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitGraphOrder(t *testing.T) {
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"storage:init-database",
		"store:init",
		"pipeline:init-worker",
		"shell:init",
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

func TestExecuteInitStepsFailures(t *testing.T) {
	err := executeInitSteps(context.Background(), []initStep{{ID: "b", DependsOn: []string{"a"}, Execute: func(context.Context, *appState) error { return nil }}}, &appState{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))

	err = executeInitSteps(context.Background(), []initStep{{ID: "a"}}, &appState{})
	assert.Error(t, err)

	err = executeInitSteps(context.Background(), []initStep{{
		ID:      "store",
		Kind:    platformerrors.KindStorage,
		Execute: func(context.Context, *appState) error { return errors.New("disk full") },
	}}, &appState{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindStorage))

	assert.Error(t, executeInitSteps(context.Background(), nil, nil))
}

func TestExecuteInitGraph(t *testing.T) {
	t.Setenv("IMGSHRINK_CONFIG", writeTestConfig(t))

	state := &appState{}
	defer state.close()
	require.NoError(t, executeInitSteps(context.Background(), InitGraph(), state))

	assert.NotNil(t, state.config)
	assert.NotNil(t, state.logger)
	assert.NotNil(t, state.observabilityShutdown)
	assert.NotNil(t, state.db)
	assert.NotNil(t, state.store)
	assert.NotNil(t, state.compressor)
	assert.NotNil(t, state.wsServer)
	assert.NotNil(t, state.watcher)

	rec := httptest.NewRecorder()
	state.router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	state.router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteInitGraphRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: mongo\n"), 0o644))
	t.Setenv("IMGSHRINK_CONFIG", path)

	state := &appState{}
	defer state.close()
	err := executeInitSteps(context.Background(), InitGraph(), state)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
	assert.Nil(t, state.logger)
}

func TestLogBootstrapGraphOutput(t *testing.T) {
	tmp := t.TempDir()
	logCfg := &utils.LogCfg{
		LogLevel: "info",
		LogDir:   tmp,
		LogFile:  "graph.log",
	}
	logger, err := utils.NewLogger(logCfg)
	require.NoError(t, err)
	logBootstrapGraph(logger, InitGraph())
	logger.Close()

	data, err := os.ReadFile(filepath.Join(tmp, logCfg.LogFile))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "init graph overview")
	for _, step := range InitGraph() {
		assert.Contains(t, content, step.ID)
	}
}
