package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/soulsense/soulsense-outliers/internal/models"
)

const cohortYAML = `
records:
  - {subject_id: u1, group_key: "26-35", timestamp: 2026-03-01T00:00:00Z, total_score: 1}
  - {subject_id: u2, group_key: "26-35", timestamp: 2026-03-01T00:00:00Z, total_score: 2}
  - {subject_id: u3, group_key: "26-35", timestamp: 2026-03-01T00:00:00Z, total_score: 3}
  - {subject_id: u4, group_key: "26-35", timestamp: 2026-03-01T00:00:00Z, total_score: 4}
  - {subject_id: u5, group_key: "26-35", timestamp: 2026-03-01T00:00:00Z, total_score: 5}
  - {subject_id: u6, group_key: "26-35", timestamp: 2026-03-01T00:00:00Z, total_score: 100}
`

const aliceJSON = `[
  {"subject_id": "alice", "group_key": "18-25", "timestamp": "2026-03-01T00:00:00Z", "total_score": 20},
  {"subject_id": "alice", "group_key": "18-25", "timestamp": "2026-03-02T00:00:00Z", "total_score": 22},
  {"subject_id": "alice", "group_key": "18-25", "timestamp": "2026-03-03T00:00:00Z", "total_score": 21},
  {"subject_id": "alice", "group_key": "18-25", "timestamp": "2026-03-04T00:00:00Z", "total_score": 80},
  {"subject_id": "alice", "group_key": "18-25", "timestamp": "2026-03-05T00:00:00Z", "total_score": 19}
]`

// writeConfig creates a config pointing at a fresh SQLite file and returns
// its path. extra holds further top-level sections.
func writeConfig(t *testing.T, persistReports bool, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
database:
  type: sqlite
  sqlite_path: %s
  persist_reports: %t
logging:
  level: debug
  file_path: %s
  audit_log_path: %s
%s`, filepath.Join(dir, "outliers.db"), persistReports, filepath.Join(dir, "outlierd.log"), filepath.Join(dir, "audit.log"), extra)
	path := filepath.Join(dir, "outliers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := NewRootCommandWithIO(strings.NewReader(stdin), out, out)
	root.SetArgs(append([]string{"--config", configPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func ingestFile(t *testing.T, configPath, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	_, err := run(t, configPath, "", "ingest", path)
	require.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "/nonexistent/outliers.yaml", "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "outlierd "+Version)
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := writeConfig(t, true, "detection:\n  method: lof\n")
	_, err := run(t, cfg, "", "analyze", "global")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed for detection")
}

func TestIngest_StdinJSON(t *testing.T) {
	cfg := writeConfig(t, true, "")
	out, err := run(t, cfg, aliceJSON, "ingest", "-")
	require.NoError(t, err)

	var body struct {
		Saved int     `json:"saved"`
		IDs   []int64 `json:"ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, 5, body.Saved)
	assert.Len(t, body.IDs, 5)
}

func TestIngest_RejectsBadInput(t *testing.T) {
	cfg := writeConfig(t, true, "")

	_, err := run(t, cfg, `[{"group_key": "18-25", "total_score": 3}]`, "ingest", "-")
	assert.ErrorContains(t, err, "subject_id is required")

	_, err = run(t, cfg, `"just a string"`, "ingest", "-")
	assert.Error(t, err)

	_, err = run(t, cfg, "", "ingest", "-")
	assert.Error(t, err)
}

func TestAnalyzeGroup_PersistsAndAudits(t *testing.T) {
	cfg := writeConfig(t, true, "")
	ingestFile(t, cfg, cohortYAML)

	out, err := run(t, cfg, "", "analyze", "group", "26-35", "--method", "iqr")
	require.NoError(t, err)

	var rpt struct {
		ID           string `json:"id"`
		OutlierCount int    `json:"outlier_count"`
		Scope        struct {
			ScopeType  string `json:"scope_type"`
			MethodUsed string `json:"method_used"`
		} `json:"scope"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rpt))
	assert.Equal(t, "age_group", rpt.Scope.ScopeType)
	assert.Equal(t, "iqr", rpt.Scope.MethodUsed)
	assert.Equal(t, 1, rpt.OutlierCount)
	require.NotEmpty(t, rpt.ID)

	out, err = run(t, cfg, "", "reports", "list", "--scope-type", "age_group")
	require.NoError(t, err)
	assert.Contains(t, out, rpt.ID)

	_, err = run(t, cfg, "", "reports", "list", "--scope-type", "planet")
	assert.True(t, errors.Is(err, models.ErrInvalidConfiguration))

	out, err = run(t, cfg, "", "reports", "get", rpt.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"outlier_count": 1`)

	_, err = run(t, cfg, "", "reports", "get", "missing")
	assert.Error(t, err)

	data, err := os.ReadFile(filepath.Join(filepath.Dir(cfg), "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), rpt.ID)
}

func TestAnalyzeGroup_Batch(t *testing.T) {
	cfg := writeConfig(t, false, "")
	ingestFile(t, cfg, cohortYAML)

	out, err := run(t, cfg, "", "analyze", "group", "26-35", "99-100")
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(out))
	var keys []string
	for dec.More() {
		var rpt struct {
			Scope struct {
				ScopeKey string `json:"scope_key"`
			} `json:"scope"`
		}
		require.NoError(t, dec.Decode(&rpt))
		keys = append(keys, rpt.Scope.ScopeKey)
	}
	assert.Equal(t, []string{"26-35", "99-100"}, keys)

	out, err = run(t, cfg, "", "analyze", "group", "99-100", "26-35")
	require.NoError(t, err)
	dec = json.NewDecoder(strings.NewReader(out))
	keys = keys[:0]
	for dec.More() {
		var rpt struct {
			Scope struct {
				ScopeKey string `json:"scope_key"`
			} `json:"scope"`
		}
		require.NoError(t, dec.Decode(&rpt))
		keys = append(keys, rpt.Scope.ScopeKey)
	}
	assert.Equal(t, []string{"99-100", "26-35"}, keys)
}

func TestAnalyzeGlobal_YAML(t *testing.T) {
	cfg := writeConfig(t, true, "")
	ingestFile(t, cfg, cohortYAML)

	out, err := run(t, cfg, "", "--format", "yaml", "analyze", "global")
	require.NoError(t, err)
	assert.Contains(t, out, "scope_type: global")

	_, err = run(t, cfg, "", "--format", "xml", "analyze", "global")
	assert.True(t, errors.Is(err, models.ErrInvalidConfiguration))
}

func TestAnalyze_InvalidOverride(t *testing.T) {
	cfg := writeConfig(t, true, "")

	_, err := run(t, cfg, "", "analyze", "global", "--zscore-threshold=-1")
	assert.True(t, errors.Is(err, models.ErrInvalidConfiguration))

	_, err = run(t, cfg, "", "analyze", "global", "--voting", "at_least", "--min-votes", "9")
	assert.True(t, errors.Is(err, models.ErrInvalidConfiguration))
}

func TestAnalyzeUser_WithInconsistency(t *testing.T) {
	cfg := writeConfig(t, true, "")
	_, err := run(t, cfg, aliceJSON, "ingest", "-")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "analyze", "user", "alice", "--include-inconsistency")
	require.NoError(t, err)
	var rpt struct {
		Inconsistency *struct {
			Flagged *bool `json:"flagged"`
		} `json:"inconsistency"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rpt))
	require.NotNil(t, rpt.Inconsistency)
	require.NotNil(t, rpt.Inconsistency.Flagged)
	assert.True(t, *rpt.Inconsistency.Flagged)
}

func TestAnalyzeInconsistency(t *testing.T) {
	cfg := writeConfig(t, true, "")
	_, err := run(t, cfg, aliceJSON, "ingest", "-")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "analyze", "inconsistency", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, `"flagged": true`)

	// Window ending before any record leaves nothing to judge.
	out, err = run(t, cfg, "", "analyze", "inconsistency", "alice", "--as-of", "2025-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, `"flagged": null`)

	_, err = run(t, cfg, "", "analyze", "inconsistency", "alice", "--window-days", "0")
	assert.True(t, errors.Is(err, models.ErrInvalidConfiguration))

	_, err = run(t, cfg, "", "analyze", "inconsistency", "alice", "--as-of", "yesterday")
	assert.True(t, errors.Is(err, models.ErrInvalidConfiguration))
}

func TestAnalyzeSummary(t *testing.T) {
	cfg := writeConfig(t, true, "")
	ingestFile(t, cfg, cohortYAML)

	out, err := run(t, cfg, "", "analyze", "summary", "--group", "26-35")
	require.NoError(t, err)
	var summary struct {
		Summary struct {
			Count int     `json:"count"`
			Max   float64 `json:"max"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 6, summary.Summary.Count)
	assert.Equal(t, 100.0, summary.Summary.Max)

	_, err = run(t, cfg, "", "analyze", "summary", "--group", "26-35", "--user", "u1")
	assert.Error(t, err)
}

func TestAnalyze_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	cfg := writeConfig(t, true, "")
	ingestFile(t, cfg, cohortYAML)

	for _, args := range [][]string{
		{"analyze", "global"},
		{"analyze", "summary", "--group", "26-35"},
		{"analyze", "inconsistency", "u1"},
	} {
		_, err := run(t, cfg, "", args...)
		require.NoError(t, err, strings.Join(args, " "))
	}

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "analytics.Analyze")
	assert.Contains(t, names, "analytics.Publish")
	assert.Contains(t, names, "analytics.Summarize")
	assert.Contains(t, names, "analytics.AnalyzeInconsistency")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	port := freePort(t)
	cfg := writeConfig(t, true, "server:\n  host: 127.0.0.1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := NewRootCommandWithIO(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	root.SetArgs([]string{"--config", cfg, "serve", "--port", fmt.Sprint(port)})
	errCh := make(chan error, 1)
	go func() { errCh <- root.ExecuteContext(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
