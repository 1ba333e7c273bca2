package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalysisService struct {
	progress tracker.ProgressReport
	result   tracker.AnalysisResult
}

func (f *fakeAnalysisService) start(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/progress/", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/progress/") != "42" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(f.progress)
	})
	mux.HandleFunc("/result/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.result)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(configEnv, "")
	t.Setenv(backendURLEnv, "")

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))

	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trackctl.yaml")
	content := "backend:\n  base_url: " + baseURL + "\n" +
		"tracker:\n  poll_interval: 5ms\n  settle_delay: 1ms\n  max_retries: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStatusCommand(t *testing.T) {
	svc := &fakeAnalysisService{progress: tracker.ProgressReport{Progress: 37, Status: "processing"}}
	srv := svc.start(t)

	out, err := runCLI(t, "status", "42", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Job 42: processing 37%")
}

func TestStatusCommand_UnknownStatusAndErrors(t *testing.T) {
	svc := &fakeAnalysisService{progress: tracker.ProgressReport{Progress: 5, Status: "queued_for_gpu"}}
	srv := svc.start(t)

	out, err := runCLI(t, "status", "42", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `unknown ("queued_for_gpu") 5%`)

	_, err = runCLI(t, "status", "missing", "--base-url", srv.URL)
	require.Error(t, err)
	assert.True(t, tracker.IsNotFound(err))

	_, err = runCLI(t, "status", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend base_url is required")
}

func TestResultCommand(t *testing.T) {
	svc := &fakeAnalysisService{result: tracker.AnalysisResult{
		VideoID: "vid-1",
		Events: []tracker.DetectedEvent{
			{Type: "person", Label: "pedestrian", Confidence: 0.92, StartTime: 5, EndTime: 72},
			{Type: "car"},
		},
		Summary: "Two things moved.",
	}}
	srv := svc.start(t)

	out, err := runCLI(t, "result", "42", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Video vid-1")
	assert.Contains(t, out, " 1. person (pedestrian)  0:05-1:12  92%")
	assert.Contains(t, out, " 2. car")
	assert.Contains(t, out, "Analysis complete. 2 events found. Two things moved.")
}

func TestWatchPlain_RecordsHistory(t *testing.T) {
	svc := &fakeAnalysisService{
		progress: tracker.ProgressReport{Progress: 100, Status: "completed", IsCompleted: true},
		result:   tracker.AnalysisResult{Events: []tracker.DetectedEvent{{Type: "person"}}},
	}
	srv := svc.start(t)
	cfgPath := writeConfig(t, srv.URL)
	historyPath := filepath.Join(t.TempDir(), "history.db")

	out, err := runCLI(t, "watch", "42", "--plain", "--config", cfgPath, "--history", historyPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Analysis complete. 1 event found.")

	out, err = runCLI(t, "history", "--history", historyPath)
	require.NoError(t, err)
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "100%")

	out, err = runCLI(t, "history", "42", "--history", historyPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Job 42: completed 100%")
	assert.Contains(t, out, "Analysis complete. 1 event found.")
}

func TestWatchPlain_FailedAnalysis(t *testing.T) {
	svc := &fakeAnalysisService{progress: tracker.ProgressReport{Status: "failed", IsFailed: true}}
	srv := svc.start(t)

	out, err := runCLI(t, "watch", "42", "--plain", "--config", writeConfig(t, srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis failed")
	assert.Contains(t, out, "Video analysis failed.")
}

func TestWatch_RejectsInvalidJobID(t *testing.T) {
	_, err := runCLI(t, "watch", "a/b", "--plain", "--base-url", "http://localhost:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, tracker.ErrInvalidJobID)
}

func TestHistory_Empty(t *testing.T) {
	out, err := runCLI(t, "history", "--history", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "No recorded trackings.")
}

func TestHistory_UnknownJob(t *testing.T) {
	_, err := runCLI(t, "history", "nope", "--history", filepath.Join(t.TempDir(), "empty.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracking not found")
}
