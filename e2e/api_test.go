//go:build e2e

package e2e

import (
	"archive/zip"
	"bytes"
	"condoragent/internal/api"
	"condoragent/internal/command"
	"condoragent/internal/config"
	"condoragent/internal/health"
	"condoragent/internal/history"
	"condoragent/internal/records"
	"condoragent/internal/staging"
	"condoragent/internal/submit"
	"condoragent/internal/testutil"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testEnv is a running agent backed by fake scheduler tools.
type testEnv struct {
	URL       string
	SubmitDir string
	History   string
}

// getTestEnv returns the agent under test.
// If E2E_API_URL is set, tests run against that instance and only the
// HTTP surface is checked. Otherwise a test server is created.
func getTestEnv(t *testing.T) (*testEnv, func()) {
	if url := os.Getenv("E2E_API_URL"); url != "" {
		t.Logf("Using external API: %s", url)
		waitReady(t, url)
		return &testEnv{URL: url}, func() {}
	}

	env, server := createTestServer(t)
	return env, server.Close
}

func waitReady(t *testing.T, baseURL string) {
	t.Helper()
	testutil.MustWaitForStatus(t, baseURL+"/readyz", http.StatusOK,
		testutil.WithTimeout(30*time.Second), testutil.WithInterval(500*time.Millisecond))
}

// createTestServer wires the agent over the real process runner. The fake
// condor_submit uses its pid as the cluster id and appends the finished
// job to the history file a moment later.
func createTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	bin := t.TempDir()
	submitDir := t.TempDir()
	state := t.TempDir()
	hist := filepath.Join(state, "history")
	require(t, os.WriteFile(hist, nil, 0o644))

	writeTool(t, bin, "condor_config_val", fmt.Sprintf(`case "$*" in
  *HISTORY*) echo %q ;;
  *) exit 1 ;;
esac`, hist))
	writeTool(t, bin, "condor_submit", fmt.Sprintf(`id=$$
( sleep 1; printf 'ClusterId = %%s\nEnteredCurrentStatus = %%s\n\n' "$id" "$(date +%%s)" >> %q ) >/dev/null 2>&1 &
echo "Submitting job(s)."
echo "1 job(s) submitted to cluster $id."`, hist))
	writeTool(t, bin, "condor_q", `echo "-- Schedd: fake"`)
	writeTool(t, bin, "condor_history", `cat "$3"`)

	runner := command.NewExec(command.Config{BinDir: bin, Timeout: 30 * time.Second}, nil)
	provider := config.NewCondorProvider(runner)
	ingester := staging.NewIngester(submitDir, nil)
	store := records.NewStore(submitDir)

	checker := health.NewChecker(map[string]health.ReadinessChecker{
		"staging":   health.Optional(ingester),
		"scheduler": command.Binaries{Resolver: runner, Names: []string{"condor_submit", "condor_q", "condor_history", "condor_config_val"}},
	})

	router := api.NewRouter(api.RouterConfig{
		Submitter:     submit.NewService(ingester, runner, store, provider, nil),
		Querier:       history.NewService(runner, provider, nil),
		HealthChecker: checker,
		MaxUploadSize: 1 << 20,
	})

	server := httptest.NewServer(router)
	return &testEnv{URL: server.URL, SubmitDir: submitDir, History: hist}, server
}

func writeTool(t *testing.T, dir, name, body string) {
	t.Helper()
	require(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func require(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func jobArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require(t, err)
		_, err = f.Write([]byte(content))
		require(t, err)
	}
	require(t, w.Close())
	return buf.Bytes()
}

func postSubmit(t *testing.T, baseURL, queue, contentType string, body []byte) (int, string) {
	t.Helper()
	url := baseURL + "/v1/submit"
	if queue != "" {
		url += "?queue=" + queue
	}
	resp, err := http.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestAPI_Readyz(t *testing.T) {
	env, cleanup := getTestEnv(t)
	defer cleanup()

	resp, err := http.Get(env.URL + "/readyz")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result health.Response
	json.NewDecoder(resp.Body).Decode(&result)

	if result.Status != health.StatusHealthy {
		t.Errorf("Expected healthy status, got %s", result.Status)
	}
}

func TestAPI_Livez(t *testing.T) {
	env, cleanup := getTestEnv(t)
	defer cleanup()

	resp, err := http.Get(env.URL + "/livez")
	if err != nil {
		t.Fatalf("Liveness check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestAPI_SubmitAndFollowHistory(t *testing.T) {
	env, cleanup := getTestEnv(t)
	defer cleanup()
	if env.SubmitDir == "" {
		t.Skip("requires the local fake scheduler")
	}

	// Start watching before submitting so the job's completion is newer than the watermark.
	resp, err := http.Get(env.URL + "/v1/jobs")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	resp.Body.Close()
	since := resp.Header.Get(api.CompletedSinceHeader)
	if _, err := strconv.ParseInt(since, 10, 64); err != nil {
		t.Fatalf("Expected numeric %s header, got %q", api.CompletedSinceHeader, since)
	}

	status, clusterID := postSubmit(t, env.URL, "pool1", staging.ContentType, jobArchive(t, map[string]string{
		"job/run.sub": "executable = run.sh\nqueue\n",
		"job/run.sh":  "#!/bin/sh\necho hi\n",
	}))
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, clusterID)
	}
	if _, err := strconv.Atoi(clusterID); err != nil {
		t.Fatalf("Expected a numeric cluster id, got %q", clusterID)
	}

	record := filepath.Join(env.SubmitDir, "pool1-"+clusterID+".cluster")
	if _, err := os.Stat(record); err != nil {
		t.Errorf("Expected submission record %s: %v", record, err)
	}

	var data string
	testutil.MustWaitFor(t, func() bool {
		resp, err := http.Get(env.URL + "/v1/jobs?history=true&completedSince=" + since)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		body, _ := io.ReadAll(resp.Body)
		data = string(body)
		return strings.Contains(data, "ClusterId = "+clusterID)
	}, testutil.WithTimeout(15*time.Second), testutil.WithInterval(250*time.Millisecond))

	if !strings.Contains(data, "-- CompletedSince: ") {
		t.Errorf("Expected a CompletedSince marker in %q", data)
	}
}

func TestAPI_SubmitWithoutJobFile(t *testing.T) {
	env, cleanup := getTestEnv(t)
	defer cleanup()

	status, body := postSubmit(t, env.URL, "", staging.ContentType, jobArchive(t, map[string]string{
		"run.sh": "#!/bin/sh\n",
	}))
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", status, body)
	}
}

func TestAPI_SubmitWrongContentType(t *testing.T) {
	env, cleanup := getTestEnv(t)
	defer cleanup()

	status, _ := postSubmit(t, env.URL, "", "application/json", []byte(`{}`))
	if status != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", status)
	}
}

func TestAPI_InvalidQuery(t *testing.T) {
	env, cleanup := getTestEnv(t)
	defer cleanup()

	resp, err := http.Get(env.URL + "/v1/jobs?completedSince=yesterday")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestAPI_ConcurrentSubmissions(t *testing.T) {
	env, cleanup := getTestEnv(t)
	defer cleanup()
	if env.SubmitDir == "" {
		t.Skip("requires the local fake scheduler")
	}

	const numJobs = 10
	archive := jobArchive(t, map[string]string{"job.sub": "executable = /bin/true\nqueue\n"})

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		mu        sync.Mutex
		ids       = make(map[string]bool)
	)
	for i := 0; i < numJobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(env.URL+"/v1/submit", staging.ContentType, bytes.NewReader(archive))
			if err != nil {
				t.Errorf("Submit %d failed: %v", i, err)
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("Submit %d: expected status 200, got %d: %s", i, resp.StatusCode, body)
				return
			}
			succeeded.Add(1)
			mu.Lock()
			ids[string(body)] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != numJobs {
		t.Fatalf("Expected %d successful submissions, got %d", numJobs, got)
	}
	if len(ids) != numJobs {
		t.Errorf("Expected %d distinct cluster ids, got %d", numJobs, len(ids))
	}

	entries, err := os.ReadDir(env.SubmitDir)
	require(t, err)
	var recordCount, stagingCount int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), records.Extension):
			recordCount++
		case e.IsDir():
			stagingCount++
		}
	}
	if recordCount != numJobs || stagingCount != numJobs {
		t.Errorf("Expected %d records and staging dirs, got %d and %d", numJobs, recordCount, stagingCount)
	}
}
