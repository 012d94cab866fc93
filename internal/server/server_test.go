package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/logsort/internal/batch"
	"github.com/raaihank/logsort/internal/classifier"
	"github.com/raaihank/logsort/internal/config"
	"github.com/raaihank/logsort/internal/logger"
)

const uploadCSV = `source,log_message,target_label
ModernCRM,User User123 logged in.,User Action
BillingSystem,Backup started at 2023-10-01 12:00:00,System Notification
AnalyticsEngine,"File report.pdf uploaded successfully by user User456",System Notification
LegacyCRM,"Hey bro, Chill ya!",
ModernHR,Account with ID 1001 created by admin,User Action
`

type fakeSink struct {
	mu      sync.Mutex
	jobID   string
	records []*batch.Record
}

func (f *fakeSink) InsertBatch(_ context.Context, jobID string, records []*batch.Record) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobID = jobID
	f.records = records
	return int64(len(records)), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Output.Path = filepath.Join(t.TempDir(), "output.csv")
	cfg.Upload.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	s, err := New(cfg, classifier.NewDefault(nil), logger.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func do(s *Server, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartFile(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postJSON(s *Server, target, body string) *httptest.ResponseRecorder {
	return do(s, http.MethodPost, target, bytes.NewBufferString(body), "application/json")
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(s, http.MethodGet, "/info", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "logsort", info["name"])
	assert.EqualValues(t, 8, info["total_rules"])
}

func TestRulesEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(s, http.MethodGet, "/rules", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rules []classifier.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, classifier.DefaultRules(), body.Rules)
}

func TestClassifyEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	tests := []struct {
		name      string
		body      string
		status    int
		label     string
		matched   bool
		ruleIndex int
	}{
		{"record", `{"source":"ModernCRM","log_message":"User User123 logged in."}`, http.StatusOK, "User Action", true, 0},
		{"text", `{"text":"System reboot initiated by user User789."}`, http.StatusOK, "System Notification", true, 6},
		{"no match", `{"text":"Hey bro, chill ya!"}`, http.StatusOK, "Unclassified", false, -1},
		{"empty message", `{"log_message":""}`, http.StatusOK, "Unclassified", false, -1},
		{"missing message", `{"source":"ModernCRM"}`, http.StatusBadRequest, "", false, 0},
		{"invalid json", `{"text":`, http.StatusBadRequest, "", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(s, "/classify", tt.body)
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"error"`)
				return
			}

			var got classifyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.label, got.Label)
			assert.Equal(t, tt.matched, got.Matched)
			assert.Equal(t, tt.ruleIndex, got.RuleIndex)
		})
	}
}

func TestDownloadBeforeUpload(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(s, http.MethodGet, "/download", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodGet, "/download/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAndDownload(t *testing.T) {
	sink := &fakeSink{}
	s := newTestServer(t, testConfig(t), WithRecordSink(sink))

	body, contentType := multipartFile(t, "test.csv", uploadCSV)
	rec := do(s, http.MethodPost, "/upload", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	assert.NotEmpty(t, got.JobID)
	assert.Equal(t, "test.csv", got.Filename)
	assert.Equal(t, 5, got.TotalLogs)
	assert.Equal(t, map[string]int{"User Action": 2, "System Notification": 2, "Unclassified": 1}, got.LabelCounts)
	assert.Equal(t, []string{"User Action", "System Notification", "Unclassified"}, got.ChartLabels)
	assert.Equal(t, []int{2, 2, 1}, got.ChartValues)
	require.Len(t, got.StatsTable, 3)
	assert.Equal(t, statsRow{LogClass: "User Action", Count: 2}, got.StatsTable[0])

	assert.Equal(t, 1, got.Unmatched)
	assert.Equal(t, got.Results, got.OutputPreview)

	require.Len(t, got.Results, 5)
	assert.Equal(t, "LegacyCRM", got.Results[3].Source)
	assert.Equal(t, "Unclassified", got.Results[3].PredictedLabel)
	assert.Equal(t, "User Action", got.Results[4].PredictedLabel)

	sink.mu.Lock()
	assert.Equal(t, got.JobID, sink.jobID)
	assert.Len(t, sink.records, 5)
	sink.mu.Unlock()

	rec = do(s, http.MethodGet, "/download", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "output.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "source,log_message,target_label,predicted_label", lines[0])

	rec = do(s, http.MethodGet, "/download/"+got.JobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "test_classified.csv")
	assert.Equal(t, "source,log_message,target_label,predicted_label", strings.SplitN(rec.Body.String(), "\n", 2)[0])
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	t.Run("missing column", func(t *testing.T) {
		body, contentType := multipartFile(t, "bad.csv", "source,message\nA,B\n")
		rec := do(s, http.MethodPost, "/upload", body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "log_message")
	})

	t.Run("no file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("other", "x"))
		require.NoError(t, mw.Close())

		rec := do(s, http.MethodPost, "/upload", &buf, mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		rec := postJSON(s, "/upload", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadHeaderOnly(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	body, contentType := multipartFile(t, "empty.csv", "source,log_message\n")
	rec := do(s, http.MethodPost, "/upload", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	raw := rec.Body.String()
	assert.Contains(t, raw, `"results":[]`)
	assert.Contains(t, raw, `"output_preview":[]`)
	assert.Contains(t, raw, `"stats_table":[]`)
	assert.Contains(t, raw, `"chart_labels":[]`)
	assert.NotContains(t, raw, "null")

	var got uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0, got.TotalLogs)
}

func TestUploadOutputPreviewIsCapped(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	var sb strings.Builder
	sb.WriteString("source,log_message\n")
	for i := 0; i < defaultPreviewRows+5; i++ {
		sb.WriteString("App,Backup completed successfully.\n")
	}

	body, contentType := multipartFile(t, "many.csv", sb.String())
	rec := do(s, http.MethodPost, "/upload", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Results, defaultPreviewRows+5)
	require.Len(t, got.OutputPreview, defaultPreviewRows)
	assert.Equal(t, "System Notification", got.OutputPreview[0].PredictedLabel)
}

func TestPreviewEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	body, contentType := multipartFile(t, "test.csv", uploadCSV)
	rec := do(s, http.MethodPost, "/preview?limit=2", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)

	var got previewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"source", "log_message", "target_label"}, got.Columns)
	require.Len(t, got.Preview, 2)
	assert.Equal(t, "ModernCRM", got.Preview[0]["source"])
	assert.Equal(t, "User User123 logged in.", got.Preview[0]["log_message"])
	assert.Equal(t, got.Preview, got.Rows)

	body, contentType = multipartFile(t, "test.csv", uploadCSV)
	rec = do(s, http.MethodPost, "/preview?limit=zero", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.RateLimit.Enabled = true
	cfg.Upload.RateLimit.RequestsPerMin = 1
	cfg.Upload.RateLimit.Burst = 1
	s := newTestServer(t, cfg)

	rec := postJSON(s, "/classify", `{"text":"Backup completed successfully."}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(s, "/classify", `{"text":"Backup completed successfully."}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// unlimited routes are unaffected
	rec = do(s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetClassifier(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := postJSON(s, "/classify", `{"text":"Hey bro, chill ya!"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"matched":false`)

	rules, err := classifier.NewRuleSet([]classifier.Rule{{Pattern: `chill`, Label: "Casual"}})
	require.NoError(t, err)
	s.SetClassifier(classifier.New(rules, nil))

	rec = postJSON(s, "/classify", `{"text":"Hey bro, chill ya!"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got classifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, classifyResponse{Label: "Casual", Matched: true, RuleIndex: 0}, got)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	postJSON(s, "/classify", `{"text":"User User1 logged out."}`)

	rec := do(s, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `logsort_classifications_total{label="User Action"} 1`)
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(s, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/upload")
}
