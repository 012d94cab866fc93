package server

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/logsort/internal/batch"
	"github.com/raaihank/logsort/internal/classifier"
	"github.com/raaihank/logsort/internal/export"
	"github.com/raaihank/logsort/internal/jobs"
	"github.com/raaihank/logsort/internal/websocket"
)

const defaultPreviewRows = 10

type classifyRequest struct {
	Source     string  `json:"source"`
	LogMessage *string `json:"log_message"`
	Text       *string `json:"text"`
}

type classifyResponse struct {
	Label     string `json:"label"`
	Matched   bool   `json:"matched"`
	RuleIndex int    `json:"rule_index"`
}

type statsRow struct {
	LogClass string `json:"log_class"`
	Count    int    `json:"count"`
}

type uploadResponse struct {
	JobID         string          `json:"job_id"`
	Filename      string          `json:"filename"`
	TotalLogs     int             `json:"total_logs"`
	Skipped       int             `json:"skipped"`
	Unmatched     int             `json:"unmatched"`
	LabelCounts   map[string]int  `json:"label_counts"`
	ChartLabels   []string        `json:"chart_labels"`
	ChartValues   []int           `json:"chart_values"`
	StatsTable    []statsRow      `json:"stats_table"`
	OutputPreview []*batch.Record `json:"output_preview"`
	Results       []*batch.Record `json:"results"`
}

// previewResponse carries rows keyed by header under both "preview" and "rows"
type previewResponse struct {
	Columns []string            `json:"columns"`
	Preview []map[string]string `json:"preview"`
	Rows    []map[string]string `json:"rows"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cls := s.Classifier()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":               "logsort",
		"version":            Version,
		"total_rules":        len(cls.Rules()),
		"labels":             cls.Labels(),
		"unclassified_label": s.unclassifiedLabel(),
		"jobs_backend":       s.config.Jobs.Backend,
		"database_enabled":   s.sink != nil,
		"websocket_clients":  s.wsHub.ClientCount(),
	})
}

// handleRules returns the rule table in priority order
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":              s.Classifier().Rules(),
		"unclassified_label": s.unclassifiedLabel(),
	})
}

// handleClassify classifies a single log line
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var message string
	switch {
	case req.LogMessage != nil:
		message = *req.LogMessage
	case req.Text != nil:
		message = *req.Text
	default:
		writeError(w, http.StatusBadRequest, "log_message or text is required")
		return
	}

	start := time.Now()
	result := s.Classifier().ClassifyRecord(req.Source, message)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveResult(result, elapsed)
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeClassification,
		Timestamp: time.Now(),
		RequestID: getRequestID(r.Context()),
		Data: websocket.ClassificationEvent{
			Source:    req.Source,
			Label:     result.LabelOr(s.unclassifiedLabel()),
			Matched:   result.Matched,
			RuleIndex: result.RuleIndex,
			ElapsedMS: float64(elapsed.Microseconds()) / 1000,
		},
	})

	writeJSON(w, http.StatusOK, classifyResponse{
		Label:     result.LabelOr(s.unclassifiedLabel()),
		Matched:   result.Matched,
		RuleIndex: result.RuleIndex,
	})
}

// handleUpload classifies every record of an uploaded file
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	file, filename, ok := s.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	processor := batch.NewProcessor(s.Classifier(), batch.Config{
		BatchSize:         s.config.Batch.BatchSize,
		WorkerCount:       s.config.Batch.WorkerCount,
		UnclassifiedLabel: s.unclassifiedLabel(),
	}, log.Logger)

	result, err := processor.Process(r.Context(), file, batch.DetectFormat(filename))
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveBatchFailure()
		}
		log.Warn("Failed to classify upload", zap.String("filename", filename), zap.Error(err))
		if errors.Is(err, batch.ErrMissingColumn) {
			writeError(w, http.StatusBadRequest, "CSV must contain 'source' and 'log_message' columns")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to process file")
		return
	}

	csvData, err := s.output.Save(result)
	if err != nil {
		log.Error("Failed to write classified output", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to write output")
		return
	}

	job := jobs.NewJob(filename, result, csvData)
	jobLog := log.WithJobID(job.ID)
	if err := s.jobs.Save(r.Context(), job); err != nil {
		jobLog.Error("Failed to retain job", zap.Error(err))
	}

	if s.sink != nil {
		if n, err := s.sink.InsertBatch(r.Context(), job.ID, result.Records); err != nil {
			jobLog.Error("Failed to persist classified records", zap.Error(err))
		} else {
			jobLog.Debug("Classified records persisted", zap.Int64("rows", n))
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveBatch(result.Summary, s.unclassifiedLabel(), result.Duration)
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeBatchCompleted,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.BatchCompletedEvent{
			JobID:       job.ID,
			Filename:    filename,
			TotalLogs:   result.Summary.Total,
			Skipped:     result.Skipped,
			LabelCounts: result.Summary.Counts,
			DurationMS:  float64(result.Duration.Microseconds()) / 1000,
		},
	})

	jobLog.Info("Upload classified",
		zap.String("filename", filename),
		zap.Int("total_logs", result.Summary.Total),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)

	labels := result.Summary.ChartLabels()
	values := result.Summary.ChartValues()
	stats := make([]statsRow, len(labels))
	for i := range labels {
		stats[i] = statsRow{LogClass: labels[i], Count: values[i]}
	}

	head := result.Records
	if len(head) > defaultPreviewRows {
		head = head[:defaultPreviewRows]
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		JobID:         job.ID,
		Filename:      filename,
		TotalLogs:     result.Summary.Total,
		Skipped:       result.Skipped,
		Unmatched:     result.Summary.Unmatched,
		LabelCounts:   result.Summary.Counts,
		ChartLabels:   labels,
		ChartValues:   values,
		StatsTable:    stats,
		OutputPreview: head,
		Results:       result.Records,
	})
}

// handlePreview returns the first rows of an uploaded CSV as-is
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit := defaultPreviewRows
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	file, _, ok := s.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	columns, rows, err := batch.Preview(file, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read CSV")
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{Columns: columns, Preview: rows, Rows: rows})
}

// handleDownload serves the most recent classified CSV
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	data, err := s.output.Read()
	if errors.Is(err, export.ErrNoOutput) {
		writeError(w, http.StatusNotFound, "no output file available, upload a CSV first")
		return
	}
	if err != nil {
		s.logger.Error("Failed to read output file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read output")
		return
	}

	writeCSV(w, "output.csv", data)
}

// handleJobDownload serves the CSV of a retained job
func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]

	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.WithJobID(jobID).Error("Failed to load job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	base := filepath.Base(job.Filename)
	name := strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), `"`, "")
	if name == "" || name == "." || name == "/" {
		name = "output"
	}
	writeCSV(w, name+"_classified.csv", job.CSV)
}

// formFile reads the multipart "file" field, writing the error response itself
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Upload.MaxFileSize)
	if err := r.ParseMultipartForm(s.config.Upload.MaxFileSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return nil, "", false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return nil, "", false
	}
	return file, header.Filename, true
}

func (s *Server) unclassifiedLabel() string {
	if s.config.Classifier.UnclassifiedLabel == "" {
		return classifier.UnclassifiedLabel
	}
	return s.config.Classifier.UnclassifiedLabel
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeCSV(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
