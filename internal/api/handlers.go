package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/ingest"
	"github.com/sells-group/dropout-risk/internal/model"
	"github.com/sells-group/dropout-risk/internal/store"
)

const (
	defaultUploadMB   = 10
	maxListLimit      = 1000
	defaultStatsHours = 24
	maxStatsHours     = 24 * 365
)

type healthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelVersion string `json:"model_version,omitempty"`
}

type batchResponse struct {
	Predictions []model.Assessment `json:"predictions"`
	N           int                `json:"n"`
}

type reloadRequest struct {
	Path string `json:"path"`
}

type retrainRequest struct {
	CSVPath string `json:"csv_path"`
}

type retrainResponse struct {
	model.ModelVersion
	Report *bundle.TrainReport `json:"report"`
}

type predictionsResponse struct {
	Predictions []model.PredictionRecord `json:"predictions"`
	N           int                      `json:"n"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if mv, ok := s.scorer.Active(); ok {
		resp.ModelLoaded = true
		resp.ModelVersion = mv.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePredict scores a JSON object or a JSON array of objects.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit())

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var input any
	if err := dec.Decode(&input); err != nil {
		writeError(w, decodeError(err))
		return
	}

	res, err := s.scorer.Score(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	if res.Single != nil {
		var id string
		if m, ok := input.(map[string]any); ok {
			id = ingest.StudentID(m)
		}
		s.save(r.Context(), []string{id}, []model.Assessment{*res.Single}, model.SourceInteractive)
		writeJSON(w, http.StatusOK, res.Single)
		return
	}

	items, _ := input.([]any)
	ids := make([]string, len(res.Batch))
	for i := range ids {
		if i < len(items) {
			if m, ok := items[i].(map[string]any); ok {
				ids[i] = ingest.StudentID(m)
			}
		}
	}
	s.save(r.Context(), ids, res.Batch, model.SourceInteractive)
	writeJSON(w, http.StatusOK, batchResponse{Predictions: res.Batch, N: len(res.Batch)})
}

// handlePredictBatch scores an uploaded CSV or XLSX table.
func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	limit := s.uploadLimit()
	tooLargeBody := errorBody{
		Error:   "payload_too_large",
		Message: "upload exceeds " + strconv.FormatInt(limit>>20, 10) + " MB",
	}
	if r.ContentLength > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, tooLargeBody)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, tooLargeBody)
			return
		}
		writeError(w, apperr.Wrap(err, apperr.InvalidInputKind, "expected a multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.InvalidInputKind, "form field \"file\" is required"))
		return
	}
	defer file.Close() //nolint:errcheck

	format, err := ingest.FormatOf(header.Filename)
	if err != nil || (format != ingest.FormatCSV && format != ingest.FormatXLSX) {
		writeError(w, apperr.New(apperr.InvalidInputKind, "unsupported file %q (want .csv or .xlsx)", header.Filename))
		return
	}

	recs, _, err := ingest.Read(r.Context(), format, file)
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.InvalidInputKind, "could not parse %s", header.Filename))
		return
	}
	if len(recs) == 0 {
		writeError(w, apperr.New(apperr.InvalidInputKind, "%s has no data rows", header.Filename))
		return
	}

	out, err := s.scorer.ScoreBatch(r.Context(), recs)
	if err != nil {
		writeError(w, err)
		return
	}

	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = ingest.StudentID(rec)
	}
	s.save(r.Context(), ids, out, model.SourceBatch)

	zap.L().Info("api: batch scored",
		zap.String("file", header.Filename),
		zap.Int("rows", len(out)),
	)
	writeJSON(w, http.StatusOK, batchResponse{Predictions: out, N: len(out)})
}

// handleReload swaps in the bundle at the requested path, or the configured
// path when none is given.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.modelPath == "" {
		writeError(w, apperr.New(apperr.ModelUnavailable, "no model path configured"))
		return
	}
	path, err := confine(req.Path, s.modelPath)
	if err != nil {
		writeError(w, err)
		return
	}

	mv, err := s.scorer.Reload(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordVersion(r.Context(), mv)
	writeJSON(w, http.StatusOK, mv)
}

// handleRetrain trains a new bundle from a labelled table on the server's
// disk and makes it active.
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	var req retrainRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.train.CSVPath == "" {
		writeError(w, apperr.New(apperr.InvalidInputKind, "no training data path configured"))
		return
	}
	if s.modelPath == "" {
		writeError(w, apperr.New(apperr.ModelUnavailable, "no model path configured for the retrained bundle"))
		return
	}
	data, err := confine(req.CSVPath, s.train.CSVPath)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := os.Stat(data); err != nil {
		writeError(w, apperr.Wrap(err, apperr.InvalidInputKind, "training data %s is not readable", data))
		return
	}

	mv, report, err := s.scorer.Retrain(r.Context(), s.train, data, s.modelPath)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordVersion(r.Context(), mv)
	writeJSON(w, http.StatusOK, retrainResponse{ModelVersion: mv, Report: report})
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PredictionFilter{
		Limit:     store.DefaultListLimit,
		StudentID: q.Get("student_id"),
		Source:    model.PredictionSource(q.Get("source")),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			writeError(w, apperr.New(apperr.InvalidInputKind, "limit must be between 1 and %d", maxListLimit))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperr.New(apperr.InvalidInputKind, "offset must be >= 0"))
			return
		}
		filter.Offset = n
	}
	if v := q.Get("tier"); v != "" {
		tier := model.Tier(v)
		if !tier.Valid() {
			writeError(w, apperr.New(apperr.InvalidInputKind, "unknown tier %q", v))
			return
		}
		filter.Tier = tier
	}

	recs, err := s.store.ListPredictions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []model.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, predictionsResponse{Predictions: recs, N: len(recs)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := defaultStatsHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxStatsHours {
			writeError(w, apperr.New(apperr.InvalidInputKind, "hours must be between 1 and %d", maxStatsHours))
			return
		}
		hours = n
	}

	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// save persists scored rows. Store failures are logged, never surfaced to
// the caller.
func (s *Server) save(ctx context.Context, ids []string, out []model.Assessment, src model.PredictionSource) {
	recs := make([]model.PredictionRecord, len(out))
	for i, a := range out {
		var id string
		if i < len(ids) {
			id = ids[i]
		}
		recs[i] = model.NewPredictionRecord(id, a, src)
	}
	if err := s.store.SavePredictions(ctx, recs); err != nil {
		zap.L().Warn("api: save predictions", zap.Int("count", len(recs)), zap.Error(err))
	}
}

func (s *Server) recordVersion(ctx context.Context, mv model.ModelVersion) {
	if err := s.store.RecordModelVersion(ctx, mv); err != nil {
		zap.L().Warn("api: record model version", zap.String("version", mv.Version), zap.Error(err))
	}
}

// confine resolves a requested path against the configured one. An empty
// request selects the configured path; any other path must lie in the same
// directory tree.
func confine(requested, configured string) (string, error) {
	if requested == "" {
		return configured, nil
	}
	base, err := filepath.Abs(filepath.Dir(configured))
	if err != nil {
		return "", apperr.Wrap(err, apperr.InvalidInputKind, "resolve %s", configured)
	}
	p := requested
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.New(apperr.InvalidInputKind, "path %q is outside %s", requested, base)
	}
	return p, nil
}

func (s *Server) uploadLimit() int64 {
	mb := s.cfg.MaxUploadMB
	if mb <= 0 {
		mb = defaultUploadMB
	}
	return int64(mb) << 20
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return apperr.New(apperr.InvalidInputKind, "request body is empty")
	case errors.As(err, &tooLarge):
		return apperr.Wrap(err, apperr.InvalidInputKind, "request body exceeds %d bytes", tooLarge.Limit)
	default:
		return apperr.Wrap(err, apperr.InvalidInputKind, "request body is not valid JSON")
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v unset.
func decodeOptional(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(err, apperr.InvalidInputKind, "request body is not valid JSON")
	}
	return nil
}
