package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/iris/internal/indexer"
	"github.com/hyperjump/iris/internal/models"
	"github.com/hyperjump/iris/internal/storage"
	"go.uber.org/zap"
)

const defaultListLimit = 100

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

type extractResponse struct {
	models.FeatureRecord
	ExtractionID string    `json:"extraction_id"`
	ImageName    string    `json:"image_name"`
	Timestamp    time.Time `json:"timestamp"`
	Indexed      bool      `json:"indexed"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if _, err := s.readFields(w, r); err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	up, err := s.saveUpload(r)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	if up == nil {
		s.respondError(w, http.StatusBadRequest, "missing image file")
		return
	}
	s.logger.Debug("extract request", zap.String("image", up.Name))
	res, err := s.indexer.Ingest(r.Context(), up.Path, up.Name, indexer.SourceUpload)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	features := res.Features
	features.Embedding = nil
	s.respondJSON(w, http.StatusCreated, extractResponse{
		FeatureRecord: features,
		ExtractionID:  res.Entry.ID,
		ImageName:     res.Entry.ImageName,
		Timestamp:     res.Entry.Timestamp,
		Indexed:       res.Indexed,
	})
}

func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultListLimit)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	var entries []models.ExtractionEntry
	if q := r.URL.Query().Get("q"); q != "" {
		entries, err = s.indexer.SearchText(r.Context(), q, limit)
		if err != nil {
			s.respondErr(w, r, err, nil)
			return
		}
	} else {
		entries = s.ledger.List()
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"extractions": entries,
		"total":       s.ledger.Len(),
	})
}

func (s *Server) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete extraction request", zap.String("id", id))
	if !s.indexer.Delete(r.Context(), id) {
		s.respondError(w, http.StatusNotFound, "extraction not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	fields, err := s.readFields(w, r)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	k, err := parseLimit(fields["k"], s.config.Vector.DefaultK)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	up, err := s.saveUpload(r)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	if up == nil {
		s.respondError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer func() { _ = os.RemoveAll(filepath.Dir(up.Path)) }()

	results, err := s.indexer.SearchSimilar(r.Context(), up.Path, k)
	if errors.Is(err, indexer.ErrNoEmbedding) {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   up.Name,
		"k":       k,
		"results": results,
	})
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	fields, err := s.readFields(w, r)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	up, err := s.saveUpload(r)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	q := models.DescribeQuery{
		Prompt:    fields["prompt"],
		Model:     fields["model"],
		RequestID: requestID(r),
	}
	if up != nil {
		q.ImagePath, q.ImageName = up.Path, up.Name
		defer func() { _ = os.RemoveAll(filepath.Dir(up.Path)) }()
	}
	res, err := s.assistant.Describe(r.Context(), q)
	if res != nil {
		res.Features.Embedding = nil
	}
	if err != nil {
		extra := map[string]any{}
		if res != nil {
			extra["features"] = res.Features
			extra["request_id"] = res.RequestID
		}
		s.respondErr(w, r, err, extra)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleReason(w http.ResponseWriter, r *http.Request) {
	fields, err := s.readFields(w, r)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	q := models.ReasonQuery{
		SessionID: fields["session_id"],
		Prompt:    fields["prompt"],
		Model:     fields["model"],
		RequestID: requestID(r),
	}
	// An existing session keeps its image; uploads are only stored for new ones.
	if q.SessionID == "" {
		up, err := s.saveUpload(r)
		if err != nil {
			s.respondErr(w, r, err, nil)
			return
		}
		if up != nil {
			q.ImagePath, q.ImageName = up.Path, up.Name
		}
	}
	res, err := s.assistant.Reason(r.Context(), q)
	if err != nil {
		extra := map[string]any{}
		if res != nil && res.SessionID != "" {
			extra["session_id"] = res.SessionID
		}
		s.respondErr(w, r, err, extra)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	fields, err := s.readFields(w, r)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	id := fields["session_id"]
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"ended":      s.assistant.EndSession(id),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.assistant.Sessions()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.assistant.Session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLLMHealth(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	status, err := s.assistant.Health(r.Context(), model)
	if err != nil {
		if model == "" {
			model = s.assistant.DefaultModel()
		}
		s.respondJSON(w, http.StatusBadGateway, map[string]string{
			"status":   "error",
			"base_url": s.config.LLM.BaseURL,
			"model":    model,
			"error":    err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"extractions":       s.ledger.Len(),
		"vector_index_size": s.vectors.Size(),
		"sessions":          len(s.assistant.Sessions()),
	}
	configInfo := map[string]interface{}{
		"vector_dimensions": s.vectors.Dimensions(),
		"model":             s.config.LLM.Model,
		"llm_base_url":      s.config.LLM.BaseURL,
		"extractor_url":     s.config.Extractor.URL,
		"persist_ledger":    s.config.Storage.PersistLedger,
		"database_path":     s.config.Storage.DatabasePath,
		"vector_index_path": s.config.Storage.VectorIndexPath,
		"upload_dir":        s.config.Server.UploadDir,
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.VectorIndexPath,
		s.config.Storage.BleveIndexPath,
		s.config.Server.UploadDir,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Debug("status: disk usage failed", zap.Error(err))
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}
