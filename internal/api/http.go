package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/fulfilment"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/preflight"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

type Server struct {
	svc *fulfilment.Service
	mux *http.ServeMux
}

type contextKey string

const requestIDKey contextKey = "req_id"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func NewServer(svc *fulfilment.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Simple path parsing to avoid extra router deps.
	s.mux.HandleFunc("/v1/patron-requests", s.handleCollection)
	s.mux.HandleFunc("/v1/patron-requests/", s.handleRequest)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handlePlace(w, r)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// Expected:
	// /v1/patron-requests/{id}
	// /v1/patron-requests/{id}/audits
	// /v1/patron-requests/{id}/progress
	// /v1/patron-requests/{id}/cancel
	path := strings.TrimPrefix(r.URL.Path, "/v1/patron-requests/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeErr(w, http.StatusBadRequest, "request id required")
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		switch action {
		case "":
			s.handleGet(w, r, id)
		case "audits":
			s.handleAudits(w, r, id)
		default:
			writeErr(w, http.StatusNotFound, "invalid path")
		}
		return

	case http.MethodPost:
		switch action {
		case "progress":
			s.handleProgress(w, r, id)
		case "cancel":
			s.handleCancel(w, r, id)
		default:
			writeErr(w, http.StatusNotFound, "unknown action")
		}
		return

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
}

// --- Handlers ---

type placeReq struct {
	Citation struct {
		BibClusterID string `json:"bibClusterId"`
	} `json:"citation"`
	PickupLocation struct {
		Code string `json:"code"`
	} `json:"pickupLocation"`
	Requestor struct {
		LocalID         string `json:"localId"`
		LocalSystemCode string `json:"localSystemCode"`
		HomeLibraryCode string `json:"homeLibraryCode"`
	} `json:"requestor"`
	Description string `json:"description,omitempty"`
}

type requestResp struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	ActiveWorkflow     string `json:"activeWorkflow,omitempty"`
	BibClusterID       string `json:"bibClusterId"`
	PickupLocationCode string `json:"pickupLocationCode"`
	HomeAgencyCode     string `json:"homeAgencyCode,omitempty"`
	ResolutionCount    int    `json:"resolutionCount"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt"`
}

func toRequestResp(pr model.PatronRequest) requestResp {
	return requestResp{
		ID:                 pr.ID,
		Status:             string(pr.Status),
		ActiveWorkflow:     string(pr.ActiveWorkflow),
		BibClusterID:       pr.BibClusterID,
		PickupLocationCode: pr.PickupLocationCode,
		HomeAgencyCode:     pr.HomeAgencyCode,
		ResolutionCount:    pr.ResolutionCount,
		ErrorMessage:       pr.ErrorMessage,
		CreatedAt:          pr.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          pr.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	cmd := model.PlaceRequestCommand{
		BibClusterID:       req.Citation.BibClusterID,
		PickupLocationCode: req.PickupLocation.Code,
		RequestorLocalID:   req.Requestor.LocalID,
		RequestorSystem:    req.Requestor.LocalSystemCode,
		HomeLibraryCode:    req.Requestor.HomeLibraryCode,
		Description:        req.Description,
	}
	if cmd.BibClusterID == "" || cmd.RequestorLocalID == "" || cmd.RequestorSystem == "" {
		writeErr(w, http.StatusBadRequest, "citation.bibClusterId, requestor.localId and requestor.localSystemCode are required")
		return
	}

	pr, results, err := s.svc.PlaceRequest(r.Context(), cmd)
	if err != nil {
		var cf *preflight.CheckFailedError
		if errors.As(err, &cf) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "preflight failed",
				"checks": results,
			})
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toRequestResp(pr))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	pr, err := s.svc.GetRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "no such request")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRequestResp(pr))
}

type auditResp struct {
	FromStatus  string                 `json:"fromStatus"`
	ToStatus    string                 `json:"toStatus"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   string                 `json:"timestamp"`
}

func (s *Server) handleAudits(w http.ResponseWriter, r *http.Request, id string) {
	audits, err := s.svc.Audits(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]auditResp, 0, len(audits))
	for _, a := range audits {
		out = append(out, auditResp{
			FromStatus:  string(a.FromStatus),
			ToStatus:    string(a.ToStatus),
			Description: a.Description,
			Data:        a.Data,
			Timestamp:   a.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, id string) {
	pr, err := s.svc.Progress(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "no such request")
		return
	}
	if err != nil {
		// The attempt failed; the request now carries ERROR and an audit
		// row. Report the state, not a bare 500.
		writeJSON(w, http.StatusConflict, toRequestResp(pr))
		return
	}
	writeJSON(w, http.StatusOK, toRequestResp(pr))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	var req cancelReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	pr, err := s.svc.Cancel(r.Context(), id, req.Reason)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "no such request")
		return
	}
	if err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRequestResp(pr))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
