package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"docflow/internal/auth"
	"docflow/internal/search"
	"docflow/internal/store"
)

// ActorHeader carries the caller identity established by the identity
// layer in front of this service.
const ActorHeader = "X-Actor-ID"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	tokens     *auth.Tokens
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// WithTokens makes the server take caller identity from signed bearer
// tokens instead of the actor header.
func (s *HTTPServer) WithTokens(tokens *auth.Tokens) *HTTPServer {
	s.tokens = tokens
	return s
}

// handlerFunc is an actor-scoped handler. Returned errors are written with
// mapError.
type handlerFunc func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error

func (s *HTTPServer) Handler() http.Handler {
	router := httprouter.New()
	router.HandleOPTIONS = true
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNoContent, map[string]any{})
	})
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	router.GET("/api/health", s.health)
	router.HEAD("/api/health", s.health)
	router.GET("/api/ready", s.ready)
	router.HEAD("/api/ready", s.ready)

	router.GET("/api/documents", s.route(s.listDocuments))
	router.GET("/api/documents/:id", s.route(s.getDocument))
	router.PUT("/api/documents/:id/content", s.route(s.saveDocument))
	router.POST("/api/documents/:id/conflicts", s.route(s.detectConflict))
	router.POST("/api/documents/:id/resolve", s.route(s.resolveConflict))
	router.POST("/api/documents/:id/submit", s.route(s.submitDocument))
	router.POST("/api/documents/:id/reedit", s.route(s.reEditDocument))
	router.GET("/api/documents/:id/history", s.route(s.documentHistory))
	router.GET("/api/documents/:id/history/:version", s.route(s.documentVersion))

	router.GET("/api/reviews", s.route(s.listReviews))
	router.GET("/api/reviews/:id", s.route(s.getReview))
	router.POST("/api/reviews/:id/decisions", s.route(s.decideReview))
	router.POST("/api/reviews/:id/transfer", s.route(s.transferReview))

	router.GET("/api/tasks", s.route(s.listTasks))
	router.POST("/api/tasks", s.route(s.assignTask))
	router.GET("/api/tasks/:id", s.route(s.getTask))
	router.POST("/api/tasks/:id/status", s.route(s.updateTaskStatus))
	router.POST("/api/tasks/:id/progress", s.route(s.updateTaskProgress))

	router.GET("/api/search", s.route(s.searchAll))

	return s.withMiddleware(router)
}

// route requires a caller identity and renders handler errors.
func (s *HTTPServer) route(fn handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		actorID, ok := s.identify(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid actor identity", nil)
			return
		}
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			info.actor = actorID
		}
		if err := fn(w, r, ps, actorID); err != nil {
			status, code, message, details := mapError(err)
			if status >= http.StatusInternalServerError {
				log.Printf(`{"request_id":"%s","error":%q}`, requestID(r.Context()), err.Error())
			}
			writeError(w, status, code, message, details)
		}
	}
}

func (s *HTTPServer) identify(r *http.Request) (string, bool) {
	if s.tokens == nil {
		actorID := strings.TrimSpace(r.Header.Get(ActorHeader))
		return actorID, actorID != ""
	}
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return "", false
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return "", false
	}
	return claims.Actor(), true
}

func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": map[string]any{"store": map[string]any{"status": "error", "error": err.Error()}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": map[string]any{"store": map[string]any{"status": "ok"}},
	})
}

func (s *HTTPServer) listDocuments(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) error {
	docs, err := s.service.ListDocuments(r.Context(), store.DocumentFilter{Status: r.URL.Query().Get("status")})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	return nil
}

func (s *HTTPServer) getDocument(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ string) error {
	doc, err := s.service.GetDocument(r.Context(), ps.ByName("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

func (s *HTTPServer) saveDocument(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	var body struct {
		BaseVersion int64  `json:"baseVersion"`
		Content     string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	doc, err := s.service.Save(r.Context(), ps.ByName("id"), body.BaseVersion, body.Content, actorID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

func (s *HTTPServer) detectConflict(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ string) error {
	var body struct {
		BaseVersion int64  `json:"baseVersion"`
		Content     string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	report, err := s.service.DetectConflict(r.Context(), ps.ByName("id"), body.BaseVersion, body.Content)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, report)
	return nil
}

func (s *HTTPServer) resolveConflict(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	var body struct {
		Strategy string `json:"strategy"`
		Content  string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}

	var (
		resolution Resolution
		err        error
	)
	switch body.Strategy {
	case StrategyLocal:
		resolution, err = s.service.ResolveLocal(r.Context(), ps.ByName("id"), body.Content, actorID)
	case StrategyRemote:
		resolution, err = s.service.ResolveRemote(r.Context(), ps.ByName("id"), actorID)
	case StrategyManual:
		resolution, err = s.service.ResolveManual(r.Context(), ps.ByName("id"), body.Content, actorID)
	default:
		return ErrValidation.with("strategy must be local, remote or manual", map[string]any{"strategy": body.Strategy})
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resolution)
	return nil
}

func (s *HTTPServer) submitDocument(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	var body SubmitInput
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	review, err := s.service.Submit(r.Context(), ps.ByName("id"), actorID, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, review)
	return nil
}

func (s *HTTPServer) reEditDocument(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	doc, err := s.service.ReEdit(r.Context(), ps.ByName("id"), actorID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

func (s *HTTPServer) documentHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ string) error {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		return err
	}
	revisions, err := s.service.DocumentHistory(r.Context(), ps.ByName("id"), limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": ps.ByName("id"), "revisions": revisions})
	return nil
}

func (s *HTTPServer) documentVersion(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ string) error {
	version, err := strconv.ParseInt(ps.ByName("version"), 10, 64)
	if err != nil {
		return ErrValidation.with("version must be an integer", nil)
	}
	archived, err := s.service.DocumentVersion(r.Context(), ps.ByName("id"), version)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, archived)
	return nil
}

func (s *HTTPServer) listReviews(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) error {
	query := r.URL.Query()
	reviews, err := s.service.ListReviews(r.Context(), store.ReviewFilter{
		ReviewerID:  query.Get("reviewer"),
		SubmitterID: query.Get("submitter"),
		DocumentID:  query.Get("document"),
		Status:      query.Get("status"),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
	return nil
}

func (s *HTTPServer) getReview(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ string) error {
	review, err := s.service.GetReview(r.Context(), ps.ByName("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, review)
	return nil
}

func (s *HTTPServer) decideReview(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	var body struct {
		Stage    string `json:"stage"`
		Decision string `json:"decision"`
		Comment  string `json:"comment"`
	}
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	review, err := s.service.Decide(r.Context(), ps.ByName("id"), body.Stage, actorID, body.Decision, body.Comment)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, review)
	return nil
}

func (s *HTTPServer) transferReview(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	var body struct {
		ToReviewerID string `json:"toReviewerId"`
		Comment      string `json:"comment"`
	}
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	review, err := s.service.Transfer(r.Context(), ps.ByName("id"), actorID, body.ToReviewerID, body.Comment)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, review)
	return nil
}

func (s *HTTPServer) listTasks(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) error {
	query := r.URL.Query()
	tasks, err := s.service.ListTasks(r.Context(), store.TaskFilter{
		AssigneeID: query.Get("assignee"),
		AssignerID: query.Get("assigner"),
		DocumentID: query.Get("document"),
		Status:     query.Get("status"),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
	return nil
}

func (s *HTTPServer) assignTask(w http.ResponseWriter, r *http.Request, _ httprouter.Params, actorID string) error {
	var body AssignInput
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	body.AssignerID = actorID
	task, err := s.service.Assign(r.Context(), body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, task)
	return nil
}

func (s *HTTPServer) getTask(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ string) error {
	task, err := s.service.GetTask(r.Context(), ps.ByName("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *HTTPServer) updateTaskStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	var body struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	task, err := s.service.UpdateStatus(r.Context(), ps.ByName("id"), body.Status, actorID, body.Note)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *HTTPServer) updateTaskProgress(w http.ResponseWriter, r *http.Request, ps httprouter.Params, actorID string) error {
	var body struct {
		Progress *int `json:"progress"`
	}
	if err := decodeBody(r, &body); err != nil {
		return ErrValidation.with(err.Error(), nil)
	}
	if body.Progress == nil {
		return ErrValidation.with("progress is required", nil)
	}
	task, err := s.service.UpdateProgress(r.Context(), ps.ByName("id"), *body.Progress, actorID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *HTTPServer) searchAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) error {
	query := r.URL.Query()
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		return err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return err
	}
	response := s.service.Search(r.Context(), search.Query{
		Text:         query.Get("q"),
		FilterType:   search.ResultType(query.Get("type")),
		FilterStatus: query.Get("status"),
		Limit:        limit,
		Offset:       offset,
	})
	writeJSON(w, http.StatusOK, response)
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, ErrValidation.with(fmt.Sprintf("%s must be a non-negative integer", key), nil)
	}
	return value, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		info := &requestInfo{id: id}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","actor":"%s","status":%d,"duration_ms":%d}`,
			id,
			r.Method,
			r.URL.Path,
			info.actor,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestInfoKey struct{}

// requestInfo is filled in as the request is handled. actor is the
// identity the route resolved, empty for unauthenticated requests.
type requestInfo struct {
	id    string
	actor string
}

func requestID(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info.id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
