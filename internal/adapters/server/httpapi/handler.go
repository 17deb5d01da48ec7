// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/evanschultz/trackflow/internal/adapters/server/common"
	"github.com/evanschultz/trackflow/internal/app"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// maxUploadBytes limits multipart attachment uploads.
const maxUploadBytes int64 = 32 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	boards *common.AppServiceAdapter
	router chi.Router
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createContainerRequest struct {
	Title string `json:"title"`
	Color string `json:"color"`
}

type reorderRequest struct {
	OverID string `json:"over_id"`
}

type createEntityRequest struct {
	ContainerID string            `json:"container_id"`
	Fields      map[string]string `json:"fields"`
}

type updateEntityRequest struct {
	Fields map[string]string `json:"fields"`
}

type commentRequest struct {
	Body   string `json:"body"`
	Author string `json:"author"`
}

type gestureRequest struct {
	EntityID string `json:"entity_id"`
	OverID   string `json:"over_id"`
}

// NewHandler constructs one HTTP API adapter over the board service adapter.
func NewHandler(boards *common.AppServiceAdapter) *Handler {
	h := &Handler{boards: boards}
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, APIError{
			Code:    "method_not_allowed",
			Message: "method not allowed",
		})
	})

	r.Get("/projects", h.handleListProjects)
	r.Post("/projects", h.handleCreateProject)

	r.Route("/boards/{kind}", func(r chi.Router) {
		r.Get("/", h.handleBoardState)

		r.Post("/containers", h.handleCreateContainer)
		r.Patch("/containers/{containerID}", h.handleUpdateContainer)
		r.Delete("/containers/{containerID}", h.handleDeleteContainer)
		r.Post("/containers/{containerID}/reorder", h.handleReorderContainers)

		r.Post("/entities", h.handleCreateEntity)
		r.Route("/entities/{entityID}", func(r chi.Router) {
			r.Get("/", h.handleGetEntity)
			r.Patch("/", h.handleUpdateEntity)
			r.Delete("/", h.handleDeleteEntity)
			r.Get("/durations", h.handleEntityDurations)
			r.Post("/comments", h.handleAddComment)
			r.Post("/attachments", h.handleAddAttachment)
			r.Get("/attachments/{attachmentID}", h.handleDownloadAttachment)
			r.Post("/move", h.handleMoveEntity)
		})

		r.Post("/gestures/start", h.handleGestureStart)
		r.Post("/gestures/hover", h.handleGestureHover)
		r.Post("/gestures/end", h.handleGestureEnd)
		r.Post("/gestures/cancel", h.handleGestureCancel)
	})
	h.router = r
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// boardRef reads the board kind from the path and the scope from the query.
func boardRef(r *http.Request) common.BoardRef {
	return common.BoardRef{
		Kind:  chi.URLParam(r, "kind"),
		Scope: strings.TrimSpace(r.URL.Query().Get("scope")),
	}
}

// handleListProjects serves GET `/projects`.
func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.boards.ListProjects(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// handleCreateProject serves POST `/projects`.
func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	project, err := h.boards.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// handleBoardState serves GET `/boards/{kind}`.
func (h *Handler) handleBoardState(w http.ResponseWriter, r *http.Request) {
	state, err := h.boards.BoardState(r.Context(), boardRef(r))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleCreateContainer serves POST `/boards/{kind}/containers`.
func (h *Handler) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	container, err := h.boards.CreateContainer(r.Context(), boardRef(r), req.Title, req.Color)
	writeResult(w, http.StatusCreated, container, err)
}

// handleUpdateContainer serves PATCH `/boards/{kind}/containers/{containerID}`.
func (h *Handler) handleUpdateContainer(w http.ResponseWriter, r *http.Request) {
	var req common.ContainerPatch
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	container, err := h.boards.UpdateContainer(r.Context(), boardRef(r), chi.URLParam(r, "containerID"), req)
	writeResult(w, http.StatusOK, container, err)
}

// handleDeleteContainer serves DELETE `/boards/{kind}/containers/{containerID}`.
func (h *Handler) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	removed, err := h.boards.DeleteContainer(r.Context(), boardRef(r), chi.URLParam(r, "containerID"))
	writeResult(w, http.StatusOK, map[string]any{"deleted_entities": removed}, err)
}

// handleReorderContainers serves POST `/boards/{kind}/containers/{containerID}/reorder`.
func (h *Handler) handleReorderContainers(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	containers, err := h.boards.ReorderContainers(r.Context(), boardRef(r), chi.URLParam(r, "containerID"), req.OverID)
	writeResult(w, http.StatusOK, map[string]any{"containers": containers}, err)
}

// handleCreateEntity serves POST `/boards/{kind}/entities`.
func (h *Handler) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	entity, err := h.boards.CreateEntity(r.Context(), boardRef(r), req.ContainerID, req.Fields)
	writeResult(w, http.StatusCreated, entity, err)
}

// handleGetEntity serves GET `/boards/{kind}/entities/{entityID}`.
func (h *Handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := h.boards.GetEntity(r.Context(), boardRef(r), chi.URLParam(r, "entityID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// handleUpdateEntity serves PATCH `/boards/{kind}/entities/{entityID}`.
func (h *Handler) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req updateEntityRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	entity, err := h.boards.UpdateEntity(r.Context(), boardRef(r), chi.URLParam(r, "entityID"), req.Fields)
	writeResult(w, http.StatusOK, entity, err)
}

// handleDeleteEntity serves DELETE `/boards/{kind}/entities/{entityID}`.
func (h *Handler) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	err := h.boards.DeleteEntity(r.Context(), boardRef(r), chi.URLParam(r, "entityID"))
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeResult(w, http.StatusNoContent, nil, err)
}

// handleEntityDurations serves GET `/boards/{kind}/entities/{entityID}/durations`.
func (h *Handler) handleEntityDurations(w http.ResponseWriter, r *http.Request) {
	report, err := h.boards.EntityDurations(r.Context(), boardRef(r), chi.URLParam(r, "entityID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleAddComment serves POST `/boards/{kind}/entities/{entityID}/comments`.
func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	comment, err := h.boards.AddComment(r.Context(), boardRef(r), chi.URLParam(r, "entityID"), req.Body, req.Author)
	writeResult(w, http.StatusCreated, comment, err)
}

// handleAddAttachment serves multipart POST `/boards/{kind}/entities/{entityID}/attachments`.
func (h *Handler) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErrorFrom(w, fmt.Errorf("parse multipart form: %w", errors.Join(common.ErrInvalidRequest, err)))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorFrom(w, fmt.Errorf("form field file: %w", errors.Join(common.ErrInvalidRequest, err)))
		return
	}
	defer file.Close()

	attachment, err := h.boards.AddAttachment(r.Context(), boardRef(r), chi.URLParam(r, "entityID"), app.AttachmentUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	writeResult(w, http.StatusCreated, attachment, err)
}

// handleDownloadAttachment serves GET `/boards/{kind}/entities/{entityID}/attachments/{attachmentID}`.
func (h *Handler) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	body, attachment, err := h.boards.OpenAttachment(r.Context(), boardRef(r), chi.URLParam(r, "entityID"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", attachment.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.Name))
	if attachment.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(attachment.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// handleMoveEntity serves POST `/boards/{kind}/entities/{entityID}/move`.
func (h *Handler) handleMoveEntity(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.boards.MoveEntity(r.Context(), boardRef(r), chi.URLParam(r, "entityID"), req.OverID)
	writeResult(w, http.StatusOK, result, err)
}

// handleGestureStart serves POST `/boards/{kind}/gestures/start`.
func (h *Handler) handleGestureStart(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "entity_id is required",
		})
		return
	}
	if err := h.boards.StartGesture(r.Context(), boardRef(r), req.EntityID); err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dragging": req.EntityID})
}

// handleGestureHover serves POST `/boards/{kind}/gestures/hover`.
func (h *Handler) handleGestureHover(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.boards.HoverGesture(r.Context(), boardRef(r), req.OverID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGestureEnd serves POST `/boards/{kind}/gestures/end`. A missing over_id cancels the move.
func (h *Handler) handleGestureEnd(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.boards.EndGesture(r.Context(), boardRef(r), req.OverID)
	writeResult(w, http.StatusOK, result, err)
}

// handleGestureCancel serves POST `/boards/{kind}/gestures/cancel`.
func (h *Handler) handleGestureCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.boards.CancelGesture(r.Context(), boardRef(r)); err != nil {
		writeResult(w, http.StatusNoContent, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeResult writes payload with okStatus. Changes whose write was queued
// for retry answer 202 with the applied payload.
func writeResult(w http.ResponseWriter, okStatus int, payload any, err error) {
	switch {
	case err == nil:
		writeJSON(w, okStatus, payload)
	case errors.Is(err, common.ErrWritePending):
		w.Header().Set("X-Trackflow-Write", "pending")
		if payload == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusAccepted, payload)
	default:
		writeErrorFrom(w, err)
	}
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "gesture_conflict",
			Message: err.Error(),
			Hint:    "Finish or cancel the active gesture before starting another.",
		})
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
