package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
)

const defaultNotificationPageSize = 100

type createNotificationRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=2000"`
	Type    string `json:"type" validate:"omitempty,oneof=info success warning error"`
}

func (h *AccountHandler) ListNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		limit := queryLimit(r, defaultNotificationPageSize, 500)
		notifications, err := h.Store.ListNotifications(r.Context(), u.ID, limit)
		if err != nil {
			h.Logger.Error("list notifications", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Server Error")
			return
		}
		if notifications == nil {
			notifications = []models.Notification{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
	}
}

func (h *AccountHandler) CreateNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		var req createNotificationRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.ensureUser(r.Context(), u); err != nil {
			h.Logger.Error("create notification: ensure user", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Server Error")
			return
		}
		n := &models.Notification{
			UserID:  u.ID,
			Title:   req.Title,
			Message: req.Message,
			Type:    req.Type,
		}
		if err := h.Store.CreateNotification(r.Context(), n); err != nil {
			h.Logger.Error("create notification", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Server Error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "notification": n})
	}
}

type markNotificationRequest struct {
	IsRead *bool `json:"is_read"`
}

// MarkNotification sets is_read on one of the caller's notifications; an
// empty body marks it read.
func (h *AccountHandler) MarkNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "notification id is required")
			return
		}

		var req markNotificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		read := true
		if req.IsRead != nil {
			read = *req.IsRead
		}

		err := h.Store.SetNotificationRead(r.Context(), u.ID, id, read)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Notification not found")
			return
		}
		if err != nil {
			h.Logger.Error("mark notification", zap.String("user_id", u.ID), zap.String("notification_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Server Error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

type feedbackRequest struct {
	FeedbackType string `json:"feedbackType" validate:"required,oneof=general bug feature"`
	FeedbackText string `json:"feedbackText" validate:"required,min=1,max=5000"`
}

func (h *AccountHandler) CreateFeedback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		var req feedbackRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.ensureUser(r.Context(), u); err != nil {
			h.Logger.Error("create feedback: ensure user", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to insert feedback")
			return
		}
		f := &models.Feedback{UserID: u.ID, FeedbackType: req.FeedbackType, Content: req.FeedbackText}
		if err := h.Store.CreateFeedback(r.Context(), f); err != nil {
			h.Logger.Error("create feedback", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to insert feedback")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Feedback created successfully"})
	}
}
