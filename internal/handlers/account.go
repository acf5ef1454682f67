package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/middleware"
	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
)

// AccountStore is the persistence behind the signed-in user's own records.
type AccountStore interface {
	EnsureUser(ctx context.Context, id string, email *string) (*models.User, error)
	GetOrCreateProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.UserProfile, error)
	GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	UpsertNotificationSettings(ctx context.Context, userID string, email bool, prefs models.NotificationPreferences) error
	UpsertPrivacySettings(ctx context.Context, userID string, prefs models.PrivacyPreferences) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	SetNotificationRead(ctx context.Context, userID, id string, read bool) error
	CreateFeedback(ctx context.Context, f *models.Feedback) error
}

// AccountHandler serves profile, settings, notification and feedback routes.
type AccountHandler struct {
	Store           AccountStore
	FeedbackLimiter *middleware.KeyedLimiter
	Logger          *zap.Logger
}

// NewAccountHandler creates an AccountHandler. A nil limiter disables
// feedback rate limiting.
func NewAccountHandler(s AccountStore, feedbackLimiter *middleware.KeyedLimiter, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{Store: s, FeedbackLimiter: feedbackLimiter, Logger: logger}
}

// RegisterRoutes mounts the account routes. The router must already carry
// the session middleware.
func (h *AccountHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/user-profile", h.GetProfile())
	router.Patch("/api/user-profile", h.UpdateProfile())
	router.Get("/api/notification-settings", h.GetNotificationSettings())
	router.Post("/api/notification-settings", h.SaveNotificationSettings())
	router.Get("/api/privacy-settings", h.GetPrivacySettings())
	router.Post("/api/privacy-settings", h.SavePrivacySettings())
	router.Get("/api/notifications", h.ListNotifications())
	router.Post("/api/notifications", h.CreateNotification())
	router.Patch("/api/notifications/{id}", h.MarkNotification())

	if h.FeedbackLimiter != nil {
		router.With(middleware.RateLimitByUser(h.FeedbackLimiter)).Post("/api/feedback", h.CreateFeedback())
	} else {
		router.Post("/api/feedback", h.CreateFeedback())
	}
}

// ensureUser makes sure the users row referenced by every account table exists.
func (h *AccountHandler) ensureUser(ctx context.Context, u middleware.User) error {
	_, err := h.Store.EnsureUser(ctx, u.ID, emailPtr(u.Email))
	return err
}

func (h *AccountHandler) GetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		if err := h.ensureUser(r.Context(), u); err != nil {
			h.Logger.Error("get profile: ensure user", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to get profile")
			return
		}
		profile, err := h.Store.GetOrCreateProfile(r.Context(), u.ID)
		if err != nil {
			h.Logger.Error("get profile", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to get profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
	}
}

func (h *AccountHandler) UpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		var req models.ProfileUpdate
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.ensureUser(r.Context(), u); err != nil {
			h.Logger.Error("update profile: ensure user", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to update profile")
			return
		}
		profile, err := h.Store.UpsertProfile(r.Context(), u.ID, req)
		if err != nil {
			h.Logger.Error("update profile", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to update profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": profile})
	}
}

// settingsOrDefault returns the stored settings or the column defaults.
func (h *AccountHandler) settingsOrDefault(ctx context.Context, userID string) (*models.UserSettings, error) {
	settings, err := h.Store.GetUserSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.UserSettings{
			UserID:                  userID,
			EmailNotifications:      true,
			NotificationPreferences: models.DefaultNotificationPreferences(),
			PrivacyPreferences:      models.DefaultPrivacyPreferences(),
		}, nil
	}
	return settings, err
}

type notificationSettingsRequest struct {
	EmailNotifications    bool   `json:"emailNotifications"`
	PushNotifications     bool   `json:"pushNotifications"`
	SMSNotifications      bool   `json:"smsNotifications"`
	NotificationFrequency string `json:"notificationFrequency" validate:"required,oneof=realtime daily weekly"`
}

func (h *AccountHandler) GetNotificationSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		settings, err := h.settingsOrDefault(r.Context(), u.ID)
		if err != nil {
			h.Logger.Error("get notification settings", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DB Error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"email_notifications":      settings.EmailNotifications,
			"notification_preferences": settings.NotificationPreferences,
		})
	}
}

func (h *AccountHandler) SaveNotificationSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		var req notificationSettingsRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		prefs := models.NotificationPreferences{
			Push:      req.PushNotifications,
			SMS:       req.SMSNotifications,
			InApp:     true,
			Frequency: req.NotificationFrequency,
		}
		if err := h.ensureUser(r.Context(), u); err != nil {
			h.Logger.Error("save notification settings: ensure user", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DB Error")
			return
		}
		if err := h.Store.UpsertNotificationSettings(r.Context(), u.ID, req.EmailNotifications, prefs); err != nil {
			h.Logger.Error("save notification settings", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DB Error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

type privacySettingsRequest struct {
	ProfileVisibility string `json:"profileVisibility" validate:"required,oneof=public private friends"`
	ActivityTracking  bool   `json:"activityTracking"`
	DataSharing       bool   `json:"dataSharing"`
}

func (h *AccountHandler) GetPrivacySettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		settings, err := h.settingsOrDefault(r.Context(), u.ID)
		if err != nil {
			h.Logger.Error("get privacy settings", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DB Error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"privacy_preferences": settings.PrivacyPreferences})
	}
}

func (h *AccountHandler) SavePrivacySettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		var req privacySettingsRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		prefs := models.PrivacyPreferences{
			ProfileVisibility: req.ProfileVisibility,
			ActivityTracking:  req.ActivityTracking,
			DataSharing:       req.DataSharing,
		}
		if err := h.ensureUser(r.Context(), u); err != nil {
			h.Logger.Error("save privacy settings: ensure user", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DB Error")
			return
		}
		if err := h.Store.UpsertPrivacySettings(r.Context(), u.ID, prefs); err != nil {
			h.Logger.Error("save privacy settings", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DB Error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
