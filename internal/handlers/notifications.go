package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"fructosahel/backend/internal/analytics"
	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/notifications"
	"fructosahel/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

type PreferenceManager interface {
	Resolve(ctx context.Context, userID uuid.UUID) (services.EffectivePreferences, error)
	Update(ctx context.Context, userID uuid.UUID, input services.PreferenceInput) (services.EffectivePreferences, error)
}

type SubscriptionManager interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PushSubscription, error)
	Upsert(ctx context.Context, sub *models.PushSubscription) error
	DeleteForUser(ctx context.Context, userID uuid.UUID, endpoint string) (bool, error)
}

type BulkDispatcher interface {
	DispatchBulk(ctx context.Context, userIDs []uuid.UUID, notificationType models.NotificationType, data map[string]interface{}) notifications.BulkResult
}

type JobRunner interface {
	Run(ctx context.Context, name string) (map[string]notifications.JobResult, error)
}

type NotificationHandlerDeps struct {
	Preferences    PreferenceManager
	Subscriptions  SubscriptionManager
	Dispatcher     BulkDispatcher
	Jobs           JobRunner
	Events         services.EventTracker
	VAPIDPublicKey string
	Log            logrus.FieldLogger
}

type NotificationHandler struct {
	prefs          PreferenceManager
	subs           SubscriptionManager
	dispatcher     BulkDispatcher
	jobs           JobRunner
	events         services.EventTracker
	vapidPublicKey string
	log            logrus.FieldLogger
	now            func() time.Time
}

func NewNotificationHandler(deps NotificationHandlerDeps) *NotificationHandler {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NotificationHandler{
		prefs:          deps.Preferences,
		subs:           deps.Subscriptions,
		dispatcher:     deps.Dispatcher,
		jobs:           deps.Jobs,
		events:         deps.Events,
		vapidPublicKey: deps.VAPIDPublicKey,
		log:            log,
		now:            time.Now,
	}
}

func (h *NotificationHandler) GetPreferences(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	prefs, err := h.prefs.Resolve(c.Request.Context(), userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("failed to load preferences")
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to load preferences", nil)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *NotificationHandler) UpdatePreferences(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.PreferenceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidRequest(c, err)
		return
	}

	prefs, err := h.prefs.Update(c.Request.Context(), userID, input)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			respondError(c, http.StatusBadRequest, "validation_failed", "Invalid preferences", verr.Fields)
			return
		}
		h.log.WithError(err).WithField("user_id", userID).Error("failed to save preferences")
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to save preferences", nil)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

type subscriptionKeys struct {
	P256dh string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

// SubscribeRequest mirrors the browser's PushSubscription.toJSON().
type SubscribeRequest struct {
	Endpoint string           `json:"endpoint" binding:"required,url"`
	Keys     subscriptionKeys `json:"keys" binding:"required"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *NotificationHandler) ListSubscriptions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	subs, err := h.subs.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to load subscriptions", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscriptions":    subs,
		"vapid_public_key": h.vapidPublicKey,
	})
}

func (h *NotificationHandler) Subscribe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	sub := models.PushSubscription{
		Endpoint:  req.Endpoint,
		UserID:    userID,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		UserAgent: c.Request.UserAgent(),
	}
	if err := h.subs.Upsert(c.Request.Context(), &sub); err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("failed to save subscription")
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to save subscription", nil)
		return
	}

	h.track(c, analytics.EventSubscriptionAdded, userID, nil)
	c.JSON(http.StatusCreated, sub)
}

// Unsubscribe takes the endpoint from the JSON body or the endpoint query
// parameter. Removing an unknown endpoint is not an error.
func (h *NotificationHandler) Unsubscribe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	endpoint := c.Query("endpoint")
	if endpoint == "" && c.Request.ContentLength != 0 {
		var req UnsubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, err)
			return
		}
		endpoint = req.Endpoint
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		respondError(c, http.StatusBadRequest, "missing_endpoint", "endpoint is required", nil)
		return
	}

	removed, err := h.subs.DeleteForUser(c.Request.Context(), userID, endpoint)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to remove subscription", nil)
		return
	}
	if removed {
		h.track(c, analytics.EventSubscriptionRemoved, userID, nil)
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type SendRequest struct {
	UserIDs []uuid.UUID             `json:"user_ids"`
	Type    models.NotificationType `json:"type"`
	Title   string                  `json:"title" binding:"max=200"`
	Message string                  `json:"message" binding:"max=1000"`
	Data    map[string]interface{}  `json:"data"`
}

// Send dispatches a notification right away. Without user_ids it goes to the
// caller; the type defaults to test. Only admins may target other users.
func (h *NotificationHandler) Send(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if req.Type == "" {
		req.Type = models.NotificationTest
	}
	if !req.Type.Valid() {
		respondError(c, http.StatusBadRequest, "invalid_type", "Unknown notification type", string(req.Type))
		return
	}
	if len(req.UserIDs) == 0 {
		req.UserIDs = []uuid.UUID{actor.ID}
	}
	for _, id := range req.UserIDs {
		if !actor.CanNotify(id) {
			forbidden(c, "Only admins can notify other users")
			return
		}
	}

	data := make(map[string]interface{}, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	if req.Title != "" {
		data["title"] = req.Title
	}
	if req.Message != "" {
		data["message"] = req.Message
	}

	result := h.dispatcher.DispatchBulk(c.Request.Context(), req.UserIDs, req.Type, data)
	c.JSON(http.StatusOK, result)
}

// RunCron executes the scheduled jobs named by ?job= (default all).
func (h *NotificationHandler) RunCron(c *gin.Context) {
	name := c.DefaultQuery("job", notifications.JobAll)

	results, err := h.jobs.Run(c.Request.Context(), name)
	if errors.Is(err, notifications.ErrUnknownJob) {
		respondError(c, http.StatusBadRequest, "invalid_job", "Unknown job", []string{
			notifications.JobDueReminders,
			notifications.JobOverdue,
			notifications.JobDailyDigest,
			notifications.JobAll,
		})
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to run jobs", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"job":       name,
		"results":   results,
		"timestamp": h.now().UTC(),
	})
}

func (h *NotificationHandler) track(c *gin.Context, name string, userID uuid.UUID, props map[string]interface{}) {
	if h.events == nil {
		return
	}
	err := h.events.Track(c.Request.Context(), analytics.Event{
		Name:       name,
		UserID:     userID.String(),
		Properties: props,
		Timestamp:  h.now(),
	})
	if err != nil {
		h.log.WithError(err).WithField("event", name).Debug("analytics event dropped")
	}
}
