// Package server exposes the engine over HTTP for the device UI: punch
// recording, profile fields, status/history reads, the sync trigger and a
// realtime event stream.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
	"github.com/shiftpunch/attendance/engine/internal/engine"
	"github.com/shiftpunch/attendance/engine/internal/outbox"
)

const (
	defaultReadCacheTTL      = 5 * time.Second
	defaultSyncBurst         = 3
	defaultHeartbeatInterval = 30 * time.Second
)

var (
	errMissingEngine          = errors.New("engine dependency required")
	defaultSyncRate           = rate.Every(2 * time.Second)
	errMissingUserIDParameter = errors.New("userId parameter required")
)

type Dependencies struct {
	Engine            *engine.Service
	Events            *EventDispatcher
	Logger            *zap.Logger
	ReadCacheTTL      time.Duration
	SyncRate          rate.Limit
	SyncBurst         int
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewEventDispatcher()
	}
	readTTL := deps.ReadCacheTTL
	if readTTL <= 0 {
		readTTL = defaultReadCacheTTL
	}
	syncRate := deps.SyncRate
	if syncRate <= 0 {
		syncRate = defaultSyncRate
	}
	syncBurst := deps.SyncBurst
	if syncBurst <= 0 {
		syncBurst = defaultSyncBurst
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine:    deps.Engine,
		events:    events,
		logger:    logger,
		readCache: cache.New(readTTL, 2*readTTL),
		readTTL:   readTTL,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/punch", handler.handlePunch)
	router.POST("/profile/fields", handler.handleSetProfileField)

	reads := router.Group("/")
	reads.Use(cacheResponses(handler.readCache, readTTL))
	reads.GET("/status", handler.handleStatus)
	reads.GET("/history", handler.handleHistory)

	router.POST("/sync", rateLimit(syncRate, syncBurst), handler.handleSync)
	router.GET("/sync/dead-letters", handler.handleDeadLetters)
	router.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	engine    *engine.Service
	events    *EventDispatcher
	logger    *zap.Logger
	readCache *cache.Cache
	readTTL   time.Duration
	heartbeat time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type punchRequestPayload struct {
	UserID           string `json:"userId"`
	Timestamp        int64  `json:"timestamp"`
	Direction        string `json:"direction"`
	DateOfPunch      string `json:"dateOfPunch"`
	LatLon           string `json:"latLon"`
	Address          string `json:"address"`
	AttendanceStatus string `json:"attendanceStatus"`
}

type punchResponsePayload struct {
	Timestamp        int64  `json:"timestamp"`
	Direction        string `json:"direction"`
	DateOfPunch      string `json:"dateOfPunch"`
	LatLon           string `json:"latLon,omitempty"`
	Address          string `json:"address,omitempty"`
	AttendanceStatus string `json:"attendanceStatus,omitempty"`
	SyncState        string `json:"syncState"`
	CreatedOn        int64  `json:"createdOn"`
	ServerTimestamp  *int64 `json:"serverTimestamp,omitempty"`
}

func punchResponse(record attendance.PunchRecord) punchResponsePayload {
	return punchResponsePayload{
		Timestamp:        record.TimestampMillis,
		Direction:        string(record.Direction),
		DateOfPunch:      record.DateOfPunch,
		LatLon:           record.LatLon,
		Address:          record.Address,
		AttendanceStatus: record.AttendanceStatus,
		SyncState:        string(record.SyncState),
		CreatedOn:        record.CreatedOnMillis,
		ServerTimestamp:  record.ServerTimestamp,
	}
}

func (h *httpHandler) handlePunch(c *gin.Context) {
	var request punchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	direction, err := attendance.ParseDirection(request.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction"})
		return
	}

	stored, err := h.engine.AppendPunch(c.Request.Context(), attendance.PunchRecord{
		UserID:           request.UserID,
		TimestampMillis:  request.Timestamp,
		Direction:        direction,
		DateOfPunch:      request.DateOfPunch,
		LatLon:           request.LatLon,
		Address:          request.Address,
		AttendanceStatus: request.AttendanceStatus,
	})
	if err != nil {
		h.writeEngineError(c, "punch append failed", err)
		return
	}

	h.readCache.Flush()
	h.events.Publish(Event{
		UserID:    stored.UserID,
		EventType: EventPunchRecorded,
		Keys:      []string{strings.TrimSpace(stored.DateOfPunch)},
		Timestamp: time.Now(),
	})
	c.JSON(http.StatusCreated, punchResponse(stored))
}

type fieldRequestPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

func (h *httpHandler) handleSetProfileField(c *gin.Context) {
	var request fieldRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.engine.SetProfileField(c.Request.Context(), request.UserID, request.Name, request.Value); err != nil {
		h.writeEngineError(c, "profile field update failed", err)
		return
	}

	h.readCache.Flush()
	h.events.Publish(Event{
		UserID:    strings.ToLower(strings.TrimSpace(request.UserID)),
		EventType: EventFieldUpdated,
		Keys:      []string{request.Name},
		Timestamp: time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}
	status, err := h.engine.Status(c.Request.Context(), userID)
	if err != nil {
		h.writeEngineError(c, "status read failed", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}
	var dateRange *attendance.DateRange
	from := strings.TrimSpace(c.Query("from"))
	to := strings.TrimSpace(c.Query("to"))
	if from != "" || to != "" {
		dateRange = &attendance.DateRange{From: from, To: to}
	}

	records, err := h.engine.QueryHistory(c.Request.Context(), userID, dateRange)
	if err != nil {
		h.writeEngineError(c, "history read failed", err)
		return
	}
	response := make([]punchResponsePayload, 0, len(records))
	for _, record := range records {
		response = append(response, punchResponse(record))
	}
	c.JSON(http.StatusOK, gin.H{"punches": response})
}

type syncRequestPayload struct {
	UserID string `json:"userId"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	report, err := h.engine.RunSync(c.Request.Context(), request.UserID)
	if err != nil {
		h.writeEngineError(c, "sync pass failed", err)
		return
	}

	h.readCache.Flush()
	h.events.Publish(Event{
		UserID:    strings.ToLower(strings.TrimSpace(request.UserID)),
		EventType: EventSyncCompleted,
		Timestamp: time.Now(),
	})
	c.JSON(http.StatusOK, report)
}

type deadLetterPayload struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Property   string `json:"property,omitempty"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"lastError"`
	CreatedAt  int64  `json:"createdAt"`
}

func (h *httpHandler) handleDeadLetters(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}
	items, err := h.engine.DeadLetters(c.Request.Context(), userID)
	if err != nil {
		h.writeEngineError(c, "dead letter read failed", err)
		return
	}
	response := make([]deadLetterPayload, 0, len(items))
	for _, item := range items {
		response = append(response, deadLetterPayload{
			ID:         item.ID,
			EntityType: string(item.EntityType),
			EntityID:   item.EntityID,
			Property:   item.Property,
			Attempts:   item.Attempts,
			LastError:  item.LastError,
			CreatedAt:  item.CreatedAtMillis,
		})
	}
	c.JSON(http.StatusOK, gin.H{"deadLetters": response})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stream, cancel := h.events.Subscribe(c.Request.Context(), userID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(event.EventType, gin.H{
				"keys":      event.Keys,
				"timestamp": event.Timestamp.UnixMilli(),
				"source":    eventSource,
			})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"source": eventSource})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) requireUserID(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingUserIDParameter.Error()})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) writeEngineError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, attendance.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_punch"})
	case errors.Is(err, attendance.ErrInvalidUserID),
		errors.Is(err, attendance.ErrInvalidDirection),
		errors.Is(err, attendance.ErrInvalidTimestamp),
		errors.Is(err, outbox.ErrInvalidItem):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
