package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type updateNamesPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *httpHandler) handleUpdateNames(c *gin.Context) {
	record := h.recordFromContext(c)
	if record == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var payload updateNamesPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	firstName := strings.TrimSpace(payload.FirstName)
	lastName := strings.TrimSpace(payload.LastName)
	if firstName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "first_name_required"})
		return
	}
	if lastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "last_name_required"})
		return
	}

	err := h.store.ApplyPartialUpdate(c.Request.Context(), record.UserID, map[string]any{
		"first_name": firstName,
		"last_name":  lastName,
	})
	if err != nil {
		h.logger.Error("name update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "user names updated",
		"first_name": firstName,
		"last_name":  lastName,
	})
}

type updateTimezonePayload struct {
	Timezone string `json:"timezone"`
}

// handleUpdateTimezone applies the one notable business rule: the zone is
// frozen once calendar access is granted, so already-scheduled event times
// cannot silently shift.
func (h *httpHandler) handleUpdateTimezone(c *gin.Context) {
	record := h.recordFromContext(c)
	if record == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if record.HasCalendarAccess {
		c.JSON(http.StatusForbidden, gin.H{"error": "timezone_locked_after_calendar_grant"})
		return
	}

	var payload updateTimezonePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	timezone := strings.TrimSpace(payload.Timezone)
	if timezone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timezone_required"})
		return
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timezone"})
		return
	}

	err := h.store.ApplyPartialUpdate(c.Request.Context(), record.UserID, map[string]any{
		"timezone": timezone,
	})
	if err != nil {
		h.logger.Error("timezone update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "user timezone updated",
		"timezone": timezone,
	})
}

func (h *httpHandler) handleWelcomeFormStatus(c *gin.Context) {
	record := h.recordFromContext(c)
	if record == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// The form document is schemaless by design; it round-trips as raw JSON.
	var form json.RawMessage
	if record.WelcomeFormData != "" {
		form = json.RawMessage(record.WelcomeFormData)
	}

	c.JSON(http.StatusOK, gin.H{
		"completed": record.WelcomeFormCompleted,
		"form":      form,
	})
}

func (h *httpHandler) handleWelcomeFormSubmit(c *gin.Context) {
	record := h.recordFromContext(c)
	if record == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var form map[string]any
	if err := c.ShouldBindJSON(&form); err != nil || len(form) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "form_data_required"})
		return
	}

	encoded, err := json.Marshal(form)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err = h.store.ApplyPartialUpdate(c.Request.Context(), record.UserID, map[string]any{
		"welcome_form_completed": true,
		"welcome_form_data":      string(encoded),
	})
	if err != nil {
		h.logger.Error("welcome form persist failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "completed": true})
}

var timezoneOptions = []gin.H{
	{"label": "IST", "value": "Asia/Kolkata", "description": "India Standard Time"},
	{"label": "EST", "value": "America/New_York", "description": "Eastern Standard Time"},
	{"label": "PST", "value": "America/Los_Angeles", "description": "Pacific Standard Time"},
}

func (h *httpHandler) handleTimezoneOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timezones": timezoneOptions})
}
