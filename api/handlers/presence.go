package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/translation-studio/collab/internal/model"
	"github.com/translation-studio/collab/internal/repository"
	"github.com/translation-studio/collab/internal/ws"
)

// PresenceHandler serves the REST view of live collaboration state: who is
// in a project room right now, and the persisted activity feed.
type PresenceHandler struct {
	rooms    *ws.RoomManager
	activity *repository.ActivityRepository
}

// NewPresenceHandler creates a new PresenceHandler.
func NewPresenceHandler(rooms *ws.RoomManager, activity *repository.ActivityRepository) *PresenceHandler {
	return &PresenceHandler{rooms: rooms, activity: activity}
}

// PresenceResponse represents a project's live occupants.
type PresenceResponse struct {
	ProjectID string   `json:"project_id"`
	Users     []string `json:"users"`
}

// ActivityResponse represents one activity feed entry in API responses.
type ActivityResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	SegmentID string `json:"segment_id,omitempty"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func toActivityResponse(e *model.ActivityEntry) ActivityResponse {
	return ActivityResponse{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		UserID:    e.UserID,
		SegmentID: e.SegmentID,
		Category:  e.Category,
		Message:   e.Message,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// GetPresence handles GET /projects/:id/presence.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Project ID is required")
		return
	}

	users := h.rooms.Users(projectID)
	if users == nil {
		users = []string{}
	}

	c.JSON(http.StatusOK, PresenceResponse{
		ProjectID: projectID,
		Users:     users,
	})
}

// GetActivity handles GET /projects/:id/activity.
func (h *PresenceHandler) GetActivity(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Project ID is required")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.activity.ListByProject(c.Request.Context(), projectID, limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list activity: "+err.Error())
		return
	}

	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toActivityResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

// RegisterRoutes registers the presence handler routes on a Gin router group.
func (h *PresenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/projects/:id/presence", h.GetPresence)
	rg.GET("/projects/:id/activity", h.GetActivity)
}
