package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sudokurace/services"
)

type SessionHandler struct {
	raceService *services.RaceService
}

func NewSessionHandler(raceService *services.RaceService) *SessionHandler {
	return &SessionHandler{raceService: raceService}
}

type CreateSessionRequest struct {
	Difficulty string `json:"difficulty"`
}

// CreateSession opens a new race with the caller in the first seat and
// returns the shareable code.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.raceService.CreateSession(userID.(uint), req.Difficulty)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, sess)
}

// ListOpenSessions is the lobby view: races still waiting for a second
// player.
func (h *SessionHandler) ListOpenSessions(c *gin.Context) {
	sessions, err := h.raceService.ListOpenSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}

	c.JSON(http.StatusOK, sessions)
}

func (h *SessionHandler) GetSessionByCode(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session code required"})
		return
	}

	sess, err := h.raceService.GetSessionByCode(code)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	c.JSON(http.StatusOK, sess)
}
