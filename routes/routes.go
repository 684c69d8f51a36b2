package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sudokurace/handlers"
	"sudokurace/middleware"
	"sudokurace/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	hub *services.Hub,
	raceService *services.RaceService,
	authService *services.AuthService,
	jwtSecret string,
) {
	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			sessions := protected.Group("/sessions")
			{
				sessions.POST("", sessionHandler.CreateSession)
				sessions.GET("/open", sessionHandler.ListOpenSessions)
				sessions.GET("/:code", sessionHandler.GetSessionByCode)
			}
		}
	}

	// WebSocket endpoint for the race itself. Browsers cannot set an
	// Authorization header on a websocket request, so the JWT rides in
	// a query parameter; unauthenticated connections are rejected
	// before any session logic runs.
	router.GET("/ws/:code", func(c *gin.Context) {
		code := c.Param("code")

		userID, username, err := authService.VerifyToken(c.Query("token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		if _, err := raceService.GetSessionByCode(code); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("code", code).Msg("websocket upgrade failed")
			return
		}

		log.Info().Str("code", code).Uint("player", userID).Str("username", username).
			Msg("websocket connection established")

		// The hub owns the connection from here on.
		hub.RegisterClient(conn, code, userID, username)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
