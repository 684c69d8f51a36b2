package main

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"sudokurace/config"
	"sudokurace/handlers"
	"sudokurace/middleware"
	"sudokurace/models"
	"sudokurace/routes"
	"sudokurace/services"
)

func main() {
	// Load configuration
	cfg := config.Load()
	config.SetupLogging(cfg)

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.RaceSession{},
		&models.Move{},
		&models.RaceResult{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Initialize Redis (snapshot cache)
	redisClient := config.InitRedis(cfg)

	// Initialize services
	authService := services.NewAuthService(db, cfg.JWTSecret)
	raceService := services.NewRaceService(db, redisClient)

	// Initialize WebSocket hub
	hub := services.NewHub(raceService)
	go hub.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(raceService)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS())

	routes.SetupRoutes(router, authHandler, sessionHandler, hub, raceService, authService, cfg.JWTSecret)

	// Start server
	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := router.Run(cfg.BindAddress + ":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
