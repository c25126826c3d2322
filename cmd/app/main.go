package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"PaperDetection/internal/config"
	"PaperDetection/pkg/log"
	"PaperDetection/pkg/redis"
)

func main() {
	envErr := godotenv.Load()
	logger := log.NewLogger()
	if envErr != nil {
		logger.Warnf("No .env file loaded, using process environment: %v", envErr)
	}

	fiberApp := config.NewFiber(logger)
	validator := config.NewValidator()
	redisServer := redis.New()

	server, err := config.NewServer(
		config.WithFiber(fiberApp),
		config.WithLogger(logger),
		config.WithValidator(validator),
		config.WithUtils(),
		config.WithRedisServer(redisServer),
		config.WithCamera(),
		config.WithDetector(),
		config.WithCaptureConfig(),
		config.WithMiddleware(),
	)
	if err != nil {
		log.Fatal(log.Fields{"error": err.Error()}, "Failed to build server")
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatal(log.Fields{"error": err.Error()}, "Error starting server")
		}
	}()

	logger.Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	if err := server.Shutdown(); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}
