package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	screenHandler "PaperDetection/internal/api/screen/handler"
	screenService "PaperDetection/internal/api/screen/service"
	"PaperDetection/internal/middleware"
	"PaperDetection/pkg/camera"
	"PaperDetection/pkg/detector"
	"PaperDetection/pkg/redis"
	"PaperDetection/pkg/utils"
)

type ServerOption func(*Server) error

type Server struct {
	engine        *fiber.App
	log           *logrus.Logger
	middleware    middleware.Middleware
	validator     *validator.Validate
	utils         utils.IUtils
	handlers      []handler
	redisServer   redis.IRedis
	camera        camera.Camera
	detector      detector.IDetector
	captureConfig screenService.Config
	screenService screenService.IScreenService
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.camera == nil {
		return nil, fmt.Errorf("camera is required")
	}
	if server.detector == nil {
		return nil, fmt.Errorf("detector is required")
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithRedisServer(redisServer redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

func WithCamera() ServerOption {
	return func(s *Server) error {
		if s.log == nil || s.utils == nil {
			return fmt.Errorf("logger and utils must be initialized before camera")
		}
		cam, err := camera.New(s.log, s.utils)
		if err != nil {
			s.log.Errorf("Failed to initialize camera: %v", err)
			return fmt.Errorf("failed to create camera: %w", err)
		}
		s.camera = cam
		return nil
	}
}

func WithDetector() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before detector")
		}
		s.detector = detector.New(s.log)
		return nil
	}
}

func WithCaptureConfig() ServerOption {
	return func(s *Server) error {
		cfg, err := screenService.LoadConfig()
		if err != nil {
			return fmt.Errorf("invalid capture configuration: %w", err)
		}
		s.captureConfig = cfg
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log)
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	if s.redisServer == nil {
		s.redisServer = redis.New()
	}

	// Screen Domain
	s.screenService = screenService.NewScreenService(s.log, s.captureConfig, s.camera, s.detector, s.redisServer, s.utils)
	screenHandlers := screenHandler.New(s.log, s.validator, s.middleware, s.screenService)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, screenHandlers)
}

func (s *Server) Run() error {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())
	router := s.engine.Group("/api/v1")

	for _, h := range s.handlers {
		h.Start(router)
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "3000"
	}

	return s.engine.Listen(fmt.Sprintf(":%s", port))
}

// Shutdown stops accepting requests and unmounts every screen.
func (s *Server) Shutdown() error {
	err := s.engine.Shutdown()
	if s.screenService != nil {
		s.screenService.Shutdown()
	}
	return err
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}
