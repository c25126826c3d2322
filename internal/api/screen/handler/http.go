package screenHandler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	screenService "PaperDetection/internal/api/screen/service"
	"PaperDetection/internal/middleware"
)

type ScreenHandler struct {
	log           *logrus.Logger
	validator     *validator.Validate
	middleware    middleware.Middleware
	screenService screenService.IScreenService
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ss screenService.IScreenService,
) *ScreenHandler {
	return &ScreenHandler{
		screenService: ss,
		log:           log,
		validator:     validator,
		middleware:    middleware,
	}
}

func (h *ScreenHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	srv.Get("/screens", h.ListScreens)
	srv.Post("/screens", h.middleware.NewRateLimiter, h.middleware.NewTokenMiddleware, h.MountScreen)

	screens := srv.Group("/screens/:id")
	screens.Get("", h.GetScreen)
	screens.Post("/toggle", h.middleware.NewRateLimiter, h.middleware.NewTokenMiddleware, h.ToggleRecording)
	screens.Get("/still", h.GetStill)
	screens.Get("/still/overlay", h.GetStillOverlay)
	screens.Delete("", h.middleware.NewTokenMiddleware, h.UnmountScreen)
	screens.Use("/ws", wsMiddleware)
	screens.Get("/ws", websocket.New(h.handleViewStream))
}
