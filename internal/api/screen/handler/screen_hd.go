package screenHandler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"PaperDetection/internal/api/screen"
	contextPkg "PaperDetection/pkg/context"
	"PaperDetection/pkg/handlerUtil"
	"PaperDetection/pkg/log"
)

const requestTimeout = 10 * time.Second

func (h *ScreenHandler) MountScreen(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	var req screen.CreateScreenRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, screen.ErrBadRequest, ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	view, err := h.screenService.Mount(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "mount_screen")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"screen_id":  view.ScreenID,
		"width":      req.Width,
		"height":     req.Height,
	}).Info("Screen mounted")

	return errHandler.HandleSuccess(ctx, fiber.StatusCreated, view)
}

func (h *ScreenHandler) ListScreens(ctx *fiber.Ctx) error {
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	return handlerUtil.New(h.log).HandleSuccess(ctx, fiber.StatusOK, screen.ListScreensResponse{
		Screens: h.screenService.List(c),
	})
}

func (h *ScreenHandler) GetScreen(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	view, err := h.screenService.View(c, ctx.Params("id"))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_screen")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, view)
}

func (h *ScreenHandler) ToggleRecording(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	view, err := h.screenService.Toggle(c, ctx.Params("id"))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "toggle_recording")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, view)
}

func (h *ScreenHandler) GetStill(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	payload, err := h.screenService.Still(c, ctx.Params("id"))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_still")
	}

	return errHandler.HandleImage(ctx, payload)
}

func (h *ScreenHandler) GetStillOverlay(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	payload, err := h.screenService.StillOverlay(c, ctx.Params("id"))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_still_overlay")
	}

	return errHandler.HandleImage(ctx, payload)
}

func (h *ScreenHandler) UnmountScreen(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	id := ctx.Params("id")
	if err := h.screenService.Unmount(c, id); err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "unmount_screen")
	}

	log.WithRequestID(c).WithField("screen_id", id).Info("Screen unmounted")

	return errHandler.HandleSuccess(ctx, fiber.StatusNoContent, nil)
}
