package screenService

import (
	"context"
	"errors"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"PaperDetection/internal/api/screen"
	"PaperDetection/internal/entity"
	"PaperDetection/internal/overlay"
	screenCore "PaperDetection/internal/screen"
	"PaperDetection/pkg/redis"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *screenService) Mount(ctx context.Context, req screen.CreateScreenRequest) (screenCore.View, error) {
	id, err := s.utils.NewULIDFromTimestamp(time.Now())
	if err != nil {
		return screenCore.View{}, err
	}

	if s.count() >= s.cfg.MaxScreens {
		return screenCore.View{}, screen.ErrTooManyScreens
	}

	scr, err := screenCore.New(screenCore.Config{
		ID:         id,
		Screen:     entity.Size{Width: req.Width, Height: req.Height},
		ModelInput: s.cfg.ModelInput,
		Period:     s.cfg.Period,
		Quality:    s.cfg.Quality,
		Policy:     s.cfg.Policy,
		Clock:      s.cfg.Clock,
	}, s.camera, s.detector, s.log)
	if err != nil {
		return screenCore.View{}, err
	}

	s.mu.Lock()
	if len(s.screens) >= s.cfg.MaxScreens {
		s.mu.Unlock()
		scr.Unmount()
		return screenCore.View{}, screen.ErrTooManyScreens
	}
	published := make(chan struct{})
	s.screens[id] = scr
	s.published[id] = published
	s.mu.Unlock()

	views, _ := scr.Subscribe()
	s.fanOut.Add(1)
	go s.publishViews(id, views, published)

	scr.Mount()

	return scr.View(ctx)
}

func (s *screenService) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.screens)
}

func (s *screenService) List(ctx context.Context) []screen.ScreenSummary {
	s.mu.RLock()
	screens := make([]*screenCore.Screen, 0, len(s.screens))
	for _, scr := range s.screens {
		screens = append(screens, scr)
	}
	s.mu.RUnlock()

	out := make([]screen.ScreenSummary, 0, len(screens))
	for _, scr := range screens {
		v, err := scr.View(ctx)
		if err != nil {
			continue
		}
		out = append(out, screen.ScreenSummary{ID: scr.ID(), Recording: string(v.Recording)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// View answers from the local registry first. A screen mounted on another
// instance is served from the copy its publisher keeps in Redis.
func (s *screenService) View(ctx context.Context, id string) (screenCore.View, error) {
	scr, err := s.get(id)
	if err != nil {
		return s.storedView(ctx, id)
	}
	v, err := scr.View(ctx)
	return v, mapError(err)
}

func (s *screenService) storedView(ctx context.Context, id string) (screenCore.View, error) {
	payload, err := s.redis.GetLatestView(ctx, id)
	if err != nil {
		if !errors.Is(err, redis.ErrViewNotFound) {
			s.log.WithFields(logrus.Fields{
				"screen_id": id,
				"error":     err.Error(),
			}).Warn("Failed to read stored view")
		}
		return screenCore.View{}, screen.ErrScreenNotFound
	}

	var v screenCore.View
	if err := json.Unmarshal(payload, &v); err != nil {
		s.log.WithFields(logrus.Fields{
			"screen_id": id,
			"error":     err.Error(),
		}).Warn("Discarding undecodable stored view")
		return screenCore.View{}, screen.ErrScreenNotFound
	}
	return v, nil
}

func (s *screenService) Toggle(ctx context.Context, id string) (screenCore.View, error) {
	scr, err := s.get(id)
	if err != nil {
		return screenCore.View{}, err
	}

	v, err := scr.Toggle(ctx)
	if err != nil {
		return screenCore.View{}, mapError(err)
	}

	s.log.WithFields(logrus.Fields{
		"screen_id": id,
		"recording": v.Recording,
	}).Info("Recording toggled")
	return v, nil
}

func (s *screenService) Still(ctx context.Context, id string) ([]byte, error) {
	st, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Frame.Payload, nil
}

// StillOverlay draws the current box list onto the retained still, scaled
// from model space to the still's own resolution.
func (s *screenService) StillOverlay(ctx context.Context, id string) ([]byte, error) {
	st, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	img, err := s.utils.DecodeImage(st.Frame.Payload)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	size := entity.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
	outlines := overlay.Render(st.Boxes, overlay.NewScale(size, s.cfg.ModelInput), size)

	return s.utils.EncodeJPEG(overlay.Draw(img, outlines, overlay.DefaultStyle), s.cfg.Quality)
}

func (s *screenService) Subscribe(id string) (<-chan screenCore.View, func(), error) {
	scr, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := scr.Subscribe()
	return ch, cancel, nil
}

func (s *screenService) Unmount(_ context.Context, id string) error {
	s.mu.Lock()
	scr, ok := s.screens[id]
	published := s.published[id]
	delete(s.screens, id)
	delete(s.published, id)
	s.mu.Unlock()

	if !ok {
		return screen.ErrScreenNotFound
	}

	scr.Unmount()
	if published != nil {
		<-published
	}
	return nil
}

// Shutdown unmounts every screen and releases the camera and Redis.
func (s *screenService) Shutdown() {
	s.mu.Lock()
	screens := s.screens
	s.screens = make(map[string]*screenCore.Screen)
	s.published = make(map[string]chan struct{})
	s.mu.Unlock()

	for _, scr := range screens {
		scr.Unmount()
	}
	s.fanOut.Wait()

	if err := s.camera.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close camera")
	}
	if err := s.redis.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close redis")
	}
}

func (s *screenService) get(id string) (*screenCore.Screen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scr, ok := s.screens[id]
	if !ok {
		return nil, screen.ErrScreenNotFound
	}
	return scr, nil
}

func (s *screenService) snapshot(ctx context.Context, id string) (screenCore.State, error) {
	scr, err := s.get(id)
	if err != nil {
		return screenCore.State{}, err
	}

	st, err := scr.Snapshot(ctx)
	if err != nil {
		return screenCore.State{}, mapError(err)
	}
	if st.Permission == entity.PermissionDenied {
		return screenCore.State{}, screen.ErrPermissionDenied
	}
	if st.Frame == nil || len(st.Frame.Payload) == 0 {
		return screenCore.State{}, screen.ErrStillNotFound
	}
	return st, nil
}

// publishViews forwards every rendered view to Redis until the screen is
// unmounted, then drops the stored copy and closes published.
func (s *screenService) publishViews(id string, views <-chan screenCore.View, published chan struct{}) {
	defer s.fanOut.Done()
	defer close(published)

	entry := s.log.WithField("screen_id", id)

	for v := range views {
		payload, err := json.Marshal(v)
		if err != nil {
			entry.WithError(err).Error("Failed to encode view")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.redis.PublishView(ctx, id, payload); err != nil {
			entry.WithError(err).Warn("Failed to publish view")
		}
		if err := s.redis.SetLatestView(ctx, id, payload, s.cfg.ViewTTL); err != nil {
			entry.WithError(err).Warn("Failed to store view")
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.redis.DeleteLatestView(ctx, id); err != nil {
		entry.WithError(err).Warn("Failed to delete stored view")
	}
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, screenCore.ErrPermissionDenied):
		return screen.ErrPermissionDenied
	case errors.Is(err, screenCore.ErrUnmounted), errors.Is(err, screenCore.ErrNotMounted):
		return screen.ErrScreenNotFound
	default:
		return err
	}
}
