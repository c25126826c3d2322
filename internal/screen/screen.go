package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"PaperDetection/internal/capture"
	"PaperDetection/internal/entity"
	"PaperDetection/internal/overlay"
	"PaperDetection/internal/permission"
)

var (
	ErrNotMounted = errors.New("screen is not mounted")
	ErrUnmounted  = errors.New("screen has been unmounted")
)

type Camera interface {
	RequestPermission(ctx context.Context) (entity.PermissionState, error)
	Capture(ctx context.Context, quality float64) (entity.Frame, error)
}

type Detector interface {
	Detect(ctx context.Context, base64Image string) (entity.BoxList, error)
}

type Config struct {
	ID         string
	Screen     entity.Size
	ModelInput entity.Size
	Period     time.Duration
	Quality    float64
	Policy     OrderPolicy
	StillURI   string
	Clock      clock.Clock
}

// Screen is one mounted capture screen. A single goroutine owns its State;
// timer ticks, camera results and detector results reach it as events.
type Screen struct {
	cfg      Config
	camera   Camera
	detector Detector
	gate     *permission.Gate
	loop     *capture.Loop
	log      *logrus.Entry

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	state  State

	mounted     atomic.Bool
	mountOnce   sync.Once
	unmountOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]chan View
	nextSub int
}

type event interface{}

type (
	permissionResolved struct{ state entity.PermissionState }
	tickFired          struct{ seq uint64 }
	frameCaptured      struct{ frame entity.Frame }
	captureFailed      struct {
		seq uint64
		err error
	}
	detectionResolved struct{ detection entity.Detection }
	detectionFailed   struct {
		seq     uint64
		frameID string
		err     error
	}
	toggleRequest struct{ reply chan toggleReply }
	stateRequest  struct{ reply chan State }
)

type toggleReply struct {
	state State
	err   error
}

func New(cfg Config, cam Camera, det Detector, log *logrus.Logger) (*Screen, error) {
	if cfg.ModelInput.Width <= 0 || cfg.ModelInput.Height <= 0 {
		cfg.ModelInput = overlay.DefaultModelInput
	}
	if cfg.Quality <= 0 || cfg.Quality > 1 {
		cfg.Quality = 0.5
	}
	if cfg.Policy == "" {
		cfg.Policy = LatestIssued
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.StillURI == "" {
		cfg.StillURI = fmt.Sprintf("/api/v1/screens/%s/still", cfg.ID)
	}

	entry := log.WithField("screen_id", cfg.ID)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Screen{
		cfg:      cfg,
		camera:   cam,
		detector: det,
		gate:     permission.NewGate(cam, entry),
		log:      entry,
		events:   make(chan event, 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    NewState(),
		subs:     make(map[int]chan View),
	}

	loop, err := capture.NewLoop(cfg.Period, s.onTick, entry, capture.WithClock(cfg.Clock))
	if err != nil {
		cancel()
		return nil, err
	}
	s.loop = loop

	return s, nil
}

func (s *Screen) ID() string {
	return s.cfg.ID
}

func (s *Screen) Config() Config {
	return s.cfg
}

// Armed reports whether the capture loop currently has a live ticker.
func (s *Screen) Armed() bool {
	return s.loop.Armed()
}

// Mount starts the actor and issues the single permission request.
func (s *Screen) Mount() {
	s.mountOnce.Do(func() {
		permCh := s.gate.Request(s.ctx)
		s.mounted.Store(true)
		go s.run(permCh)
		s.log.WithFields(logrus.Fields{
			"width":  s.cfg.Screen.Width,
			"height": s.cfg.Screen.Height,
			"policy": s.cfg.Policy,
		}).Info("Screen mounted")
	})
}

// Unmount stops the capture loop unconditionally and shuts the actor down.
// Results of cycles still in flight are dropped.
func (s *Screen) Unmount() {
	s.unmountOnce.Do(func() {
		// A screen that was never mounted can no longer be.
		s.mountOnce.Do(func() {})

		s.loop.Stop()
		s.cancel()
		if s.mounted.Load() {
			<-s.done
		} else {
			close(s.done)
		}

		s.subMu.Lock()
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()

		s.log.Info("Screen unmounted")
	})
}

// Toggle flips the recording state and arms or disarms the capture loop.
func (s *Screen) Toggle(ctx context.Context) (View, error) {
	reply := make(chan toggleReply, 1)
	if err := s.send(ctx, toggleRequest{reply: reply}); err != nil {
		return View{}, err
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return View{}, r.err
		}
		return s.render(r.state), nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-s.done:
		return View{}, ErrUnmounted
	}
}

func (s *Screen) View(ctx context.Context) (View, error) {
	st, err := s.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}
	return s.render(st), nil
}

// Snapshot returns a copy of the current state. Frames and box lists in it
// are never mutated after being stored, so they are safe to share.
func (s *Screen) Snapshot(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := s.send(ctx, stateRequest{reply: reply}); err != nil {
		return State{}, err
	}

	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.done:
		return State{}, ErrUnmounted
	}
}

// Subscribe returns a channel that receives every new View. Slow readers
// only see the latest one. The channel is closed on Unmount.
func (s *Screen) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	s.subMu.Lock()
	select {
	case <-s.done:
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Screen) render(st State) View {
	return Render(s.cfg.ID, st, s.cfg.Screen, s.cfg.ModelInput)
}

func (s *Screen) send(ctx context.Context, ev event) error {
	if !s.mounted.Load() {
		return ErrNotMounted
	}
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrUnmounted
	}
}

// post is used by background cycles; it gives up once the screen is gone.
func (s *Screen) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// onTick runs on the loop's ticker goroutine. It never blocks, since the
// actor may be waiting in loop.Stop.
func (s *Screen) onTick(seq uint64) {
	select {
	case s.events <- tickFired{seq: seq}:
	default:
		s.log.WithField("seq", seq).Warn("Event queue full, dropping tick")
	}
}

func (s *Screen) run(permCh <-chan entity.PermissionState) {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case p := <-permCh:
			permCh = nil
			s.handle(permissionResolved{state: p})
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Screen) handle(ev event) {
	switch e := ev.(type) {
	case permissionResolved:
		s.state = ResolvePermission(s.state, e.state)
		if s.state.Permission == entity.PermissionDenied {
			s.loop.Stop()
		}
		s.publish()

	case tickFired:
		if s.state.Permission != entity.PermissionGranted {
			s.log.WithFields(logrus.Fields{
				"seq":        e.seq,
				"permission": s.state.Permission,
			}).Debug("Skipping tick without camera permission")
			return
		}
		if s.state.Recording != entity.RecordingActive {
			return
		}
		go s.cycle(e.seq)

	case frameCaptured:
		var applied bool
		if s.state, applied = ApplyFrame(s.state, e.frame, s.cfg.Policy); applied {
			s.publish()
		}

	case captureFailed:
		s.log.WithFields(logrus.Fields{
			"seq":   e.seq,
			"error": e.err.Error(),
		}).Warn("Capture failed, skipping tick")

	case detectionResolved:
		var applied bool
		if s.state, applied = ApplyDetection(s.state, e.detection, s.cfg.Policy); !applied {
			s.log.WithFields(logrus.Fields{
				"seq":     e.detection.Seq,
				"applied": s.state.BoxesSeq,
			}).Debug("Discarding stale detection")
		}
		s.publish()

	case detectionFailed:
		s.log.WithFields(logrus.Fields{
			"seq":      e.seq,
			"frame_id": e.frameID,
			"error":    e.err.Error(),
		}).Error("Error sending image to detector")

	case toggleRequest:
		next, err := ToggleRecording(s.state)
		if err != nil {
			e.reply <- toggleReply{state: s.state, err: err}
			return
		}
		s.state = next
		if s.state.Recording == entity.RecordingActive {
			s.loop.Start()
		} else {
			s.loop.Stop()
		}
		s.publish()
		e.reply <- toggleReply{state: s.state}

	case stateRequest:
		e.reply <- s.state
	}
}

// cycle captures one frame and sends it to the detector. It runs on its
// own goroutine; every outcome goes back to the actor as an event.
func (s *Screen) cycle(seq uint64) {
	frame, err := s.camera.Capture(s.ctx, s.cfg.Quality)
	if err != nil {
		s.post(captureFailed{seq: seq, err: err})
		return
	}
	frame.Seq = seq
	frame.URI = fmt.Sprintf("%s?frame=%s", s.cfg.StillURI, frame.ID)
	s.post(frameCaptured{frame: frame})

	boxes, err := s.detector.Detect(s.ctx, frame.Base64)
	if err != nil {
		s.post(detectionFailed{seq: seq, frameID: frame.ID, err: err})
		return
	}

	s.post(detectionResolved{detection: entity.Detection{
		Seq:     seq,
		FrameID: frame.ID,
		Boxes:   boxes,
	}})
}

func (s *Screen) publish() {
	v := s.render(s.state)

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
