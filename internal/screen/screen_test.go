package screen

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperDetection/internal/entity"
	"PaperDetection/pkg/log"
)

const testPeriod = time.Second

type fakeCamera struct {
	permission  entity.PermissionState
	release     chan entity.PermissionState
	permCalls   atomic.Int32
	captures    atomic.Int32
	captureErrs bool
}

func (c *fakeCamera) RequestPermission(ctx context.Context) (entity.PermissionState, error) {
	c.permCalls.Add(1)
	if c.release != nil {
		select {
		case p := <-c.release:
			return p, nil
		case <-ctx.Done():
			return entity.PermissionUnknown, ctx.Err()
		}
	}
	return c.permission, nil
}

func (c *fakeCamera) Capture(_ context.Context, _ float64) (entity.Frame, error) {
	n := c.captures.Add(1)
	if c.captureErrs {
		return entity.Frame{}, errors.New("camera busy")
	}
	return entity.Frame{
		ID:         fmt.Sprintf("frame-%d", n),
		Width:      640,
		Height:     640,
		CapturedAt: time.Unix(int64(n), 0),
		Base64:     fmt.Sprintf("frame-%d", n),
	}, nil
}

type pendingDetect struct {
	image string
	reply chan detectResult
}

type detectResult struct {
	boxes entity.BoxList
	err   error
}

// fakeDetector parks every request until the test answers it.
type fakeDetector struct {
	calls chan *pendingDetect
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{calls: make(chan *pendingDetect, 16)}
}

func (d *fakeDetector) Detect(ctx context.Context, image string) (entity.BoxList, error) {
	p := &pendingDetect{image: image, reply: make(chan detectResult, 1)}
	select {
	case d.calls <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-p.reply:
		return r.boxes, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDetector) next(t *testing.T) *pendingDetect {
	t.Helper()
	select {
	case p := <-d.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("detector was never called")
		return nil
	}
}

func box(v float64) entity.BoxList {
	return entity.BoxList{{XMin: v, YMin: v, XMax: v + 10, YMax: v + 10}}
}

type harness struct {
	screen   *Screen
	camera   *fakeCamera
	detector *fakeDetector
	clock    *clock.Mock
}

func newHarness(t *testing.T, cam *fakeCamera, policy OrderPolicy) *harness {
	t.Helper()
	mock := clock.NewMock()
	det := newFakeDetector()

	s, err := New(Config{
		ID:      "01SCREEN",
		Screen:  entity.Size{Width: 640, Height: 640},
		Period:  testPeriod,
		Quality: 0.5,
		Policy:  policy,
		Clock:   mock,
	}, cam, det, log.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(s.Unmount)

	return &harness{screen: s, camera: cam, detector: det, clock: mock}
}

func (h *harness) waitView(t *testing.T, cond func(View) bool) View {
	t.Helper()
	var last View
	require.Eventually(t, func() bool {
		v, err := h.screen.View(context.Background())
		if err != nil {
			return false
		}
		last = v
		return cond(v)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func (h *harness) granted(t *testing.T) {
	t.Helper()
	h.screen.Mount()
	h.waitView(t, func(v View) bool { return v.Permission == entity.PermissionGranted })
}

func (h *harness) tick() {
	h.clock.Add(testPeriod)
}

func TestScreen_NotMounted(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)

	_, err := h.screen.Toggle(context.Background())
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestScreen_PermissionRequestedOnce(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)

	h.screen.Mount()
	h.screen.Mount()
	h.granted(t)

	assert.Equal(t, int32(1), h.camera.permCalls.Load())
}

func TestScreen_ToggleArmsAndDisarms(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)
	h.granted(t)

	v, err := h.screen.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LabelStart, v.ToggleLabel)
	assert.False(t, h.screen.Armed())

	v, err = h.screen.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.RecordingActive, v.Recording)
	assert.Equal(t, LabelStop, v.ToggleLabel)
	assert.True(t, h.screen.Armed())

	v, err = h.screen.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.RecordingIdle, v.Recording)
	assert.Equal(t, LabelStart, v.ToggleLabel)
	assert.False(t, h.screen.Armed())

	h.tick()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.camera.captures.Load(), "no capture while idle")
}

func TestScreen_DeniedRendersNotice(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionDenied}, LatestIssued)
	h.screen.Mount()

	v := h.waitView(t, func(v View) bool { return v.Permission == entity.PermissionDenied })
	assert.Equal(t, NoticeNoAccess, v.Notice)
	assert.Empty(t, v.ToggleLabel)

	_, err := h.screen.Toggle(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, h.screen.Armed())

	h.tick()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.camera.captures.Load(), "capture is never invoked once denied")
}

func TestScreen_TicksSkippedUntilPermissionResolves(t *testing.T) {
	cam := &fakeCamera{release: make(chan entity.PermissionState, 1)}
	h := newHarness(t, cam, LatestIssued)
	h.screen.Mount()

	_, err := h.screen.Toggle(context.Background())
	require.NoError(t, err)

	h.tick()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, cam.captures.Load())

	cam.release <- entity.PermissionGranted
	h.waitView(t, func(v View) bool { return v.Permission == entity.PermissionGranted })

	h.tick()
	p := h.detector.next(t)
	assert.Equal(t, "frame-1", p.image)
	p.reply <- detectResult{}
}

func TestScreen_CycleAppliesDetection(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)
	h.granted(t)
	_, err := h.screen.Toggle(context.Background())
	require.NoError(t, err)

	h.tick()
	p := h.detector.next(t)
	assert.Equal(t, "frame-1", p.image)

	v := h.waitView(t, func(v View) bool { return v.Still != nil })
	assert.Equal(t, "frame-1", v.Still.FrameID)
	assert.Equal(t, uint64(1), v.Still.Seq)
	assert.Contains(t, v.Still.URI, "frame=frame-1")
	assert.Empty(t, v.Live, "boxes are not known yet")

	p.reply <- detectResult{boxes: box(100)}
	v = h.waitView(t, func(v View) bool { return v.BoxesSeq == 1 })
	assert.Equal(t, box(100), v.Boxes)
	require.Len(t, v.Live, 1)
	assert.Equal(t, 100.0, v.Live[0].Left)
}

func TestScreen_DetectionFailureKeepsBoxes(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)
	h.granted(t)
	_, err := h.screen.Toggle(context.Background())
	require.NoError(t, err)

	h.tick()
	h.detector.next(t).reply <- detectResult{boxes: box(1)}
	h.waitView(t, func(v View) bool { return v.BoxesSeq == 1 })

	h.tick()
	h.detector.next(t).reply <- detectResult{err: errors.New("connection refused")}
	time.Sleep(50 * time.Millisecond)

	v, err := h.screen.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.BoxesSeq)
	assert.Equal(t, box(1), v.Boxes)
	assert.Equal(t, entity.RecordingActive, v.Recording, "loop keeps running after a failed cycle")
	assert.True(t, h.screen.Armed())
}

func TestScreen_CaptureFailureSkipsTick(t *testing.T) {
	cam := &fakeCamera{permission: entity.PermissionGranted, captureErrs: true}
	h := newHarness(t, cam, LatestIssued)
	h.granted(t)
	_, err := h.screen.Toggle(context.Background())
	require.NoError(t, err)

	h.tick()
	require.Eventually(t, func() bool { return cam.captures.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	select {
	case <-h.detector.calls:
		t.Fatal("detector must not be called without a frame")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, h.screen.Armed())
}

func TestScreen_OutOfOrderResponses(t *testing.T) {
	run := func(t *testing.T, policy OrderPolicy) View {
		h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, policy)
		h.granted(t)
		_, err := h.screen.Toggle(context.Background())
		require.NoError(t, err)

		h.tick()
		first := h.detector.next(t)
		h.tick()
		second := h.detector.next(t)
		require.Equal(t, "frame-1", first.image)
		require.Equal(t, "frame-2", second.image)

		second.reply <- detectResult{boxes: box(2)}
		h.waitView(t, func(v View) bool { return v.BoxesSeq == 2 })

		first.reply <- detectResult{boxes: box(1)}
		time.Sleep(50 * time.Millisecond)

		v, err := h.screen.View(context.Background())
		require.NoError(t, err)
		return v
	}

	t.Run("latest issued", func(t *testing.T) {
		v := run(t, LatestIssued)
		assert.Equal(t, box(2), v.Boxes)
		assert.Equal(t, uint64(2), v.BoxesSeq)
		assert.Equal(t, uint64(1), v.Discarded)
	})

	t.Run("latest resolved", func(t *testing.T) {
		v := run(t, LatestResolved)
		assert.Equal(t, box(1), v.Boxes)
		assert.Equal(t, uint64(1), v.BoxesSeq)
		assert.Zero(t, v.Discarded)
	})
}

func TestScreen_InFlightResultAppliedAfterStop(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)
	h.granted(t)
	_, err := h.screen.Toggle(context.Background())
	require.NoError(t, err)

	h.tick()
	p := h.detector.next(t)

	v, err := h.screen.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.RecordingIdle, v.Recording)

	p.reply <- detectResult{boxes: box(7)}
	v = h.waitView(t, func(v View) bool { return v.BoxesSeq == 1 })
	assert.Equal(t, box(7), v.Boxes)
	assert.Equal(t, entity.RecordingIdle, v.Recording)
}

func TestScreen_UnmountStopsEverything(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)
	h.granted(t)
	_, err := h.screen.Toggle(context.Background())
	require.NoError(t, err)

	updates, _ := h.screen.Subscribe()

	h.tick()
	h.detector.next(t)

	h.screen.Unmount()
	assert.False(t, h.screen.Armed())

	_, err = h.screen.View(context.Background())
	assert.ErrorIs(t, err, ErrUnmounted)

	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond, "subscriber channel is closed")
}

func TestScreen_UnmountBeforeMountReleasesScreen(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)
	updates, _ := h.screen.Subscribe()

	h.screen.Unmount()
	assert.ErrorIs(t, h.screen.ctx.Err(), context.Canceled)

	_, ok := <-updates
	assert.False(t, ok, "subscriber channel is closed")

	late, _ := h.screen.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	h.screen.Mount()
	_, err := h.screen.Toggle(context.Background())
	assert.ErrorIs(t, err, ErrNotMounted)
	assert.Zero(t, h.camera.permCalls.Load(), "an unmounted screen never asks for the camera")
}

func TestScreen_SubscribeReceivesViews(t *testing.T) {
	h := newHarness(t, &fakeCamera{permission: entity.PermissionGranted}, LatestIssued)
	updates, cancel := h.screen.Subscribe()
	defer cancel()

	h.screen.Mount()

	select {
	case v := <-updates:
		assert.Equal(t, entity.PermissionGranted, v.Permission)
	case <-time.After(2 * time.Second):
		t.Fatal("no view published")
	}
}
