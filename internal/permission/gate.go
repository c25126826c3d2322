package permission

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"PaperDetection/internal/entity"
)

type Requester interface {
	RequestPermission(ctx context.Context) (entity.PermissionState, error)
}

// Gate asks the camera for access exactly once. The answer moves the state
// from unknown to granted or denied and never changes afterwards.
type Gate struct {
	requester Requester
	log       *logrus.Entry

	once   sync.Once
	mu     sync.RWMutex
	state  entity.PermissionState
	result chan entity.PermissionState
}

func NewGate(requester Requester, log *logrus.Entry) *Gate {
	return &Gate{
		requester: requester,
		log:       log,
		state:     entity.PermissionUnknown,
		result:    make(chan entity.PermissionState, 1),
	}
}

// Request starts the permission request in the background. Only the first
// call reaches the camera; every call returns the same channel, which
// yields the outcome once.
func (g *Gate) Request(ctx context.Context) <-chan entity.PermissionState {
	g.once.Do(func() {
		go g.request(ctx)
	})
	return g.result
}

func (g *Gate) State() entity.PermissionState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) request(ctx context.Context) {
	state, err := g.requester.RequestPermission(ctx)
	if err != nil {
		g.log.WithError(err).Warn("Camera permission request failed, treating as denied")
		state = entity.PermissionDenied
	}
	if !state.Resolved() {
		state = entity.PermissionDenied
	}

	g.mu.Lock()
	g.state = state
	g.mu.Unlock()

	g.log.WithField("permission", state).Info("Camera permission resolved")
	g.result <- state
}
