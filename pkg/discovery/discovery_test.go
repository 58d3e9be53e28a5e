package discovery

import (
	"testing"

	"github.com/google/uuid"
)

func TestAcquireRejectsConcurrentRunForSameConnection(t *testing.T) {
	o := &Orchestrator{running: make(map[uuid.UUID]struct{})}
	connID := uuid.New()

	if err := o.acquire(connID); err != nil {
		t.Fatalf("first acquire should succeed, got %v", err)
	}

	if err := o.acquire(connID); err != ErrAlreadyRunning {
		t.Errorf("second acquire for the same connection should return ErrAlreadyRunning, got %v", err)
	}

	o.release(connID)

	if err := o.acquire(connID); err != nil {
		t.Errorf("acquire after release should succeed, got %v", err)
	}
}

func TestAcquireAllowsDifferentConnections(t *testing.T) {
	o := &Orchestrator{running: make(map[uuid.UUID]struct{})}

	if err := o.acquire(uuid.New()); err != nil {
		t.Fatalf("acquire for connection A should succeed, got %v", err)
	}
	if err := o.acquire(uuid.New()); err != nil {
		t.Errorf("acquire for connection B should succeed independently, got %v", err)
	}
}
