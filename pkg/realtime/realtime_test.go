package realtime

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func newTestClient(hub *Hub, orgID uuid.UUID, buffer int) *Client {
	c := &Client{hub: hub, organizationID: orgID, send: make(chan []byte, buffer)}
	hub.register(c)
	return c
}

func riskHighAlertPayload() RiskHighAlertPayload {
	return RiskHighAlertPayload{
		AutomationID: uuid.New(),
		RiskScore:    92,
		RiskLevel:    "critical",
	}
}

func TestBroadcastDeliversOnlyToSubscribedOrganization(t *testing.T) {
	hub := NewHub(slog.Default())
	orgA, orgB := uuid.New(), uuid.New()

	clientA := newTestClient(hub, orgA, 4)
	clientB := newTestClient(hub, orgB, 4)

	hub.Broadcast(orgA, MessageRiskHighAlert, riskHighAlertPayload())

	select {
	case <-clientA.send:
	default:
		t.Fatal("expected org A's client to receive the broadcast")
	}

	select {
	case <-clientB.send:
		t.Fatal("org B's client should not receive org A's broadcast")
	default:
	}
}

func TestBroadcastDropsWhenSendBufferIsFull(t *testing.T) {
	hub := NewHub(slog.Default())
	orgID := uuid.New()
	client := newTestClient(hub, orgID, 1)

	hub.Broadcast(orgID, MessageDiscoveryProgress, DiscoveryProgressPayload{ConnectionID: uuid.New(), Progress: 0, Status: "running"})
	hub.Broadcast(orgID, MessageDiscoveryProgress, DiscoveryProgressPayload{ConnectionID: uuid.New(), Progress: 100, Status: "completed"})

	if len(client.send) != 1 {
		t.Fatalf("expected exactly one buffered message after the second broadcast drops, got %d", len(client.send))
	}
}

func TestBroadcastWithNoSubscribersDoesNotPanic(t *testing.T) {
	hub := NewHub(slog.Default())
	hub.Broadcast(uuid.New(), MessageSystemNotification, SystemNotificationPayload{Level: "info", Message: "x"})
}

func TestBroadcastDropsInvalidPayload(t *testing.T) {
	hub := NewHub(slog.Default())
	orgID := uuid.New()
	client := newTestClient(hub, orgID, 4)

	hub.Broadcast(orgID, MessageSystemNotification, SystemNotificationPayload{Level: "not-a-real-level", Message: "x"})

	select {
	case <-client.send:
		t.Fatal("expected an invalid payload to be dropped, not delivered")
	default:
	}
}

func TestBroadcastDropsUnknownMessageType(t *testing.T) {
	hub := NewHub(slog.Default())
	orgID := uuid.New()
	client := newTestClient(hub, orgID, 4)

	hub.Broadcast(orgID, MessageType("not.a.real.type"), map[string]string{"x": "y"})

	select {
	case <-client.send:
		t.Fatal("expected an unrecognized message type to be dropped")
	default:
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(slog.Default())
	orgID := uuid.New()
	client := newTestClient(hub, orgID, 1)

	hub.unregister(client)

	_, ok := <-client.send
	if ok {
		t.Error("expected send channel to be closed after unregister")
	}
}

func TestVerifyAuthTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	orgID := uuid.New()

	token := IssueAuthToken(secret, orgID)
	if !VerifyAuthToken(secret, orgID, token) {
		t.Error("expected a freshly issued token to verify")
	}
	if VerifyAuthToken(secret, uuid.New(), token) {
		t.Error("a token issued for one organization must not verify for another")
	}
}

func TestBroadcastAllReachesEveryOrganization(t *testing.T) {
	hub := NewHub(slog.Default())
	orgA, orgB := uuid.New(), uuid.New()
	clientA := newTestClient(hub, orgA, 4)
	clientB := newTestClient(hub, orgB, 4)

	hub.BroadcastAll(MessageSystemNotification, SystemNotificationPayload{Level: "warning", Message: "detector drift"})

	select {
	case <-clientA.send:
	default:
		t.Fatal("expected org A's client to receive the platform-wide broadcast")
	}
	select {
	case <-clientB.send:
	default:
		t.Fatal("expected org B's client to receive the platform-wide broadcast")
	}
}

func TestBroadcastIsSafeForConcurrentUse(t *testing.T) {
	hub := NewHub(slog.Default())
	orgID := uuid.New()
	newTestClient(hub, orgID, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Broadcast(orgID, MessageRiskHighAlert, riskHighAlertPayload())
		}()
	}
	wg.Wait()
}
