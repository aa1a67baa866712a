package gateway

import (
	"testing"
	"time"
)

func TestConn_StateMachine(t *testing.T) {
	c := &Conn{state: StateConnecting, scopes: make(map[string]bool)}

	c.Authenticate("user-1", "dev-1")
	if c.State() != StateAuthenticated {
		t.Fatalf("expected Authenticated, got %v", c.State())
	}

	c.AddScope("channel:c1")
	if c.State() != StateSubscribed {
		t.Fatalf("expected Subscribed after first scope, got %v", c.State())
	}

	c.AddScope("channel:c2")
	c.RemoveScope("channel:c1")
	if c.State() != StateSubscribed {
		t.Fatalf("expected still Subscribed with one scope remaining, got %v", c.State())
	}

	c.RemoveScope("channel:c2")
	if c.State() != StateAuthenticated {
		t.Fatalf("expected back to Authenticated after last unsubscribe, got %v", c.State())
	}
}

func TestConn_SubscribeUnsubscribeSubscribeLeavesExactlyOne(t *testing.T) {
	// spec §8 idempotence law: subscribe(s); unsubscribe(s); subscribe(s)
	// leaves the connection with exactly one subscription to s.
	c := &Conn{state: StateAuthenticated, scopes: make(map[string]bool)}

	c.AddScope("guild:g1")
	c.RemoveScope("guild:g1")
	c.AddScope("guild:g1")

	scopes := c.Scopes()
	if len(scopes) != 1 || scopes[0] != "guild:g1" {
		t.Fatalf("expected exactly one subscription to guild:g1, got %v", scopes)
	}
}

func TestConn_EnqueueOverflowReturnsFalse(t *testing.T) {
	c := &Conn{send: make(chan []byte, 2), closed: make(chan struct{})}

	if !c.Enqueue([]byte("a")) || !c.Enqueue([]byte("b")) {
		t.Fatalf("expected first two enqueues to succeed")
	}
	if c.Enqueue([]byte("c")) {
		t.Fatalf("expected third enqueue to overflow and return false")
	}
}

func TestConn_CheckHeartbeatMissesTwoBeforeReporting(t *testing.T) {
	c := &Conn{lastHeartbeat: time.Now().Add(-100 * time.Millisecond)}

	if c.checkHeartbeat(10 * time.Millisecond) {
		t.Fatalf("expected first miss not to trigger close")
	}
	if !c.checkHeartbeat(10 * time.Millisecond) {
		t.Fatalf("expected second consecutive miss to trigger close")
	}
}

func TestConn_HeartbeatResetsMissedPings(t *testing.T) {
	c := &Conn{lastHeartbeat: time.Now().Add(-100 * time.Millisecond)}
	c.checkHeartbeat(10 * time.Millisecond)
	c.Heartbeat()
	if c.checkHeartbeat(10 * time.Millisecond) {
		t.Fatalf("expected miss counter reset after Heartbeat()")
	}
}

func TestManager_FanoutDeliversOnlyToSubscribedScope(t *testing.T) {
	m := NewManager(time.Hour, 4)
	defer m.Close()

	a := &Conn{ConnID: "a", send: make(chan []byte, 4), closed: make(chan struct{}), scopes: make(map[string]bool)}
	b := &Conn{ConnID: "b", send: make(chan []byte, 4), closed: make(chan struct{}), scopes: make(map[string]bool)}

	m.Subscribe(a, "channel:c1")
	m.Subscribe(b, "channel:c2")

	m.Fanout("channel:c1", []byte("hello"))

	select {
	case got := <-a.send:
		if string(got) != "hello" {
			t.Fatalf("unexpected payload: %s", got)
		}
	default:
		t.Fatalf("expected conn a to receive the fanout")
	}

	select {
	case got := <-b.send:
		t.Fatalf("expected conn b (different scope) not to receive anything, got %s", got)
	default:
	}
}

func TestManager_FanoutUserDeliversToEveryDevice(t *testing.T) {
	m := NewManager(time.Hour, 4)
	defer m.Close()

	a := &Conn{ConnID: "a", UserID: "u1", send: make(chan []byte, 4), closed: make(chan struct{}), scopes: make(map[string]bool)}
	b := &Conn{ConnID: "b", UserID: "u1", send: make(chan []byte, 4), closed: make(chan struct{}), scopes: make(map[string]bool)}
	m.BindUser(a)
	m.BindUser(b)

	m.FanoutUser("u1", []byte("sync"))

	for _, c := range []*Conn{a, b} {
		select {
		case got := <-c.send:
			if string(got) != "sync" {
				t.Fatalf("unexpected payload on %s: %s", c.ConnID, got)
			}
		default:
			t.Fatalf("expected conn %s to receive the user broadcast", c.ConnID)
		}
	}
}
