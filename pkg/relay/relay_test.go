package relay

import (
	"testing"

	"github.com/librescoot/mayako-node/pkg/packet"
)

type fakeQueue struct {
	pushed []*packet.Packet
}

func (q *fakeQueue) Push(p *packet.Packet) {
	q.pushed = append(q.pushed, p)
}

func TestSetQueueFirstWriterWins(t *testing.T) {
	r := New()
	first := &fakeQueue{}
	second := &fakeQueue{}

	r.SetQueue(first)
	r.SetQueue(second)
	r.Info([]byte("{}"))

	if len(first.pushed) != 1 {
		t.Fatalf("first queue got %d packets, want 1", len(first.pushed))
	}
	if len(second.pushed) != 0 {
		t.Fatalf("second queue got %d packets, want 0", len(second.pushed))
	}
}

func TestInfoEmitsInfoMethod(t *testing.T) {
	r := New()
	q := &fakeQueue{}
	r.SetQueue(q)

	r.Info([]byte(`{"x":1}`))

	if len(q.pushed) != 1 {
		t.Fatalf("got %d packets, want 1", len(q.pushed))
	}
	if q.pushed[0].Method != packet.MethodInfo {
		t.Errorf("Method = %v, want %v", q.pushed[0].Method, packet.MethodInfo)
	}
}

func TestDebugSuppressedUntilEnabled(t *testing.T) {
	r := New()
	q := &fakeQueue{}
	r.SetQueue(q)

	r.Debug([]byte("quiet"))
	if len(q.pushed) != 0 {
		t.Fatalf("got %d packets before EnableDebugMode, want 0", len(q.pushed))
	}

	r.EnableDebugMode()
	r.Debug([]byte("loud"))
	if len(q.pushed) != 1 {
		t.Fatalf("got %d packets after EnableDebugMode, want 1", len(q.pushed))
	}
	if q.pushed[0].Method != packet.MethodDebug {
		t.Errorf("Method = %v, want %v", q.pushed[0].Method, packet.MethodDebug)
	}

	r.DisableDebugMode()
	r.Debug([]byte("quiet again"))
	if len(q.pushed) != 1 {
		t.Fatalf("got %d packets after DisableDebugMode, want still 1", len(q.pushed))
	}
}

func TestErrorAlwaysEmits(t *testing.T) {
	r := New()
	q := &fakeQueue{}
	r.SetQueue(q)

	r.Error([]byte("boom"))
	if len(q.pushed) != 1 {
		t.Fatalf("got %d packets, want 1", len(q.pushed))
	}
	if q.pushed[0].Method != packet.MethodError {
		t.Errorf("Method = %v, want %v", q.pushed[0].Method, packet.MethodError)
	}
}

func TestHeartbeatEmitsEmptyBody(t *testing.T) {
	r := New()
	q := &fakeQueue{}
	r.SetQueue(q)

	r.Heartbeat()
	if len(q.pushed) != 1 {
		t.Fatalf("got %d packets, want 1", len(q.pushed))
	}
	p := q.pushed[0]
	if p.Method != packet.MethodHeartbeat {
		t.Errorf("Method = %v, want %v", p.Method, packet.MethodHeartbeat)
	}
	if string(p.Payload) != "{}" {
		t.Errorf("Payload = %q, want %q", p.Payload, "{}")
	}
}

func TestAckBeforeQueueAssignedDoesNotBlock(t *testing.T) {
	r := New()
	r.Ack([]byte(`{"seq_num":1,"retry":false}`))
}
