package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/edlive/classroom/internal/protocol"
)

const probeTimeout = 60 * time.Second

type monitorRig struct {
	*rig
	monitor *Monitor
	now     time.Time
}

func newMonitorRig() *monitorRig {
	r := newRig()
	m := &monitorRig{
		rig:     r,
		monitor: NewMonitor(r.reg, r.router, 15*time.Second, probeTimeout),
		now:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	r.reg.now = func() time.Time { return m.now }
	return m
}

func (m *monitorRig) advance(d time.Duration) { m.now = m.now.Add(d) }

func TestSweepEvictsStaleConnection(t *testing.T) {
	m := newMonitorRig()
	sidA, _ := m.connect()
	sidB, connB := m.connect()
	m.join(t, sidA, "R1", "A")
	m.join(t, sidB, "R1", "B")

	// B answers a probe, A goes silent past the timeout window.
	m.advance(probeTimeout / 2)
	m.reg.MarkAlive(sidB)
	m.advance(probeTimeout/2 + time.Second)

	m.monitor.Sweep()

	got := connB.lastEnvelope(t)
	if got.Kind != protocol.KindMemberLeft {
		t.Fatalf("B received %q, want member-left", got.Kind)
	}
	var evt protocol.MemberEventPayload
	if err := json.Unmarshal(got.Payload, &evt); err != nil {
		t.Fatalf("unmarshal member event: %v", err)
	}
	if evt.Member.ID != "A" || evt.Reason != ReasonTimeout {
		t.Errorf("event = %+v, want A/timeout", evt)
	}
	if m.reg.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", m.reg.Count())
	}

	roster, _ := m.rooms.Roster("R1")
	if len(roster) != 1 || roster[0].ID != "B" {
		t.Fatalf("roster = %v, want [B]", roster)
	}
}

func TestSweepDeletesRoomOfLoneStaleMember(t *testing.T) {
	m := newMonitorRig()
	sidA, connA := m.connect()
	m.join(t, sidA, "R1", "A")
	frames := len(connA.envelopes(t))

	m.advance(probeTimeout + time.Second)
	m.monitor.Sweep()

	if _, ok := m.rooms.Roster("R1"); ok {
		t.Fatal("room R1 still exists")
	}
	if m.reg.Count() != 0 {
		t.Fatalf("registry count = %d, want 0", m.reg.Count())
	}
	// Nobody was left to notify.
	if got := len(connA.envelopes(t)); got != frames {
		t.Errorf("evicted connection received %d extra frames", got-frames)
	}
}

func TestSweepProbesLiveConnections(t *testing.T) {
	m := newMonitorRig()
	_, connA := m.connect()
	_, connB := m.connect()

	m.monitor.Sweep()

	for i, conn := range []*fakeConn{connA, connB} {
		conn.mu.Lock()
		probes := conn.probes
		conn.mu.Unlock()
		if probes != 1 {
			t.Errorf("conn %d probed %d times, want 1", i, probes)
		}
	}
	if m.reg.Count() != 2 {
		t.Fatalf("live connections evicted: count = %d", m.reg.Count())
	}
}

func TestSweepSkipsProbeForEvicted(t *testing.T) {
	m := newMonitorRig()
	_, connA := m.connect()

	m.advance(probeTimeout + time.Second)
	m.monitor.Sweep()

	connA.mu.Lock()
	probes := connA.probes
	connA.mu.Unlock()
	if probes != 0 {
		t.Errorf("evicted connection probed %d times, want 0", probes)
	}
}

func TestProbeFailureDoesNotEvict(t *testing.T) {
	m := newMonitorRig()
	m.connect()
	m.reg.Register(&fakeConn{failProbe: true}, nil)

	m.monitor.Sweep()

	// A failed probe is logged, not acted on; only missed responses past
	// the timeout window evict.
	if m.reg.Count() != 2 {
		t.Fatalf("count = %d, want 2", m.reg.Count())
	}
}
