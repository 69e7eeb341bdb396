package httpclient

import (
	"testing"
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

func TestTimer_Timings_NewConnection(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	tm := &timer{
		start:        at(0),
		connectStart: at(2),
		connectDone:  at(5),
		tlsStart:     at(5),
		tlsDone:      at(12),
		gotConn:      at(12),
		wroteRequest: at(13),
		firstByte:    at(40),
		done:         at(45),
	}

	got, dur := tm.timings()
	if got.Blocked != 2*time.Millisecond {
		t.Errorf("Blocked = %v, want 2ms", got.Blocked)
	}
	if got.Connecting != 3*time.Millisecond {
		t.Errorf("Connecting = %v, want 3ms", got.Connecting)
	}
	if got.TLSHandshaking != 7*time.Millisecond {
		t.Errorf("TLSHandshaking = %v, want 7ms", got.TLSHandshaking)
	}
	if got.Sending != time.Millisecond || got.Waiting != 27*time.Millisecond || got.Receiving != 5*time.Millisecond {
		t.Errorf("Sending/Waiting/Receiving = %v/%v/%v, want 1ms/27ms/5ms", got.Sending, got.Waiting, got.Receiving)
	}
	if dur != 33*time.Millisecond {
		t.Errorf("duration = %v, want 33ms", dur)
	}
}

func TestTimer_Timings_ReusedConnection(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	tm := &timer{
		start:        at(0),
		gotConn:      at(1),
		wroteRequest: at(1),
		firstByte:    at(10),
		done:         at(11),
		reused:       true,
	}

	got, dur := tm.timings()
	if got.Blocked != time.Millisecond || got.Connecting != 0 || got.TLSHandshaking != 0 {
		t.Errorf("reused connection timings = %+v", got)
	}
	if dur != 10*time.Millisecond {
		t.Errorf("duration = %v, want 10ms", dur)
	}
}

func TestTimer_Timings_NeverConnected(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := &timer{start: base, done: base.Add(30 * time.Millisecond)}

	got, dur := tm.timings()
	if got != (metrics.Timings{}) {
		t.Errorf("timings = %+v, want zero", got)
	}
	if dur != 30*time.Millisecond {
		t.Errorf("duration = %v, want 30ms", dur)
	}
}
