package httpclient

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

// timer collects connection and transfer timestamps for one request.
// Callbacks can fire from the transport's dial goroutines, so every access
// goes through mu.
type timer struct {
	mu  sync.Mutex
	now func() time.Time

	start        time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	gotConn      time.Time
	wroteRequest time.Time
	firstByte    time.Time
	done         time.Time
	reused       bool
}

func newTimer(now func() time.Time) *timer {
	return &timer{now: now, start: now()}
}

func (t *timer) mark(field *time.Time) {
	ts := t.now()
	t.mu.Lock()
	if field.IsZero() {
		*field = ts
	}
	t.mu.Unlock()
}

func (t *timer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) { t.mark(&t.connectStart) },
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				t.mark(&t.connectDone)
			}
		},
		TLSHandshakeStart: func() { t.mark(&t.tlsStart) },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				t.mark(&t.tlsDone)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			t.mark(&t.gotConn)
			t.mu.Lock()
			t.reused = info.Reused
			t.mu.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) { t.mark(&t.wroteRequest) },
		GotFirstResponseByte: func() { t.mark(&t.firstByte) },
	}
}

func (t *timer) finish() {
	t.mark(&t.done)
}

func between(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}

// timings derives the k6 breakdown. Duration is sending + waiting +
// receiving; connection setup is reported separately.
func (t *timer) timings() (metrics.Timings, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tm metrics.Timings

	if t.gotConn.IsZero() {
		// never connected
		return tm, between(t.start, t.done)
	}

	if t.reused || t.connectStart.IsZero() {
		tm.Blocked = between(t.start, t.gotConn)
	} else {
		tm.Blocked = between(t.start, t.connectStart)
		tm.Connecting = between(t.connectStart, t.connectDone)
		tm.TLSHandshaking = between(t.tlsStart, t.tlsDone)
	}

	tm.Sending = between(t.gotConn, t.wroteRequest)
	tm.Waiting = between(t.wroteRequest, t.firstByte)
	tm.Receiving = between(t.firstByte, t.done)

	return tm, between(t.gotConn, t.done)
}
