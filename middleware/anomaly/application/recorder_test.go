package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"
)

type captureSink struct {
	mu   sync.Mutex
	recs []domain.TrafficRecord
	err  error
}

func (s *captureSink) Write(_ context.Context, rec domain.TrafficRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type countingObserver struct {
	nopObserver
	dropped, written, failed atomic.Int64
}

func (o *countingObserver) RecordDropped() { o.dropped.Add(1) }
func (o *countingObserver) RecordWritten() { o.written.Add(1) }
func (o *countingObserver) RecordFailed()  { o.failed.Add(1) }

type deniedThrottle struct{}

func (deniedThrottle) Wait(context.Context) error { return errors.New("rate: Wait(n=1) would exceed context deadline") }

func newTestRecorder(t *testing.T, opts RecorderOptions) *Recorder {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	r, err := NewRecorder(opts)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestNewRecorder_RequiresSink(t *testing.T) {
	if _, err := NewRecorder(RecorderOptions{}); err == nil {
		t.Fatalf("expected error without sink")
	}
}

func TestRecorder_BuildRecord(t *testing.T) {
	r := newTestRecorder(t, RecorderOptions{
		Sink:       &captureSink{},
		NewID:      func() string { return "id-1" },
		SourcePort: func() int { return 40000 },
	})
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := r.Build(RecordJob{
		Meta: domain.RequestMeta{
			ReceivedAt: at,
			ClientKey:  "198.51.100.4",
			RemoteAddr: "198.51.100.4:51515",
			Method:     "GET",
			Path:       "/x",
		},
		Verdict: domain.Verdict{AttackType: domain.DoSFamily, ThreatLevel: domain.ThreatMedium, Reason: domain.ReasonSoftRate},
	})

	if rec.ID != "id-1" || rec.SourceIP != "198.51.100.4" || rec.SourcePort != 51515 {
		t.Fatalf("unexpected identity fields: %+v", rec)
	}
	if rec.DestIP != DefaultDestIP || rec.DestPort != DefaultDestPort || rec.Protocol != DefaultProtocol {
		t.Fatalf("unexpected destination fields: %+v", rec)
	}
	if rec.AttackType != domain.DoSFamily || rec.ThreatLevel != domain.ThreatMedium || !rec.At.Equal(at) {
		t.Fatalf("unexpected verdict fields: %+v", rec)
	}
	if n := len(strings.Split(rec.Features, ",")); n != domain.FeatureCount {
		t.Fatalf("expected %d features, got %d", domain.FeatureCount, n)
	}
}

func TestRecorder_SourceIPIgnoresHeaderKey(t *testing.T) {
	r := newTestRecorder(t, RecorderOptions{Sink: &captureSink{}})

	rec := r.Build(RecordJob{
		Meta:     domain.RequestMeta{ClientKey: "tenant-42", RemoteAddr: "10.0.0.1:8080"},
		SourceIP: "203.0.113.9",
	})
	if rec.SourceIP != "203.0.113.9" {
		t.Fatalf("expected resolved source address, got %q", rec.SourceIP)
	}

	rec = r.Build(RecordJob{Meta: domain.RequestMeta{ClientKey: "tenant-42", RemoteAddr: "10.0.0.1:8080"}})
	if rec.SourceIP != "10.0.0.1" {
		t.Fatalf("expected peer address when source is unset, got %q", rec.SourceIP)
	}
}

func TestRecorder_SyntheticPortBehindProxy(t *testing.T) {
	r := newTestRecorder(t, RecorderOptions{Sink: &captureSink{}})

	for i := 0; i < 200; i++ {
		rec := r.Build(RecordJob{Meta: domain.RequestMeta{
			ClientKey:    "203.0.113.1",
			RemoteAddr:   "10.0.0.1:8080",
			ForwardedFor: "203.0.113.1",
		}})
		if rec.SourcePort < 1024 || rec.SourcePort > 65535 {
			t.Fatalf("synthetic port out of range: %d", rec.SourcePort)
		}
	}
}

func TestRecorder_EnqueueDropsWhenFull(t *testing.T) {
	obs := &countingObserver{}
	r := newTestRecorder(t, RecorderOptions{Sink: &captureSink{}, QueueSize: 2, Observer: obs})

	if !r.Enqueue(RecordJob{}) || !r.Enqueue(RecordJob{}) {
		t.Fatalf("expected first two enqueues to succeed")
	}
	if r.Enqueue(RecordJob{}) {
		t.Fatalf("expected enqueue to fail when queue is full")
	}
	if obs.dropped.Load() != 1 || r.Pending() != 2 {
		t.Fatalf("expected 1 drop and 2 pending, got %d/%d", obs.dropped.Load(), r.Pending())
	}
}

func TestRecorder_RunWritesAndStops(t *testing.T) {
	sink := &captureSink{}
	obs := &countingObserver{}
	r := newTestRecorder(t, RecorderOptions{Sink: sink, Workers: 2, Observer: obs})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < 10; i++ {
		r.Enqueue(RecordJob{Meta: domain.RequestMeta{ClientKey: "10.0.0.1", Method: "GET"}})
	}
	waitFor(t, func() bool { return sink.len() == 10 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("recorder did not stop")
	}
	if obs.written.Load() != 10 {
		t.Fatalf("expected 10 written, got %d", obs.written.Load())
	}
}

func TestRecorder_SinkErrorIsCounted(t *testing.T) {
	sink := &captureSink{err: errors.New("redis down")}
	obs := &countingObserver{}
	r := newTestRecorder(t, RecorderOptions{Sink: sink, Observer: obs})

	r.process(context.Background(), RecordJob{Meta: domain.RequestMeta{ClientKey: "k"}})

	if obs.failed.Load() != 1 || obs.written.Load() != 0 {
		t.Fatalf("expected one failure, got failed=%d written=%d", obs.failed.Load(), obs.written.Load())
	}
}

func TestRecorder_ThrottleErrorDrops(t *testing.T) {
	sink := &captureSink{}
	obs := &countingObserver{}
	r := newTestRecorder(t, RecorderOptions{Sink: sink, Observer: obs, Throttle: deniedThrottle{}})

	r.process(context.Background(), RecordJob{Meta: domain.RequestMeta{ClientKey: "k"}})

	if sink.len() != 0 || obs.dropped.Load() != 1 {
		t.Fatalf("expected throttled record to be dropped, got sink=%d dropped=%d", sink.len(), obs.dropped.Load())
	}
}
