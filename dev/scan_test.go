package dev

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/udhos/ersbackup/conf"
)

type recorder struct {
	started []string
	results []Outcome
	onStart func(address string)
}

func (r *recorder) DeviceStart(address string, when time.Time) {
	r.started = append(r.started, address)
	if r.onStart != nil {
		r.onStart(address)
	}
}

func (r *recorder) DeviceResult(o Outcome) {
	r.results = append(r.results, o)
}

// fakeFleet hands out scripted sessions per address and tracks their lifecycle.
type fakeFleet struct {
	mutex    sync.Mutex
	sessions map[string]func() session
	opens    int
	closes   int
	open     int // currently open
	maxOpen  int
}

func (f *fakeFleet) opener(ctx context.Context, logger hasPrintf, address string, opt *conf.AppConfig, cred Credentials) (session, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	build, found := f.sessions[address]
	if !found {
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("connection refused")}
	}
	f.opens++
	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
	return &trackedSession{session: build(), fleet: f}, nil
}

type trackedSession struct {
	session
	fleet *fakeFleet
	once  sync.Once
}

func (s *trackedSession) Close() {
	s.once.Do(func() {
		s.session.Close()
		s.fleet.mutex.Lock()
		s.fleet.closes++
		s.fleet.open--
		s.fleet.mutex.Unlock()
	})
}

// blockingSession hangs on read until closed.
type blockingSession struct {
	closed chan struct{}
	once   sync.Once
}

func (s *blockingSession) ReadUntil(pattern string, timeout time.Duration) ([]byte, error) {
	<-s.closed
	return nil, &TransportError{Op: "read", Err: fmt.Errorf("use of closed network connection")}
}

func (s *blockingSession) Write(b []byte) error {
	select {
	case <-s.closed:
		return &TransportError{Op: "write", Err: fmt.Errorf("use of closed network connection")}
	default:
	}
	return nil
}

func (s *blockingSession) Close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *blockingSession) Transport() string {
	return "fake"
}

func goodDevice(prompt string, delay time.Duration) func() session {
	return func() session {
		return &fakeSession{replies: ersReplies(prompt), delay: delay}
	}
}

func silentDevice() func() session {
	return func() session {
		return &fakeSession{failAt: 1}
	}
}

func newTestBatch(t *testing.T, fleet *fakeFleet, job *BackupJob, progress Progress) *batch {
	logger := &testLogger{t}
	tab := NewModelTable()
	RegisterModels(logger, tab)
	b, err := newBatch(logger, tab, job, progress)
	if err != nil {
		t.Fatalf("newBatch: %v", err)
	}
	b.open = fleet.opener
	b.clock = fixedClock
	return b
}

func TestScanMixed(t *testing.T) {
	fleet := &fakeFleet{sessions: map[string]func() session{
		"10.0.0.1": goodDevice("\r\nSW1#", 0),
		"10.0.0.2": silentDevice(),
	}}

	rec := &recorder{}
	job := testJob(23, time.Second, "10.0.0.1", "bad-addr", "10.0.0.2")
	b := newTestBatch(t, fleet, job, rec)

	r := b.run(context.Background())

	if r.Successful != 1 || r.Failed != 1 || r.Skipped != 1 || r.Interrupted != 0 || r.Cancelled {
		t.Errorf("success=%d failure=%d skipped=%d interrupted=%d cancelled=%v",
			r.Successful, r.Failed, r.Skipped, r.Interrupted, r.Cancelled)
	}

	if len(r.Outcomes) != 2 {
		t.Fatalf("outcomes: got=%d wanted=2", len(r.Outcomes))
	}

	if o := r.Outcomes[0]; o.Address != "10.0.0.1" || !o.Success() || o.Hostname != "SW1" || o.Filename != "10.0.0.1-SW1_07/03/2016" {
		t.Errorf("outcome 1: %+v", o)
	}

	if o := r.Outcomes[1]; o.Address != "10.0.0.2" || o.Success() || o.Step != "AwaitBanner1" || o.Code != fetchErrTimeout || o.Detail == "" {
		t.Errorf("outcome 2: %+v", o)
	}

	if len(rec.started) != 2 || len(rec.results) != 2 {
		t.Errorf("progress: started=%v results=%d", rec.started, len(rec.results))
	}

	if fleet.opens != 2 || fleet.closes != 2 {
		t.Errorf("sessions: opens=%d closes=%d", fleet.opens, fleet.closes)
	}
}

func TestScanOpenFailure(t *testing.T) {
	fleet := &fakeFleet{sessions: map[string]func() session{
		"10.0.0.2": goodDevice("\r\nSW2#", 0),
	}}

	job := testJob(23, time.Second, "10.0.0.1", "10.0.0.2")
	b := newTestBatch(t, fleet, job, nil)

	r := b.run(context.Background())

	if r.Successful != 1 || r.Failed != 1 {
		t.Errorf("success=%d failure=%d", r.Successful, r.Failed)
	}
	if o := r.Outcomes[0]; o.Code != fetchErrTransp || o.Hostname != "" {
		t.Errorf("outcome 1: %+v", o)
	}
}

func TestScanEmpty(t *testing.T) {
	fleet := &fakeFleet{}

	job := testJob(23, time.Second, "not-an-ip", "1.2.3")
	b := newTestBatch(t, fleet, job, nil)

	r := b.run(context.Background())

	if r.Successful != 0 || r.Failed != 0 || r.Skipped != 2 || len(r.Outcomes) != 0 {
		t.Errorf("success=%d failure=%d skipped=%d outcomes=%d", r.Successful, r.Failed, r.Skipped, len(r.Outcomes))
	}
}

func TestScanConcurrencyOrder(t *testing.T) {
	fleet := &fakeFleet{sessions: map[string]func() session{}}
	var devices []string
	for i := 1; i <= 6; i++ {
		addr := fmt.Sprintf("10.0.0.%d", i)
		devices = append(devices, addr)
		// earlier devices are slower
		fleet.sessions[addr] = goodDevice(fmt.Sprintf("\r\nSW%d#", i), time.Duration(7-i)*10*time.Millisecond)
	}

	job := testJob(23, time.Second, devices...)
	job.Options.MaxConcurrency = 3
	b := newTestBatch(t, fleet, job, nil)

	r := b.run(context.Background())

	if r.Successful != 6 {
		t.Errorf("success=%d failure=%d", r.Successful, r.Failed)
	}

	for i, o := range r.Outcomes {
		if o.Address != devices[i] {
			t.Errorf("outcome %d: got=%s wanted=%s", i, o.Address, devices[i])
		}
	}

	if fleet.maxOpen > 3 {
		t.Errorf("concurrency: max open sessions=%d limit=3", fleet.maxOpen)
	}
}

func TestScanCancelBetweenDevices(t *testing.T) {
	fleet := &fakeFleet{sessions: map[string]func() session{
		"10.0.0.1": goodDevice("\r\nSW1#", 0),
		"10.0.0.2": goodDevice("\r\nSW2#", 0),
		"10.0.0.3": goodDevice("\r\nSW3#", 0),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{onStart: func(address string) {
		if address == "10.0.0.2" {
			cancel()
		}
	}}

	job := testJob(23, time.Second, "10.0.0.1", "10.0.0.2", "10.0.0.3")
	b := newTestBatch(t, fleet, job, rec)

	r := b.run(ctx)

	if !r.Cancelled {
		t.Errorf("batch should be marked cancelled")
	}
	if r.Successful != 1 || r.Failed != 0 || r.Interrupted != 1 {
		t.Errorf("success=%d failure=%d interrupted=%d", r.Successful, r.Failed, r.Interrupted)
	}
	if len(r.Outcomes) != 1 || r.Outcomes[0].Address != "10.0.0.1" {
		t.Errorf("outcomes: %+v", r.Outcomes)
	}
	if len(rec.started) != 2 {
		t.Errorf("started: %v", rec.started)
	}
	if fleet.opens != fleet.closes {
		t.Errorf("leaked sessions: opens=%d closes=%d", fleet.opens, fleet.closes)
	}
}

func TestScanCancelInFlight(t *testing.T) {
	fleet := &fakeFleet{sessions: map[string]func() session{
		"10.0.0.1": func() session { return &blockingSession{closed: make(chan struct{})} },
		"10.0.0.2": goodDevice("\r\nSW2#", 0),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{onStart: func(address string) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
	}}

	job := testJob(23, time.Minute, "10.0.0.1", "10.0.0.2")
	b := newTestBatch(t, fleet, job, rec)

	done := make(chan *BatchResult)
	go func() { done <- b.run(ctx) }()

	var r *BatchResult
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("cancellation did not unblock the batch")
	}

	if !r.Cancelled || r.Interrupted != 1 || r.Successful != 0 || r.Failed != 0 {
		t.Errorf("cancelled=%v interrupted=%d success=%d failure=%d", r.Cancelled, r.Interrupted, r.Successful, r.Failed)
	}
	if len(r.Outcomes) != 0 {
		t.Errorf("outcomes: %+v", r.Outcomes)
	}
	if fleet.opens != 1 || fleet.closes != 1 {
		t.Errorf("sessions: opens=%d closes=%d", fleet.opens, fleet.closes)
	}
}

func TestScanCancelDuringOpen(t *testing.T) {
	fleet := &fakeFleet{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialing := make(chan struct{})
	rec := &recorder{}

	job := testJob(23, time.Minute, "10.0.0.1", "10.0.0.2")
	b := newTestBatch(t, fleet, job, rec)
	b.open = func(ctx context.Context, logger hasPrintf, address string, opt *conf.AppConfig, cred Credentials) (session, error) {
		close(dialing)
		<-ctx.Done() // unreachable switch: connect only ends on cancel
		return nil, &TransportError{Op: "open", Err: ctx.Err()}
	}

	go func() {
		<-dialing
		cancel()
	}()

	done := make(chan *BatchResult)
	go func() { done <- b.run(ctx) }()

	var r *BatchResult
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("cancellation did not interrupt a pending connect")
	}

	if !r.Cancelled || r.Interrupted != 1 || r.Successful != 0 || r.Failed != 0 {
		t.Errorf("cancelled=%v interrupted=%d success=%d failure=%d", r.Cancelled, r.Interrupted, r.Successful, r.Failed)
	}
	if len(r.Outcomes) != 0 {
		t.Errorf("outcomes: %+v", r.Outcomes)
	}
	if len(rec.started) != 1 {
		t.Errorf("started: %v", rec.started)
	}
}

func TestOpenCancelledDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, &testLogger{t}, "127.0.0.1", 1, "telnet,ssh", "", "", time.Minute, false)
	if err == nil {
		t.Fatalf("expected error from cancelled open")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("expected TransportError: %v", err)
	}
}

func TestRunBatchBadJob(t *testing.T) {
	logger := &testLogger{t}
	tab := NewModelTable()
	RegisterModels(logger, tab)

	job := testJob(23, time.Second, "10.0.0.1")
	job.Options.Model = "no-such-model"
	if _, err := RunBatch(context.Background(), logger, tab, job, nil); err == nil {
		t.Errorf("expected error for unknown model")
	}

	job = testJob(23, time.Second, "10.0.0.1")
	job.Options.TftpServer = ""
	if _, err := RunBatch(context.Background(), logger, tab, job, nil); err == nil {
		t.Errorf("expected error for missing tftp server")
	}
}
