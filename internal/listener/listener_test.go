package listener

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"sleeponlan/internal/identity"
	"sleeponlan/internal/magic"
	"sleeponlan/internal/metrics"
	"sleeponlan/internal/power"
	"sleeponlan/internal/store"
)

const testPoll = 50 * time.Millisecond

var testAddr = identity.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

type fakeRecorder struct {
	mu        sync.Mutex
	decisions []store.Decision
	err       error
}

func (r *fakeRecorder) Record(d store.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return r.err
}

func (r *fakeRecorder) snapshot() []store.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Decision(nil), r.decisions...)
}

type running struct {
	token *Token
	addr  *net.UDPAddr
	done  chan error
}

func startLoop(t *testing.T, cfg Config, inv power.Invoker, rec Recorder) *running {
	t.Helper()

	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = testPoll
	}

	l := New(cfg, identity.NewSet(testAddr), inv, rec, zerolog.Nop())
	r := &running{token: &Token{}, done: make(chan error, 1)}
	if !r.token.Begin() {
		t.Fatal("token did not begin")
	}

	readyCh := make(chan error, 1)
	go func() {
		r.done <- l.Run(r.token, func(addr net.Addr, err error) {
			if err == nil {
				r.addr = addr.(*net.UDPAddr)
			}
			readyCh <- err
		})
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			t.Fatalf("loop failed to bind: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop never became ready")
	}

	t.Cleanup(func() {
		if r.token.RequestStop() {
			<-r.done
		}
	})
	return r
}

func (r *running) send(t *testing.T, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, r.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoop_AcceptsMagicPacket(t *testing.T) {
	calls := make(chan struct{}, 4)
	rec := &fakeRecorder{}
	r := startLoop(t, Config{}, power.InvokerFunc(func() { calls <- struct{}{} }), rec)

	before := testutil.ToFloat64(metrics.PacketsTotal.WithLabelValues("accepted"))
	r.send(t, magic.Build(testAddr))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("invoker was not called for a valid packet")
	}

	waitFor(t, "decision to be recorded", func() bool { return len(rec.snapshot()) == 1 })
	d := rec.snapshot()[0]
	if !d.Accepted || d.Target != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("unexpected decision %+v", d)
	}
	if got := testutil.ToFloat64(metrics.PacketsTotal.WithLabelValues("accepted")) - before; got != 1 {
		t.Errorf("accepted counter delta = %v, want 1", got)
	}
}

func TestLoop_RejectsAndKeepsListening(t *testing.T) {
	calls := make(chan struct{}, 4)
	rec := &fakeRecorder{}
	r := startLoop(t, Config{}, power.InvokerFunc(func() { calls <- struct{}{} }), rec)

	r.send(t, magic.Build(identity.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}))
	r.send(t, []byte("hello"))
	waitFor(t, "two rejections", func() bool { return len(rec.snapshot()) == 2 })

	for _, d := range rec.snapshot() {
		if d.Accepted {
			t.Errorf("unexpected accept %+v", d)
		}
	}
	select {
	case <-calls:
		t.Fatal("invoker called for a rejected packet")
	default:
	}

	r.send(t, magic.Build(testAddr))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped listening after rejections")
	}
}

func TestLoop_SurvivesInvokerPanicAndRecorderError(t *testing.T) {
	var mu sync.Mutex
	n := 0
	inv := power.InvokerFunc(func() {
		mu.Lock()
		n++
		mu.Unlock()
		panic("power-off exploded")
	})
	rec := &fakeRecorder{err: errors.New("disk full")}
	r := startLoop(t, Config{}, inv, rec)

	r.send(t, magic.Build(testAddr))
	waitFor(t, "first invocation", func() bool { mu.Lock(); defer mu.Unlock(); return n == 1 })

	r.send(t, magic.Build(testAddr))
	waitFor(t, "second invocation", func() bool { mu.Lock(); defer mu.Unlock(); return n == 2 })

	if r.token.State() != Listening {
		t.Errorf("state = %s, want listening", r.token.State())
	}
}

func TestLoop_StopWithoutTraffic(t *testing.T) {
	r := startLoop(t, Config{}, power.InvokerFunc(func() {}), nil)

	start := time.Now()
	if !r.token.RequestStop() {
		t.Fatal("RequestStop reported not listening")
	}

	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(testPoll * 10):
		t.Fatal("loop did not observe the stop signal")
	}

	if elapsed := time.Since(start); elapsed > testPoll*5 {
		t.Errorf("stop took %v, expected about one poll interval", elapsed)
	}
	if r.token.State() != Stopped {
		t.Errorf("state = %s, want stopped", r.token.State())
	}
}

func TestLoop_StopBeforeDispatch(t *testing.T) {
	calls := make(chan struct{}, 1)
	r := startLoop(t, Config{PollInterval: time.Second}, power.InvokerFunc(func() { calls <- struct{}{} }), nil)

	r.token.RequestStop()
	r.send(t, magic.Build(testAddr))

	select {
	case <-r.done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit")
	}
	select {
	case <-calls:
		t.Error("packet dispatched after stop was requested")
	default:
	}
}

func TestLoop_BindFailure(t *testing.T) {
	l := New(Config{BindAddress: "192.0.2.1", Port: 4100}, identity.NewSet(testAddr), power.InvokerFunc(func() {}), nil, zerolog.Nop())

	token := &Token{}
	token.Begin()

	var readyErr error
	var stateAtReady State
	err := l.Run(token, func(addr net.Addr, err error) {
		readyErr = err
		stateAtReady = token.State()
	})
	if err == nil {
		t.Fatal("expected bind error")
	}
	if readyErr == nil || errors.Is(readyErr, ErrStopped) {
		t.Errorf("ready callback got %v, want the bind error", readyErr)
	}
	if stateAtReady != Starting {
		t.Errorf("state during failed bind = %s, want starting", stateAtReady)
	}
	if token.State() != Stopped {
		t.Errorf("state = %s, want stopped", token.State())
	}
}

func TestLoop_StateIsStartingUntilBound(t *testing.T) {
	l := New(Config{BindAddress: "127.0.0.1", PollInterval: testPoll}, identity.NewSet(testAddr), power.InvokerFunc(func() {}), nil, zerolog.Nop())

	token := &Token{}
	token.Begin()
	if token.State() != Starting {
		t.Fatalf("state after Begin = %s, want starting", token.State())
	}

	states := make(chan State, 1)
	done := make(chan error, 1)
	go func() {
		done <- l.Run(token, func(addr net.Addr, err error) { states <- token.State() })
	}()

	select {
	case st := <-states:
		if st != Listening {
			t.Errorf("state once bound = %s, want listening", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop never became ready")
	}

	token.RequestStop()
	<-done
}

func TestLoop_StopRequestedBeforeRun(t *testing.T) {
	l := New(Config{BindAddress: "127.0.0.1"}, identity.NewSet(testAddr), power.InvokerFunc(func() {}), nil, zerolog.Nop())

	token := &Token{}
	token.Begin()
	if !token.RequestStop() {
		t.Fatal("RequestStop must succeed while starting")
	}

	var readyErr error
	if err := l.Run(token, func(addr net.Addr, err error) { readyErr = err }); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if !errors.Is(readyErr, ErrStopped) {
		t.Errorf("ready callback got %v, want ErrStopped", readyErr)
	}
	if token.State() != Stopped {
		t.Errorf("state = %s, want stopped", token.State())
	}
}

func TestLoop_RequiresStartedToken(t *testing.T) {
	l := New(Config{BindAddress: "127.0.0.1"}, identity.NewSet(), power.InvokerFunc(func() {}), nil, zerolog.Nop())
	if err := l.Run(&Token{}, nil); err == nil {
		t.Error("expected error for a token that never began")
	}
}

func TestToken_Transitions(t *testing.T) {
	var tok Token
	if tok.State() != Stopped {
		t.Fatalf("zero token state = %s", tok.State())
	}
	if tok.RequestStop() {
		t.Error("RequestStop succeeded on a stopped token")
	}
	if !tok.Begin() || tok.Begin() {
		t.Error("Begin must succeed exactly once")
	}
	if tok.State() != Starting {
		t.Errorf("state after Begin = %s, want starting", tok.State())
	}
	if !tok.listen() || tok.listen() {
		t.Error("listen must succeed exactly once")
	}
	if !tok.RequestStop() || tok.RequestStop() {
		t.Error("RequestStop must succeed exactly once")
	}
	if tok.listen() {
		t.Error("listen must fail once a stop was requested")
	}
	tok.acknowledge()
	if tok.State() != Stopped {
		t.Errorf("state after acknowledge = %s", tok.State())
	}
}
