package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/heater-control/internal/config"
	"github.com/sweeney/heater-control/internal/heater"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
	"github.com/sweeney/heater-control/internal/status"
	"github.com/sweeney/heater-control/internal/telemetry"
)

// fakeRunner records calls from runLoop.
type fakeRunner struct {
	mu        sync.Mutex
	shutdowns int
	err       error
	tracker   *status.Tracker
}

func (f *fakeRunner) Enable()                        { f.tracker.SetEnabled(true) }
func (f *fakeRunner) Disable()                       { f.tracker.SetEnabled(false) }
func (f *fakeRunner) SetTargetTemperature(v float64) { f.tracker.SetTarget(v) }
func (f *fakeRunner) CurrentStatus() status.Snapshot { return f.tracker.Snapshot() }

func (f *fakeRunner) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return f.err
}

type loopRig struct {
	runner    *fakeRunner
	pub       *telemetry.FakePublisher
	link      *plc.FakeLink
	deps      loopDeps
	telemetry chan time.Time
	heartbeat chan time.Time
	events    chan logic.Event
	stalls    chan time.Duration
	sig       chan os.Signal
	errCh     chan error
}

func newLoopRig(t *testing.T) *loopRig {
	t.Helper()
	tracker := status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 46, status.Config{Mode: "single"})
	r := &loopRig{
		runner:    &fakeRunner{tracker: tracker},
		pub:       telemetry.NewFakePublisher(),
		link:      plc.NewFakeLink(),
		telemetry: make(chan time.Time),
		heartbeat: make(chan time.Time),
		events:    make(chan logic.Event),
		stalls:    make(chan time.Duration),
		sig:       make(chan os.Signal),
		errCh:     make(chan error, 1),
	}
	r.deps = loopDeps{
		ctrl:            r.runner,
		bus:             plc.NewBus(r.link),
		tracker:         tracker,
		publisher:       r.pub,
		mqttStatus:      r.pub,
		instanceID:      "test-instance",
		events:          r.events,
		stalls:          r.stalls,
		now:             func() time.Time { return time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC) },
		shutdownTimeout: time.Second,
	}
	return r
}

func (r *loopRig) start() {
	go func() {
		r.errCh <- runLoop(r.deps, r.telemetry, r.heartbeat, r.sig)
	}()
}

// stop sends s and waits for runLoop to return.
func (r *loopRig) stop(t *testing.T, s os.Signal) error {
	t.Helper()
	r.sig <- s
	select {
	case err := <-r.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
		return nil
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	r := newLoopRig(t)
	r.start()
	if err := r.stop(t, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if r.runner.shutdowns != 1 {
		t.Errorf("shutdowns: got %d, want 1", r.runner.shutdowns)
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
	}
	se := r.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGTERM" || !se.Retained {
		t.Errorf("got %+v", se)
	}
	if !bytes.Contains(se.RawPayload, []byte(`"event":"SHUTDOWN"`)) ||
		!bytes.Contains(se.RawPayload, []byte(`"instance_id":"test-instance"`)) {
		t.Errorf("payload: %s", se.RawPayload)
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	r := newLoopRig(t)
	r.start()
	r.stop(t, syscall.SIGINT)

	if got := r.pub.SystemEvents[0].Reason; got != "SIGINT" {
		t.Errorf("reason: got %q, want SIGINT", got)
	}
}

func TestRunLoopShutdownErrorStillPublishes(t *testing.T) {
	r := newLoopRig(t)
	r.runner.err = errors.New("force heater off: boom")
	r.start()

	err := r.stop(t, syscall.SIGTERM)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("got %v, want shutdown error", err)
	}
	if names := r.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("system events: got %v", names)
	}
}

func TestRunLoopPublishesStatusOnTick(t *testing.T) {
	r := newLoopRig(t)
	r.pub.Connected = true
	// A successful operation marks the bus connected.
	if _, err := r.deps.bus.ReadBlock(1, 0, 2); err != nil {
		t.Fatal(err)
	}
	r.start()

	r.telemetry <- time.Time{}
	r.telemetry <- time.Time{}
	r.stop(t, syscall.SIGTERM)

	if got := r.pub.StatusCount(); got != 2 {
		t.Fatalf("status payloads: got %d, want 2", got)
	}
	payload := r.pub.Statuses[0]
	if bytes.Contains(payload, []byte(`"event"`)) {
		t.Errorf("periodic status should carry no event: %s", payload)
	}
	snap := r.deps.tracker.Snapshot()
	if !snap.PLCConnected || !snap.MQTTConnected {
		t.Errorf("connectivity not refreshed: plc=%v mqtt=%v", snap.PLCConnected, snap.MQTTConnected)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	r := newLoopRig(t)
	r.start()
	r.heartbeat <- time.Time{}
	r.stop(t, syscall.SIGTERM)

	names := r.pub.SystemEventNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Errorf("system events: got %v, want [HEARTBEAT SHUTDOWN]", names)
	}
	if r.pub.SystemEvents[0].Retained {
		t.Error("heartbeat should not be retained")
	}
}

func TestRunLoopForwardsInterlockEvents(t *testing.T) {
	r := newLoopRig(t)
	r.start()
	ev := logic.Event{Timestamp: time.Now(), Type: logic.EventWaterLost, WaterPresent: false}
	r.events <- ev
	r.stop(t, syscall.SIGTERM)

	got := r.pub.EventsSnapshot()
	if len(got) != 1 || got[0].Type != logic.EventWaterLost {
		t.Errorf("events: got %+v", got)
	}
}

func TestRunLoopWatchdogStall(t *testing.T) {
	r := newLoopRig(t)
	r.start()
	r.stalls <- 31 * time.Second
	r.stop(t, syscall.SIGTERM)

	se := r.pub.SystemEvents[0]
	if se.Event != "WATCHDOG_STALL" {
		t.Fatalf("got %q, want WATCHDOG_STALL", se.Event)
	}
	if !strings.Contains(se.Reason, "31s") {
		t.Errorf("reason: got %q", se.Reason)
	}
}

func TestRunLoopPublishErrorDoesNotStop(t *testing.T) {
	r := newLoopRig(t)
	r.pub.PublishError = errors.New("broker down")
	r.start()

	r.telemetry <- time.Time{}
	r.events <- logic.Event{Type: logic.EventWaterRestored, WaterPresent: true}
	r.heartbeat <- time.Time{}
	if err := r.stop(t, syscall.SIGTERM); err != nil {
		t.Errorf("runLoop returned error: %v", err)
	}
	if r.runner.shutdowns != 1 {
		t.Errorf("shutdowns: got %d, want 1", r.runner.shutdowns)
	}
}

func TestEventQueueNeverBlocks(t *testing.T) {
	q := make(eventQueue, 1)
	q.InterlockEvent(logic.Event{Type: logic.EventWaterLost})
	done := make(chan struct{})
	go func() {
		q.InterlockEvent(logic.Event{Type: logic.EventWaterRestored})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("InterlockEvent blocked on a full queue")
	}
	if ev := <-q; ev.Type != logic.EventWaterLost {
		t.Errorf("kept %s, want the first event", ev.Type)
	}

	var _ heater.EventSink = q
}

func TestParseFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, opts, err := parseFlags(fs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.printState || opts.configPath != "" {
		t.Errorf("opts: got %+v", opts)
	}
	def := config.Default()
	if cfg.HTTP.Addr != def.HTTP.Addr || cfg.MQTT.Broker != def.MQTT.Broker || cfg.Control.Mode != def.Control.Mode {
		t.Errorf("flags not set should keep defaults: %+v", cfg)
	}
}

func TestParseFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	err := os.WriteFile(path, []byte("control:\n  mode: dual\nhttp:\n  addr: \":9000\"\nheater:\n  output: gpio\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, opts, err := parseFlags(fs, []string{"-config", path, "-mode", "single", "-broker", "off", "-sim", "-print-state"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opts.printState {
		t.Error("print-state not parsed")
	}
	if cfg.Control.Mode != config.ModeSingle {
		t.Errorf("mode: flag should win, got %q", cfg.Control.Mode)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("http: file value should survive, got %q", cfg.HTTP.Addr)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("broker: got %q, want disabled", cfg.MQTT.Broker)
	}
	if !cfg.Sim.Enabled || cfg.Heater.Output != config.BackendPLC {
		t.Errorf("sim should force PLC backends: sim=%v output=%q", cfg.Sim.Enabled, cfg.Heater.Output)
	}
}

func TestParseFlagsInvalidMode(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, _, err := parseFlags(fs, []string{"-mode", "triple"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestPrintCurrentState(t *testing.T) {
	link := plc.NewFakeLink()
	link.SetInputBit(0, 0, true)
	link.SetWord(1, 0, 13824)
	link.SetOutputByte(0, 0b10)
	bus := plc.NewBus(link)

	cfg := config.Default()
	scaler, _ := cfg.Scaler()
	water, _, err := openWater(cfg, bus)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err = printCurrentState(&out, heater.NewSensor(bus, 1, 0, scaler), water, heaterReadback(cfg, bus))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := out.String(), "Water: PRESENT, Temperature: 30.00 °C, Heater: ON\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	link.FailReads(1)
	if err := printCurrentState(io.Discard, heater.NewSensor(bus, 1, 0, scaler), water, nil); err == nil {
		t.Error("expected error on read fault")
	}
}
