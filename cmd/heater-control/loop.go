package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/heater-control/internal/heater"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
	"github.com/sweeney/heater-control/internal/status"
	"github.com/sweeney/heater-control/internal/telemetry"
)

// eventQueue hands interlock events from the control goroutine to runLoop
// without blocking the control goroutine.
type eventQueue chan logic.Event

func (q eventQueue) InterlockEvent(ev logic.Event) {
	select {
	case q <- ev:
	default:
		log.Printf("telemetry: event queue full, dropping %s", ev.Type)
	}
}

// stallQueue does the same for watchdog stalls.
type stallQueue chan time.Duration

func (q stallQueue) notify(silence time.Duration) {
	select {
	case q <- silence:
	default:
	}
}

type loopDeps struct {
	ctrl       heater.Runner
	bus        *plc.Bus // may be nil
	tracker    *status.Tracker
	publisher  telemetry.Publisher
	mqttStatus telemetry.ConnectionStatus // may be nil
	instanceID string

	events <-chan logic.Event
	stalls <-chan time.Duration

	now             func() time.Time
	shutdownTimeout time.Duration
}

// runLoop publishes telemetry until a signal arrives, then shuts the
// controller down and publishes SHUTDOWN. The control loop itself runs in
// the controller; nothing here touches the heater.
func runLoop(d loopDeps, telemetryTick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			ctx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
			shutdownErr := d.ctrl.Shutdown(ctx)
			cancel()
			if shutdownErr != nil {
				log.Printf("shutdown: %v", shutdownErr)
			}

			snap := d.refresh()
			event := telemetry.SystemEvent{
				Timestamp:  d.now(),
				Event:      telemetry.EventShutdown,
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, telemetry.EventShutdown, signalName, d.instanceID),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			if shutdownErr != nil {
				return fmt.Errorf("shutdown: %w", shutdownErr)
			}
			return nil

		case <-telemetryTick:
			snap := d.refresh()
			if err := d.publisher.PublishStatus(status.FormatStatusEvent(snap, "", "", d.instanceID)); err != nil {
				log.Printf("status publish error: %v", err)
			}

		case <-heartbeat:
			snap := d.refresh()
			log.Printf("heartbeat: uptime=%v enabled=%v temp=%.2f power=%.1f cycles=%d faults=%d trips=%d",
				snap.Uptime().Truncate(time.Second), snap.Enabled, snap.Temperature, snap.Power,
				snap.Cycles, snap.Faults.Total(), snap.Interlock.Trips)
			hb := telemetry.SystemEvent{
				Timestamp:  d.now(),
				Event:      telemetry.EventHeartbeat,
				RawPayload: status.FormatStatusEvent(snap, telemetry.EventHeartbeat, "", d.instanceID),
			}
			if err := d.publisher.PublishSystem(hb); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}

		case ev := <-d.events:
			log.Printf("event: %s (water_present=%v)", ev.Type, ev.WaterPresent)
			if err := d.publisher.PublishEvent(ev); err != nil {
				log.Printf("publish error: %v", err)
			}

		case silence := <-d.stalls:
			snap := d.refresh()
			reason := fmt.Sprintf("no progress for %v", silence.Truncate(time.Millisecond))
			stall := telemetry.SystemEvent{
				Timestamp:  d.now(),
				Event:      telemetry.EventWatchdogStall,
				Reason:     reason,
				RawPayload: status.FormatStatusEvent(snap, telemetry.EventWatchdogStall, reason, d.instanceID),
			}
			if err := d.publisher.PublishSystem(stall); err != nil {
				log.Printf("watchdog publish error: %v", err)
			}
		}
	}
}

// refresh updates connectivity in the tracker and returns a snapshot.
func (d loopDeps) refresh() status.Snapshot {
	if d.bus != nil {
		connected, _, _ := d.bus.Health()
		d.tracker.SetPLCConnected(connected)
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	return d.tracker.Snapshot()
}
