// Command heater-control regulates the tank heater through the PLC and
// serves its state over HTTP, MQTT and Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/heater-control/internal/config"
	"github.com/sweeney/heater-control/internal/gpio"
	"github.com/sweeney/heater-control/internal/heater"
	"github.com/sweeney/heater-control/internal/kafkabus"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/metrics"
	"github.com/sweeney/heater-control/internal/mqtt"
	"github.com/sweeney/heater-control/internal/plc"
	"github.com/sweeney/heater-control/internal/status"
	"github.com/sweeney/heater-control/internal/telemetry"
	"github.com/sweeney/heater-control/internal/web"
)

// shutdownTimeout bounds joining the control loop on exit.
const shutdownTimeout = 5 * time.Second

type options struct {
	configPath string
	printState bool
}

func main() {
	cfg, opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg, opts.printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// parseFlags parses args, loads the configuration file and applies the
// flags that were set on top of it.
func parseFlags(fs *flag.FlagSet, args []string) (config.Config, options, error) {
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file (built-in defaults when empty)")
	fs.BoolVar(&opts.printState, "print-state", false, "Print current state and exit")
	fs.String("http", "", `HTTP API address, overrides http.addr ("off" disables)`)
	fs.String("broker", "", `MQTT broker address, overrides mqtt.broker ("off" disables)`)
	fs.String("mode", "", "Control loop mode (single|dual), overrides control.mode")
	fs.Bool("sim", false, "Run against a simulated PLC")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, opts, err
		}
	}
	applyOverrides(&cfg, fs)
	if cfg.Sim.Enabled {
		// The simulator couples the heater bit and the water bit to its
		// tank model, so both must live in the PLC image.
		cfg.Interlock.Source = config.BackendPLC
		cfg.Heater.Output = config.BackendPLC
	}
	return cfg, opts, cfg.Validate()
}

// applyOverrides copies explicitly set flags into cfg.
func applyOverrides(cfg *config.Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "http":
			cfg.HTTP.Addr = offOr(v)
		case "broker":
			cfg.MQTT.Broker = offOr(v)
		case "mode":
			cfg.Control.Mode = v
		case "sim":
			cfg.Sim.Enabled = v == "true"
		}
	})
}

func offOr(v string) string {
	if v == "off" {
		return ""
	}
	return v
}

func run(cfg config.Config, printState bool) error {
	link, err := openLink(cfg)
	if err != nil {
		return err
	}
	defer link.Close()
	bus := plc.NewBus(link)

	water, closeWater, err := openWater(cfg, bus)
	if err != nil {
		return err
	}
	defer closeWater()

	act, closeAct, err := openActuator(cfg, bus)
	if err != nil {
		return err
	}
	defer closeAct()

	scaler, err := cfg.Scaler()
	if err != nil {
		return err
	}
	sensor := heater.NewSensor(bus, cfg.Sensor.DB, cfg.Sensor.Offset, scaler)

	if printState {
		return printCurrentState(os.Stdout, sensor, water, heaterReadback(cfg, bus))
	}

	instanceID := uuid.NewString()
	m := metrics.New(prometheus.DefaultRegisterer)

	plcAddr := cfg.PLC.Address
	if cfg.Sim.Enabled {
		plcAddr = "simulator"
	}
	tracker := status.NewTracker(time.Now(), cfg.Heater.Target, status.Config{
		Mode:       cfg.Control.Mode,
		PLCAddress: plcAddr,
		PeriodMs:   cfg.Control.Period.Milliseconds(),
		PollMs:     cfg.Control.PollInterval.Milliseconds(),
		Broker:     cfg.MQTT.Broker,
		HTTPAddr:   cfg.HTTP.Addr,
		Simulated:  cfg.Sim.Enabled,
	})

	// Initialize telemetry transports
	var publishers telemetry.Multi
	var mqttStatus telemetry.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publishers = append(publishers, p)
		mqttStatus = p
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publishers = append(publishers, kafkabus.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, instanceID))
	}
	defer publishers.Close()

	events := make(eventQueue, 64)
	stalls := make(stallQueue, 4)
	wd := heater.NewWatchdog(cfg.Control.Watchdog, tracker, m, stalls.notify)

	plant := &heater.Plant{
		Sensor:    sensor,
		Interlock: heater.NewInterlock(water, cfg.Interlock.RestoreDelay),
		Actuator:  act,
		Regulator: heater.NewRegulator(cfg.PIDParams()),
		Tracker:   tracker,
		Metrics:   m,
		Events:    events,
		Watchdog:  wd,
	}
	// The output state is unknown until written; start from a known OFF.
	if err := plant.Off(); err != nil {
		log.Printf("heater: initial off write failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wd.Run(ctx)

	var ctrl heater.Runner
	hc := cfg.HeaterConfig()
	switch cfg.Control.Mode {
	case config.ModeDual:
		c := heater.NewCoordinator(plant, bus, hc)
		if err := c.Start(ctx); err != nil {
			return err
		}
		ctrl = c
	default:
		ctrl = heater.NewSupervisor(plant, hc)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startup := telemetry.SystemEvent{
		Timestamp:  snap.Now,
		Event:      telemetry.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, telemetry.EventStartup, "", instanceID),
	}
	if err := publishers.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, ctrl, bus, m)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: mode=%s plc=%s period=%v poll=%v target=%.1f instance=%s",
		cfg.Control.Mode, plcAddr, cfg.Control.Period, cfg.Control.PollInterval, cfg.Heater.Target, instanceID)

	telemetryTicker := time.NewTicker(cfg.Control.Telemetry)
	defer telemetryTicker.Stop()
	var heartbeat <-chan time.Time
	if cfg.Control.Heartbeat > 0 {
		t := time.NewTicker(cfg.Control.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		ctrl:            ctrl,
		bus:             bus,
		tracker:         tracker,
		publisher:       publishers,
		mqttStatus:      mqttStatus,
		instanceID:      instanceID,
		events:          events,
		stalls:          stalls,
		now:             time.Now,
		shutdownTimeout: shutdownTimeout,
	}, telemetryTicker.C, heartbeat, sigCh)
}

type closableLink interface {
	plc.Link
	Close() error
}

func openLink(cfg config.Config) (closableLink, error) {
	if cfg.Sim.Enabled {
		log.Printf("plc: using simulated tank (ambient=%.1f initial=%.1f)", cfg.Sim.Ambient, cfg.Sim.Initial)
		return plc.NewSimLink(cfg.SimConfig()), nil
	}
	link := plc.NewS7Link(cfg.PLC)
	if err := link.Connect(); err != nil {
		// The link redials on the next operation; the loop fails safe meanwhile.
		log.Printf("plc: connect %s rack=%d slot=%d: %v", cfg.PLC.Address, cfg.PLC.Rack, cfg.PLC.Slot, err)
	} else {
		log.Printf("plc: connected to %s rack=%d slot=%d", cfg.PLC.Address, cfg.PLC.Rack, cfg.PLC.Slot)
	}
	return link, nil
}

func openWater(cfg config.Config, bus *plc.Bus) (heater.WaterSource, func(), error) {
	if cfg.Interlock.Source == config.BackendGPIO {
		in, err := gpio.NewRealInput(cfg.GPIO.Chip, cfg.GPIO.WaterPin, cfg.GPIO.WaterActiveLow)
		if err != nil {
			return nil, nil, fmt.Errorf("init water input: %w", err)
		}
		return heater.GPIOWater{In: in}, func() { in.Close() }, nil
	}
	area, err := cfg.InterlockArea()
	if err != nil {
		return nil, nil, err
	}
	return heater.BusWater{
		Bus:   bus,
		Area:  area,
		Block: cfg.Interlock.DB,
		Byte:  cfg.Interlock.Byte,
		Bit:   cfg.Interlock.Bit,
	}, func() {}, nil
}

func openActuator(cfg config.Config, bus *plc.Bus) (heater.Actuator, func(), error) {
	if cfg.Heater.Output == config.BackendGPIO {
		out, err := gpio.NewRealOutput(cfg.GPIO.Chip, cfg.GPIO.HeaterPin)
		if err != nil {
			return nil, nil, fmt.Errorf("init heater output: %w", err)
		}
		return heater.GPIOActuator{Out: out}, func() { out.Close() }, nil
	}
	area, err := cfg.HeaterArea()
	if err != nil {
		return nil, nil, err
	}
	return heater.BusActuator{Bus: bus, Area: area, Byte: cfg.Heater.Byte, Bit: cfg.Heater.Bit}, func() {}, nil
}

// heaterReadback reads the heater output bit back from the PLC. GPIO
// outputs cannot be read back.
func heaterReadback(cfg config.Config, bus *plc.Bus) func() (bool, error) {
	if cfg.Heater.Output != config.BackendPLC {
		return nil
	}
	area, _ := cfg.HeaterArea()
	return func() (bool, error) {
		return bus.ReadBit(area, 0, cfg.Heater.Byte, cfg.Heater.Bit)
	}
}

// printCurrentState prints the raw water signal, the tank temperature and,
// if readable, the heater output.
func printCurrentState(w io.Writer, sensor *heater.Sensor, water heater.WaterSource, heaterOn func() (bool, error)) error {
	present, err := water.Water()
	if err != nil {
		return fmt.Errorf("read water: %w", err)
	}
	temp, err := sensor.Read()
	if err != nil {
		return fmt.Errorf("read temperature: %w", err)
	}
	heaterState := "UNKNOWN"
	if heaterOn != nil {
		on, err := heaterOn()
		if err != nil {
			return fmt.Errorf("read heater: %w", err)
		}
		heaterState = string(logic.StateOf(on))
	}
	waterState := "ABSENT"
	if present {
		waterState = "PRESENT"
	}
	fmt.Fprintf(w, "Water: %s, Temperature: %.2f °C, Heater: %s\n", waterState, temp, heaterState)
	return nil
}
