// Package config loads the daemon configuration from a YAML file.
//
// Every field has a documented default, so an empty or missing section keeps
// the commissioned values. Unknown keys are rejected.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sweeney/heater-control/internal/gpio"
	"github.com/sweeney/heater-control/internal/heater"
	"github.com/sweeney/heater-control/internal/logic"
	"github.com/sweeney/heater-control/internal/plc"
)

// Loop modes.
const (
	ModeSingle = "single"
	ModeDual   = "dual"
)

// Signal backends for the interlock input and the heater output.
const (
	BackendPLC  = "plc"
	BackendGPIO = "gpio"
)

type Config struct {
	PLC       plc.Config `yaml:"plc"`
	Sensor    Sensor     `yaml:"sensor"`
	Interlock Interlock  `yaml:"interlock"`
	Heater    Heater     `yaml:"heater"`
	PID       PID        `yaml:"pid"`
	Control   Control    `yaml:"control"`
	MQTT      MQTT       `yaml:"mqtt"`
	Kafka     Kafka      `yaml:"kafka"`
	HTTP      HTTP       `yaml:"http"`
	GPIO      GPIO       `yaml:"gpio"`
	Sim       Sim        `yaml:"sim"`
}

// Sensor locates the raw temperature word and calibrates it.
type Sensor struct {
	DB         int     `yaml:"db"`
	Offset     int     `yaml:"offset"`
	RawMin     int     `yaml:"raw_min"`
	RawMax     int     `yaml:"raw_max"`
	TempMin    float64 `yaml:"temp_min"`
	TempMax    float64 `yaml:"temp_max"`
	OutOfRange string  `yaml:"out_of_range"`
}

// Interlock locates the water-presence signal.
type Interlock struct {
	Source       string        `yaml:"source"`
	Area         string        `yaml:"area"`
	DB           int           `yaml:"db"`
	Byte         int           `yaml:"byte"`
	Bit          int           `yaml:"bit"`
	RestoreDelay time.Duration `yaml:"restore_delay"`
}

// Heater locates the heater output and holds the initial target.
type Heater struct {
	Output string  `yaml:"output"`
	Area   string  `yaml:"area"`
	Byte   int     `yaml:"byte"`
	Bit    int     `yaml:"bit"`
	Target float64 `yaml:"target"`
}

// PID holds the regulator gains and per-term limits.
type PID struct {
	Kp     float64 `yaml:"kp"`
	PLimit float64 `yaml:"p_limit"`
	Ki     float64 `yaml:"ki"`
	ILimit float64 `yaml:"i_limit"`
	Kd     float64 `yaml:"kd"`
	DLimit float64 `yaml:"d_limit"`
}

// Control selects the loop driver and its timing.
type Control struct {
	Mode         string        `yaml:"mode"`
	Period       time.Duration `yaml:"period"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FastInterval time.Duration `yaml:"fast_interval"`
	StatusDB     int           `yaml:"status_db"`
	Watchdog     time.Duration `yaml:"watchdog"`
	// Telemetry is the status publish interval.
	Telemetry time.Duration `yaml:"telemetry"`
	// Heartbeat is the HEARTBEAT system event interval; 0 disables it.
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// MQTT configures the broker connection. An empty broker disables MQTT.
type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// Kafka configures the optional Kafka publisher. No brokers disables it.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// HTTP configures the API server. An empty address disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// GPIO configures local lines used when a backend is "gpio".
type GPIO struct {
	Chip           string `yaml:"chip"`
	WaterPin       int    `yaml:"water_pin"`
	WaterActiveLow bool   `yaml:"water_active_low"`
	HeaterPin      int    `yaml:"heater_pin"`
}

// Sim configures the simulated tank used with -sim.
type Sim struct {
	Enabled  bool    `yaml:"enabled"`
	Ambient  float64 `yaml:"ambient"`
	Initial  float64 `yaml:"initial"`
	HeatRate float64 `yaml:"heat_rate"`
	LossRate float64 `yaml:"loss_rate"`
}

// Default returns the commissioned configuration.
func Default() Config {
	sc := logic.DefaultScaler()
	pp := logic.DefaultPIDParams()
	hc := heater.DefaultConfig()
	sim := plc.DefaultSimConfig()
	return Config{
		PLC: plc.DefaultConfig(),
		Sensor: Sensor{
			DB:         1,
			Offset:     0,
			RawMin:     sc.RawMin,
			RawMax:     sc.RawMax,
			TempMin:    sc.TempMin,
			TempMax:    sc.TempMax,
			OutOfRange: string(sc.Policy),
		},
		Interlock: Interlock{
			Source:       BackendPLC,
			Area:         "I",
			Byte:         0,
			Bit:          0,
			RestoreDelay: 250 * time.Millisecond,
		},
		Heater: Heater{
			Output: BackendPLC,
			Area:   "Q",
			Byte:   0,
			Bit:    1,
			Target: pp.Setpoint,
		},
		PID: PID{
			Kp: pp.Kp, PLimit: pp.PLimit,
			Ki: pp.Ki, ILimit: pp.ILimit,
			Kd: pp.Kd, DLimit: pp.DLimit,
		},
		Control: Control{
			Mode:         ModeSingle,
			Period:       hc.Period,
			PollInterval: hc.PollInterval,
			FastInterval: hc.FastInterval,
			StatusDB:     hc.StatusDB,
			Watchdog:     heater.DefaultWatchdogTimeout,
			Telemetry:    5 * time.Second,
			Heartbeat:    15 * time.Minute,
		},
		MQTT: MQTT{
			Broker:   "tcp://192.168.1.200:1883",
			ClientID: "heater-control",
		},
		Kafka: Kafka{
			Topic: "heater.control.status",
		},
		HTTP: HTTP{Addr: ":8080"},
		GPIO: GPIO{
			Chip:      gpio.DefaultChip,
			WaterPin:  gpio.DefaultPinWater,
			HeaterPin: gpio.DefaultPinHeater,
		},
		Sim: Sim{
			Ambient:  sim.Ambient,
			Initial:  sim.Initial,
			HeatRate: sim.HeatRate,
			LossRate: sim.LossRate,
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Control.Mode {
	case ModeSingle, ModeDual:
	default:
		return fmt.Errorf("control.mode: want %q or %q, got %q", ModeSingle, ModeDual, c.Control.Mode)
	}
	if err := c.HeaterConfig().Validate(); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if c.Control.Watchdog <= 0 {
		return fmt.Errorf("control.watchdog must be positive, got %v", c.Control.Watchdog)
	}
	if c.Control.Telemetry <= 0 {
		return fmt.Errorf("control.telemetry must be positive, got %v", c.Control.Telemetry)
	}
	if c.Control.Heartbeat < 0 {
		return fmt.Errorf("control.heartbeat must not be negative, got %v", c.Control.Heartbeat)
	}
	if _, err := c.Scaler(); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	if c.Sensor.DB <= 0 {
		return fmt.Errorf("sensor.db must be positive, got %d", c.Sensor.DB)
	}
	if err := checkBackend("interlock.source", c.Interlock.Source); err != nil {
		return err
	}
	if err := checkBackend("heater.output", c.Heater.Output); err != nil {
		return err
	}
	if c.Interlock.Source == BackendPLC {
		if _, err := c.InterlockArea(); err != nil {
			return fmt.Errorf("interlock.area: %w", err)
		}
		if err := checkBit("interlock.bit", c.Interlock.Bit); err != nil {
			return err
		}
	}
	if c.Heater.Output == BackendPLC {
		area, err := c.HeaterArea()
		if err != nil {
			return fmt.Errorf("heater.area: %w", err)
		}
		if area == plc.AreaDB {
			return fmt.Errorf("heater.area: data blocks cannot drive the heater")
		}
		if err := checkBit("heater.bit", c.Heater.Bit); err != nil {
			return err
		}
	}
	if c.Interlock.RestoreDelay < 0 {
		return fmt.Errorf("interlock.restore_delay must not be negative, got %v", c.Interlock.RestoreDelay)
	}
	for name, v := range map[string]float64{
		"pid.p_limit": c.PID.PLimit,
		"pid.i_limit": c.PID.ILimit,
		"pid.d_limit": c.PID.DLimit,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, v)
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	return nil
}

// Scaler returns the sensor calibration.
func (c Config) Scaler() (logic.Scaler, error) {
	policy, err := logic.ParseOutOfRange(c.Sensor.OutOfRange)
	if err != nil {
		return logic.Scaler{}, err
	}
	s := logic.Scaler{
		RawMin:  c.Sensor.RawMin,
		RawMax:  c.Sensor.RawMax,
		TempMin: c.Sensor.TempMin,
		TempMax: c.Sensor.TempMax,
		Policy:  policy,
	}
	return s, s.Validate()
}

// PIDParams returns the regulator parameters with the heater target as
// setpoint.
func (c Config) PIDParams() logic.PIDParams {
	return logic.PIDParams{
		Kp: c.PID.Kp, PLimit: c.PID.PLimit,
		Ki: c.PID.Ki, ILimit: c.PID.ILimit,
		Kd: c.PID.Kd, DLimit: c.PID.DLimit,
		Setpoint: c.Heater.Target,
	}
}

// HeaterConfig returns the loop timing.
func (c Config) HeaterConfig() heater.Config {
	return heater.Config{
		Period:       c.Control.Period,
		PollInterval: c.Control.PollInterval,
		FastInterval: c.Control.FastInterval,
		StatusDB:     c.Control.StatusDB,
	}
}

// InterlockArea parses the interlock PLC area.
func (c Config) InterlockArea() (plc.Area, error) {
	return plc.ParseArea(c.Interlock.Area)
}

// HeaterArea parses the heater output PLC area.
func (c Config) HeaterArea() (plc.Area, error) {
	return plc.ParseArea(c.Heater.Area)
}

// SimConfig describes a simulated tank wired the way the real plant is.
func (c Config) SimConfig() plc.SimConfig {
	sc, _ := c.Scaler()
	return plc.SimConfig{
		SensorDB:     c.Sensor.DB,
		SensorOffset: c.Sensor.Offset,
		HeaterByte:   c.Heater.Byte,
		HeaterBit:    c.Heater.Bit,
		WaterByte:    c.Interlock.Byte,
		WaterBit:     c.Interlock.Bit,
		Scaler:       sc,
		Ambient:      c.Sim.Ambient,
		Initial:      c.Sim.Initial,
		HeatRate:     c.Sim.HeatRate,
		LossRate:     c.Sim.LossRate,
	}
}

func checkBackend(name, v string) error {
	switch v {
	case BackendPLC, BackendGPIO:
		return nil
	}
	return fmt.Errorf("%s: want %q or %q, got %q", name, BackendPLC, BackendGPIO, v)
}

func checkBit(name string, bit int) error {
	if bit < 0 || bit > 7 {
		return fmt.Errorf("%s must be 0..7, got %d", name, bit)
	}
	return nil
}
