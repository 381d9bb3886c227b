package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/Janta-Power/Janta-Power/internal/clock"
	"github.com/Janta-Power/Janta-Power/internal/config"
	"github.com/Janta-Power/Janta-Power/internal/debug"
	"github.com/Janta-Power/Janta-Power/internal/hw/encoder"
	"github.com/Janta-Power/Janta-Power/internal/hw/gpio"
	"github.com/Janta-Power/Janta-Power/internal/hw/limitswitch"
	"github.com/Janta-Power/Janta-Power/internal/hw/relay"
	"github.com/Janta-Power/Janta-Power/internal/hw/rtc"
	"github.com/Janta-Power/Janta-Power/internal/hw/stepper"
	"github.com/Janta-Power/Janta-Power/internal/logic/tracking"
	"github.com/Janta-Power/Janta-Power/internal/observability"
	"github.com/Janta-Power/Janta-Power/internal/ota"
	"github.com/Janta-Power/Janta-Power/internal/solar"
	"github.com/Janta-Power/Janta-Power/internal/store"
	"github.com/Janta-Power/Janta-Power/internal/telemetry"
	"github.com/Janta-Power/Janta-Power/internal/web"
)

const version = "2.4.1"

// stepPulseWidth is the STEP high time. The DM860 driver wants 2.5µs
// minimum; 5µs keeps margin on a loaded Pi.
const stepPulseWidth = 5 * time.Microsecond

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Version", version)
	debug.Value("Config path", *cfgPath)
	debug.Value("Tower ID", cfg.Device.TowerID)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Position store
	debug.Step(1, "Opening position store")
	debug.Value("Store path", cfg.Store.Path)
	kv, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store failed: %v", err)
	}
	snapshot := store.NewSnapshot(kv, nil)

	// GPIO driver and drive train
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(2, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(3, "Initializing drive train")
	output, err := stepper.NewStepAndDir(gpioDriver, cfg.Pins.Step, cfg.Pins.Dir, stepPulseWidth)
	if err != nil {
		log.Fatalf("init step output failed: %v", err)
	}
	driver := stepper.New(stepper.Config{
		MaxSpeed:     cfg.Motion.MaxSpeedSPS,
		Acceleration: cfg.Motion.AccelerationSPS2,
	})
	debug.PrintStruct("Motion config", cfg.Motion)

	enc, err := encoder.New(gpioDriver, cfg.Pins.EncoderA, cfg.Pins.EncoderB)
	if err != nil {
		log.Fatalf("init encoder failed: %v", err)
	}
	gate, err := limitswitch.New(gpioDriver, cfg.Pins.LimitSwitch, limitswitch.DefaultDebounce)
	if err != nil {
		log.Fatalf("init limit switch failed: %v", err)
	}
	power, err := relay.New(gpioDriver, cfg.Pins.Relay, cfg.RelaySettle())
	if err != nil {
		log.Fatalf("init relay failed: %v", err)
	}
	// Motor power must not outlive the process.
	defer func() {
		if err := power.Off(); err != nil {
			log.Printf("forcing relay off failed: %v", err)
		}
	}()

	// Time source: DS3231 over I²C, or the host clock on bench rigs
	debug.Step(4, "Initializing clock")
	debug.Value("Mock clock", cfg.Defaults.MockClock)
	src, err := newTimeSource(cfg.Defaults.MockClock)
	if err != nil {
		log.Fatalf("init clock failed: %v", err)
	}
	sched := clock.New(src, cfg.Location.Latitude, cfg.Location.Longitude, cfg.Location.TimezoneOffsetHours)

	// Telemetry
	debug.Step(5, "Connecting telemetry")
	topics := telemetry.TopicsFor(cfg.Device.TowerID)
	var pub telemetry.Publisher = telemetry.LogPublisher{}
	if cfg.MQTT.Broker != "" {
		m, err := telemetry.Dial(cfg.MQTT.Broker, cfg.Device.TowerID, cfg.MQTT.Username, cfg.MQTT.Password)
		if err != nil {
			// The tower must keep tracking without a broker; movement
			// reports go to the log until the next restart.
			log.Printf("telemetry dial failed, falling back to log: %v", err)
		} else {
			defer m.Close()
			pub = m
		}
	}

	// Firmware boot validation and update checks
	debug.Step(6, "Validating firmware boot")
	if err := ota.ValidateBoot(kv, pub, topics, version); err != nil {
		log.Printf("boot validation failed: %v", err)
	}

	metrics := observability.NewMetrics()

	// Tracking controller
	debug.Step(7, "Creating tracking controller")
	deps := tracking.Deps{
		Driver:  driver,
		Output:  output,
		Encoder: enc,
		Home:    gate,
		Power:   power,
		Clock:   sched,
		Sun:     solar.Provider{Latitude: cfg.Location.Latitude, Longitude: cfg.Location.Longitude},
		Store:   snapshot,
		Pub:     pub,
		Topics:  topics,
		Metrics: metrics,
	}
	if cfg.Firmware.MetadataURL != "" {
		deps.Updater = ota.New(cfg.Firmware.MetadataURL, cfg.Firmware.StagePath, version, kv, pub, topics)
	}
	ctrl := tracking.New(deps, tracking.Params{
		ClosedLoop:   cfg.ClosedLoop(),
		HomeTicks:    cfg.Motion.HomeTicks,
		MinTravelDeg: cfg.Motion.MinTravelDeg,
		MaxTravelDeg: cfg.Motion.MaxTravelDeg,
		TickInterval: cfg.TickInterval(),
	})

	// Diagnostics web server, optional
	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		srv := web.NewServer(webAddr, broadcaster, ctrl, metrics)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Printf("web server: %v", err)
			}
		}()
	}

	// Main tracking loop. Each tick runs to completion; shutdown waits
	// for the current segment so the relay and store end consistent.
	debug.Section("Tracking")
	for {
		ctrl.Tick(ctx)
		select {
		case <-ctx.Done():
			debug.Info("Shutting down")
			return
		case <-time.After(ctrl.Interval()):
		}
	}
}

// newTimeSource opens the DS3231 unless the config asks for the host
// clock instead.
func newTimeSource(mock bool) (clock.TimeSource, error) {
	if mock {
		return clock.SystemTime{}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	dev, err := rtc.New(bus)
	if err != nil {
		return nil, fmt.Errorf("open DS3231: %w", err)
	}
	return dev, nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
