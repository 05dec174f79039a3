// Command devsupd is the device supervisor daemon: it arbitrates the
// board's GPIO pool, owns the bus controllers and device drivers declared in
// the configuration file, serves them over the RPC surface, and keeps a
// reverse tunnel to the development host alive.
package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"periph.io/x/host/v3"

	"devsup-go/adb"
	"devsup-go/bus"
	"devsup-go/config"
	"devsup-go/device"
	"devsup-go/devices"
	"devsup-go/events"
	"devsup-go/gpio"
	"devsup-go/rpc"
)

type options struct {
	Config   string `short:"c" long:"config" default:"/etc/devsupd/config.json" description:"Path to the configuration file"`
	LockFile string `long:"lock-file" default:"/run/devsupd.lock" description:"Path to the single-instance lock file"`
	Debug    bool   `short:"d" long:"debug" description:"Enable debug logging"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return 2
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	lock := flock.New(opts.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		logrus.Errorf("Failed to take instance lock: %v", err)
		return 1
	}
	if !locked {
		logrus.Error("Another supervisor instance is already running")
		return 1
	}
	defer func() { _ = lock.Unlock() }()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		logrus.Errorf("Failed to load configuration: %v", err)
		return 1
	}

	if _, err := host.Init(); err != nil {
		logrus.Warnf("Platform host init failed, hardware buses will be unavailable: %v", err)
	}

	logrus.Info("Building pin arbiter")
	pins := make(map[uint8]gpio.PinState, len(cfg.GPIO.PinConfig))
	for id, bcm := range cfg.GPIO.PinConfig {
		pins[id] = gpio.NewPinState(id, bcm)
	}
	arbiter := gpio.NewArbiter(pins)

	telemetry := events.NewBus(16)
	go followDeviceState(telemetry)

	logrus.Info("Building device server")
	server := device.NewServer()
	server.SetEventBus(telemetry)

	// Controller or device entries that were empty get a default template
	// written back; the rewritten file is saved and startup refuses to
	// continue so the administrator can fill the template in.
	templateWritten := false

	for i := range cfg.Controllers.Controllers {
		entry := &cfg.Controllers.Controllers[i]
		controller, err := bus.FromConfigEntry(arbiter, entry)
		if errors.Is(err, bus.ErrUnknownController) {
			logrus.Warnf("Unknown bus controller %q, skipping entry", entry.Name)
			continue
		}
		if err != nil {
			logrus.Errorf("Failed to build bus controller %q: %v", entry.Name, err)
			templateWritten = true
			continue
		}
		if err := server.RegisterBus(controller); err != nil {
			logrus.Errorf("Failed to register bus controller %q: %v", entry.Name, err)
			continue
		}
		logrus.Infof("Registered bus controller %q", controller.Name())
	}

	for i := range cfg.Devices.Devices {
		entry := &cfg.Devices.Devices[i]
		driver, err := devices.New(entry)
		if errors.Is(err, devices.ErrUnknownDriver) {
			logrus.Warnf("Unknown device driver %q, skipping entry", entry.Driver)
			continue
		}
		if err != nil {
			logrus.Errorf("Failed to build device %q: %v", entry.Driver, err)
			templateWritten = true
			continue
		}
		rec := device.NewRecord(driver, entry.FriendlyName)
		if _, err := server.RegisterDevice(rec, true); err != nil {
			logrus.Errorf("Failed to register device %q: %v", rec.Name(), err)
			continue
		}
		logrus.Infof("Registered device %q at %s", rec.Name(), rec.Address())
	}

	if templateWritten {
		if err := config.Save(opts.Config, cfg); err != nil {
			logrus.Errorf("Failed to write configuration templates back: %v", err)
		}
		logrus.Error("Configuration entries were missing data; defaults were written back, edit them and restart")
		return 1
	}

	logrus.Info("Starting tunnel worker")
	adbClient := adb.NewClient(cfg.ADB.Addr(),
		time.Duration(cfg.ADB.ReadTimeoutMs)*time.Millisecond,
		time.Duration(cfg.ADB.WriteTimeoutMs)*time.Millisecond)
	tunnel := adb.NewServer(adbClient, telemetry)
	if err := tunnel.AddPort(adb.PortReverse, cfg.RPC.ServerPort, cfg.RPC.ServerPort); err != nil {
		logrus.Warnf("Failed to track RPC reverse port: %v", err)
	}

	handler := rpc.New(server, tunnel, telemetry)
	httpServer := &http.Server{
		Addr:    cfg.RPC.Addr(),
		Handler: handler.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("Server running on %s", cfg.RPC.Addr())
		serveErr <- httpServer.ListenAndServe()
	}()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logrus.Infof("Received %s, shutting down", sig)
	case err := <-serveErr:
		logrus.Errorf("RPC server failed: %v", err)
		tunnel.Shutdown()
		return 1
	}

	// A second signal during graceful shutdown aborts immediately.
	go func() {
		sig := <-signals
		logrus.Errorf("Received %s during shutdown, aborting", sig)
		os.Exit(1)
	}()

	_ = httpServer.Close()

	// Unload every device under the same exclusion RPC mutations use.
	handler.Lock().Lock()
	server.Shutdown()
	handler.Lock().Unlock()

	tunnel.Shutdown()

	if err := config.Save(opts.Config, cfg); err != nil {
		logrus.Errorf("Failed to rewrite configuration: %v", err)
	}

	logrus.Info("Goodbye")
	return 0
}

// followDeviceState mirrors lifecycle telemetry into the structured log.
func followDeviceState(bus *events.Bus) {
	sub := bus.Subscribe(events.T("device", events.WildcardOne, "state"))
	for msg := range sub.Channel() {
		fields := logrus.Fields{"device": msg.Topic[1]}
		if msg.Payload == nil {
			logrus.WithFields(fields).Debug("Device removed")
			continue
		}
		logrus.WithFields(fields).Debugf("Device state: %v", msg.Payload)
	}
}
