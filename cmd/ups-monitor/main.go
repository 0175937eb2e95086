/*
ups-monitor - Monitors X120x series UPS HATs
Copyright (C) 2025, the ups-monitor authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/x120x/ups-monitor/internal/battery"
	"github.com/x120x/ups-monitor/internal/config"
	"github.com/x120x/ups-monitor/internal/gpio"
	"github.com/x120x/ups-monitor/internal/monitor"
	"github.com/x120x/ups-monitor/max17040"
)

var version = "<not set>"

var log = logrus.New()

type Args struct {
	ConfigFile         string `arg:"-c,--config" help:"configuration file"`
	SingleCheck        bool   `arg:"--single-check" help:"run one check cycle and exit"`
	SkipSystemShutdown bool   `arg:"--skip-system-shutdown" help:"don't shut down the operating system on a critical decision"`
	LogLevel           string `arg:"-l,--log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	args := Args{
		ConfigFile: config.DefaultFile,
	}
	arg.MustParse(&args)
	return args
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func runMain() error {
	log.SetFormatter(new(customFormatter))
	args := procArgs()
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	conf, err := config.Load(args.ConfigFile)
	if err != nil {
		return err
	}
	if args.SingleCheck {
		conf.Loop = false
	}

	// Only one instance may poll the hardware.
	lock := flock.New(conf.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", conf.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another instance is already running (lock %s held)", conf.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Errorf("Error releasing lock: %v", err)
		}
	}()

	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open(conf.I2CBus)
	if err != nil {
		return fmt.Errorf("opening i2c bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Errorf("Error closing i2c bus: %v", err)
		}
	}()

	log.Info("Connecting to MAX17040 fuel gauge")
	gauge, err := max17040.New(bus)
	if err != nil {
		return err
	}
	if err := gauge.QuickStart(); err != nil {
		log.Warnf("Error performing fuel gauge quick-start: %v", err)
	} else {
		log.Info("Fuel gauge quick-start initiated")
	}

	pins, err := gpio.Open(gpio.Config{
		Chip:            conf.GPIOChip,
		PLDPin:          conf.PLDPin,
		ChargePin:       conf.ChargePin,
		ChargeActiveLow: conf.ChargeActiveLow,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := pins.Close(); err != nil {
			log.Errorf("Error releasing GPIO lines: %v", err)
		}
	}()
	log.Infof("Charging control initialized on GPIO %d", conf.ChargePin)

	mon := monitor.New(monitor.Config{
		PollInterval: time.Duration(conf.PollIntervalSeconds) * time.Second,
		Threshold:    conf.ShutdownThreshold,
		Loop:         conf.Loop,
		Charge: battery.ChargeConfig{
			MaxVoltage:    conf.MaxChargeVoltage,
			ResumeVoltage: conf.ResumeChargeVoltage,
			Hysteresis:    conf.ChargeHysteresis,
		},
		Shutdown: battery.ShutdownConfig{
			Policy:           battery.Policy(conf.ShutdownPolicy),
			Threshold:        conf.ShutdownThreshold,
			CriticalVoltage:  conf.CriticalVoltage,
			CriticalCapacity: conf.CriticalCapacity,
		},
	}, gauge, pins, newShutdowner(args.SkipSystemShutdown), newSystemStats(), log)

	if err := startService(mon); err != nil {
		log.Warnf("Could not start D-Bus service, continuing without: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("UPS monitoring started")
	log.Infof("Shutdown policy: %s, threshold: %d, critical voltage: %.2fV",
		conf.ShutdownPolicy, conf.ShutdownThreshold, conf.CriticalVoltage)
	log.Infof("Charging control: max voltage %.2fV, resume voltage %.2fV",
		conf.MaxChargeVoltage, conf.ResumeChargeVoltage)

	err = mon.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("Interrupted, releasing hardware")
		err = nil
	}
	log.Info("UPS monitoring stopped")
	return err
}

// osShutdowner powers the system off for real.
type osShutdowner struct{}

func (osShutdowner) Shutdown() error {
	output, err := exec.Command("/sbin/shutdown", "-h", "now").CombinedOutput()
	if err != nil {
		return fmt.Errorf("shutdown failed: %v\n%s", err, output)
	}
	return nil
}

// logShutdowner is substituted with --skip-system-shutdown so the decision
// path can be exercised on a bench setup.
type logShutdowner struct{}

func (logShutdowner) Shutdown() error {
	log.Info("Skipping system shutdown (--skip-system-shutdown)")
	return nil
}

func newShutdowner(skip bool) monitor.Shutdowner {
	if skip {
		return logShutdowner{}
	}
	return osShutdowner{}
}
