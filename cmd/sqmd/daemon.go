package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"sqmcode-go/bus"
	"sqmcode-go/drivers/tsl2591"
	"sqmcode-go/services/bridge"
	"sqmcode-go/services/config"
	"sqmcode-go/services/hal"
	"sqmcode-go/services/heartbeat"
	"sqmcode-go/services/history"
	"sqmcode-go/services/metrics"
	"sqmcode-go/services/overlay"
	"sqmcode-go/services/power"
	"sqmcode-go/services/sqm"
	"sqmcode-go/types"
)

const (
	busQueueLen     = 64
	shutdownTimeout = 10 * time.Second
)

// daemon wires the services onto one bus.
type daemon struct {
	cfg    *types.Config
	bus    *bus.Bus
	cfgSvc *config.ConfigService
	buses  *hal.Buses
	store  *history.Store

	cancel context.CancelFunc
	stale  atomic.Bool
	wg     sync.WaitGroup
	ctx    context.Context
}

func newDaemon(cfg *types.Config, path string) *daemon {
	return &daemon{
		cfg:    cfg,
		bus:    bus.NewBus(busQueueLen),
		cfgSvc: config.NewConfigService(path),
		buses:  hal.NewBuses(),
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. SIGHUP reloads the
// configuration file.
func (d *daemon) signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	d.ctx, d.cancel = ctx, cancel

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				log.Info().Msg("Received SIGHUP, reloading configuration")
				d.cfgSvc.Reload()
				continue
			}
			log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
			return
		}
	}()

	return ctx
}

func (d *daemon) goRun(fn func(context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.ctx)
	}()
}

func (d *daemon) start(ctx context.Context) error {
	cfg := d.cfg

	if err := d.cfgSvc.Start(ctx, d.bus.NewConnection("config")); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Sensor and measurement cycle.
	i2c, err := d.buses.Get(cfg.Sensor.Bus)
	if err != nil {
		return fmt.Errorf("open i2c-%d: %w", cfg.Sensor.Bus, err)
	}
	rc, err := sqm.RangingConfig(cfg.Sensor)
	if err != nil {
		return err
	}
	dev := tsl2591.New(i2c, cfg.Sensor.Address)
	if err := dev.Configure(tsl2591.Config{
		Address:     cfg.Sensor.Address,
		Gain:        rc.Initial.Gain,
		Integration: rc.Initial.Integration,
		SkipIDCheck: cfg.Sensor.SkipIDCheck,
	}); err != nil {
		return fmt.Errorf("tsl2591 at %#x: %w", dev.Addr(), err)
	}
	log.Info().
		Int("bus", cfg.Sensor.Bus).
		Uint16("addr", dev.Addr()).
		Str("gain", rc.Initial.Gain.String()).
		Int("integration_ms", rc.Initial.Integration.Millis()).
		Msg("TSL2591 initialised")

	sqmSvc, err := sqm.New(d.bus.NewConnection("sqm"), dev, sqm.Options{Sensor: cfg.Sensor, SQM: cfg.SQM})
	if err != nil {
		return err
	}
	d.goRun(sqmSvc.Run)

	// Outward surfaces.
	bridgeConn := d.bus.NewConnection("bridge")
	d.goRun(func(ctx context.Context) { bridge.Start(ctx, bridgeConn) })

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		d.store = store
		d.goRun(history.New(d.bus.NewConnection("history"), store, cfg.History).Run)
	}

	if cfg.Overlay.Enabled {
		d.goRun(overlay.New(d.bus.NewConnection("overlay"), cfg.Overlay).Run)
	}

	if cfg.Power.Enabled {
		if pbus, err := d.buses.Get(cfg.Power.Bus); err != nil {
			log.Warn().Err(err).Int("bus", cfg.Power.Bus).Msg("Power monitor unavailable")
		} else {
			d.goRun(power.New(d.bus.NewConnection("power"), pbus, cfg.Power).Run)
		}
	}

	hb := heartbeat.New(func() {
		d.stale.Store(true)
		d.cancel()
	})
	if err := hb.Start(ctx, d.bus.NewConnection("heartbeat")); err != nil {
		return err
	}

	metrics.New(d.bus.NewConnection("metrics"), cfg.Metrics).Start(ctx)

	return nil
}

// wait blocks until shutdown and returns the process exit code. A stalled
// measurement cycle exits non-zero so the supervisor restarts the daemon.
func (d *daemon) wait() int {
	<-d.ctx.Done()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		// A cycle stuck on the bus cannot be interrupted.
		log.Error().Dur("timeout", shutdownTimeout).Msg("Services did not stop in time")
		return 1
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing history database")
		}
	}
	if err := d.buses.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing i2c bus")
	}
	if d.stale.Load() {
		return 1
	}
	return 0
}
