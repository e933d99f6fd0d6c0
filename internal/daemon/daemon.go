// Package daemon implements the hipd daemon lifecycle manager: wiring
// the HADB, host identity store, puzzle cache, SA manager and the
// state machine that ties them together, then driving their
// collaborators (control socket, admin event stream, metrics,
// maintenance scheduler) through the process's start/stop/reload
// lifecycle.
package daemon

import (
	"context"
	"crypto/elliptic"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hiplane/hipd/internal/command"
	"github.com/hiplane/hipd/internal/config"
	"github.com/hiplane/hipd/internal/conntrack"
	"github.com/hiplane/hipd/internal/espprot"
	"github.com/hiplane/hipd/internal/eventbus"
	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hid"
	"github.com/hiplane/hipd/internal/hiplog"
	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/metrics"
	"github.com/hiplane/hipd/internal/netio"
	"github.com/hiplane/hipd/internal/puzzle"
	"github.com/hiplane/hipd/internal/sa"
	"github.com/hiplane/hipd/internal/scheduler"
	"github.com/hiplane/hipd/internal/statemachine"
	"github.com/hiplane/hipd/internal/wire"
)

// retransmitTickInterval is how often the scheduler checks every HA
// for due retransmissions; it is independent of (and much finer than)
// any one HA's own exponential backoff.
const retransmitTickInterval = 500 * time.Millisecond

// Daemon manages the hipd process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core domain collaborators
	hadb      *hadb.DB
	hids      *hid.Store
	puzzles   *puzzle.Cache
	sas       *sa.Manager
	conntrack *conntrack.Tracker
	machine   *statemachine.Machine
	out       *netio.UDPTransport

	// Control plane
	bus           eventbus.EventBus
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	adminStream   *command.AdminStream
	adminHTTP     *http.Server
	metricsServer *metrics.Server // nil if metrics disabled
	schedulerJobs []int

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal // promoted from Run() local for cleanup in Stop()
}

// New creates a new Daemon instance.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	slog.Info("starting hipd daemon",
		"version", "0.1.0",
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Core domain state.
	d.hadb = hadb.New()
	d.hids = hid.New()
	if err := d.loadHostIdentities(); err != nil {
		return fmt.Errorf("failed to load host identities: %w", err)
	}

	lifetime, err := time.ParseDuration(d.config.Puzzle.Lifetime)
	if err != nil {
		slog.Warn("invalid puzzle.lifetime, defaulting to 10m", "value", d.config.Puzzle.Lifetime, "error", err)
		lifetime = 10 * time.Minute
	}
	d.puzzles = puzzle.NewCache(lifetime, uint8(d.config.Puzzle.Difficulty))

	d.sas = sa.NewManager()

	transport, err := netio.NewUDPTransport(fmt.Sprintf(":%d", wire.DefaultPort))
	if err != nil {
		return fmt.Errorf("failed to bind control-plane transport: %w", err)
	}
	d.out = transport

	d.conntrack = conntrack.New()
	d.machine = statemachine.New(d.hadb, d.hids, d.puzzles, d.sas, d.out)
	d.machine.SetConntrack(d.conntrack)

	if groups := parseDHPreference(d.config.DH.GroupPreference); len(groups) > 0 {
		d.machine.SetDHPreference(groups)
	}
	if ip := net.ParseIP(d.config.Node.IP); ip != nil {
		d.machine.SetLocalIP(ip)
	}
	d.machine.SetESPProtConfig(espprot.DefaultConfig(parseESPProtTransform(d.config.ESPProt.Transform), d.config.ESPProt.HChains))

	go func() {
		if err := d.out.Serve(d.dispatchInbound); err != nil {
			slog.Error("control-plane transport stopped", "error", err)
		}
	}()

	// Control plane: JSON-RPC command socket, admin event stream.
	d.cmdHandler = command.NewCommandHandler(d.machine, d.hadb, d.hids, d.puzzles, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		close(d.shutdownChan)
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("uds server failed", "error", err)
		}
	}()

	if err := d.startAdminStream(); err != nil {
		slog.Error("failed to start admin event stream", "error", err)
		// Non-fatal: request/reply control socket still works.
	}

	// Maintenance scheduler: retransmission sweeps and puzzle rotation.
	sched := scheduler.GetScheduler()
	d.schedulerJobs = append(d.schedulerJobs,
		sched.AddJob("retransmit", retransmitTickInterval, func(now time.Time) {
			d.machine.Tick(now)
		}),
	)
	if d.config.Puzzle.Difficulty > 0 {
		rotateEvery := lifetime / 2
		if rotateEvery <= 0 {
			rotateEvery = 5 * time.Minute
		}
		d.schedulerJobs = append(d.schedulerJobs,
			sched.AddJob("puzzle-rotation", rotateEvery, func(now time.Time) {
				d.hids.ForEach(func(e *hid.Entry) {
					d.puzzles.Rotate(e.HIT, d.puzzles.Difficulty())
				})
			}),
		)
	}

	slog.Info("daemon started successfully")
	return nil
}

// dispatchInbound is the netio.UDPTransport receive callback: it hands
// every inbound datagram to the state machine's packet dispatcher.
func (d *Daemon) dispatchInbound(msg *wire.Message, srcIP string, srcPort uint16) {
	if err := d.machine.Dispatch(msg, srcIP, srcPort); err != nil {
		hiplog.GetLogger().WithError(err).WithFields(map[string]interface{}{
			"src_ip": srcIP, "packet": msg.Header.Type.String(),
		}).Warn("dispatch failed")
	}
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	scheduler.GetScheduler().StopAll()
	d.schedulerJobs = nil

	if d.adminHTTP != nil {
		slog.Info("stopping admin event stream")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.adminHTTP.Shutdown(shutdownCtx); err != nil {
			slog.Error("error stopping admin event stream", "error", err)
		}
		cancel()
	}

	slog.Info("stopping uds server")
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	if d.out != nil {
		if err := d.out.Close(); err != nil {
			slog.Error("error closing control-plane transport", "error", err)
		}
	}

	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via the control socket
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format, puzzle difficulty.
// Cold (requires restart): node.hostname, control socket/transport
// listen addresses, host identities.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}

	oldLevel := d.config.Log.Level
	oldFormat := d.config.Log.Format
	oldDifficulty := d.config.Puzzle.Difficulty
	oldHostname := d.config.Node.Hostname
	oldSocket := d.config.Control.Socket
	d.config = newConfig

	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		hotReloaded = append(hotReloaded, "log")
	}

	if newConfig.Puzzle.Difficulty != oldDifficulty && d.puzzles != nil {
		d.puzzles.SetDifficulty(uint8(newConfig.Puzzle.Difficulty))
		hotReloaded = append(hotReloaded, "puzzle_difficulty")
	}

	requiresRestart := []string{}
	if newConfig.Node.Hostname != oldHostname {
		requiresRestart = append(requiresRestart, "node.hostname")
	}
	if newConfig.Control.Socket != oldSocket {
		requiresRestart = append(requiresRestart, "control.socket")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)

	return nil
}

// TriggerShutdown triggers graceful shutdown from an external caller
// (e.g. a test). It only has an effect while Run is waiting; the
// daemon_shutdown command uses its own callback registered in Start.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// initLogging initializes both the slog-based daemon skeleton logger
// and the logrus-based internal/hiplog domain logger from config.
func (d *Daemon) initLogging() error {
	hiplog.Init(&hiplog.LoggerConfig{
		Pattern: d.config.Log.Pattern,
		Time:    "2006-01-02T15:04:05.000Z07:00",
		Level:   d.config.Log.Level,
	})

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)

	return nil
}

// loadHostIdentities inserts every configured host identity into the
// HID store, loading from disk where a private key path is given and
// generating a fresh ephemeral ECDSA P-256 identity otherwise.
func (d *Daemon) loadHostIdentities() error {
	if len(d.config.HostIdentities) == 0 {
		slog.Warn("no host_identities configured, generating an ephemeral identity")
		if _, err := d.hids.GenerateECDSA(elliptic.P256(), d.config.Node.Hostname, false); err != nil {
			return err
		}
		return nil
	}

	for _, hi := range d.config.HostIdentities {
		if hi.PrivateKey == "" {
			slog.Info("generating ephemeral host identity", "name", hi.Name)
			if _, err := d.hids.GenerateECDSA(elliptic.P256(), hi.Hostname, hi.Anonymous); err != nil {
				return fmt.Errorf("host identity %q: %w", hi.Name, err)
			}
			continue
		}
		slog.Info("loading host identity", "name", hi.Name, "path", hi.PrivateKey)
		if _, err := d.hids.LoadPEM(hi.PrivateKey, hi.Hostname, hi.Anonymous); err != nil {
			return fmt.Errorf("host identity %q: %w", hi.Name, err)
		}
	}
	return nil
}

// startAdminStream starts the websocket push-notification endpoint, if
// enabled, backed by a fresh in-process event bus.
func (d *Daemon) startAdminStream() error {
	if !d.config.AdminStream.Enabled {
		slog.Info("admin event stream disabled")
		return nil
	}

	d.bus = eventbus.NewInMemoryEventBus(4, 256)
	d.machine.SetEventBus(d.bus)
	stream, err := command.NewAdminStream(d.bus, []string{"ha.established", "ha.closed", "anchor.updated"})
	if err != nil {
		return fmt.Errorf("failed to create admin event stream: %w", err)
	}
	d.adminStream = stream

	mux := http.NewServeMux()
	mux.Handle(d.config.AdminStream.Path, stream)
	d.adminHTTP = &http.Server{Addr: d.config.AdminStream.Listen, Handler: mux}

	go func() {
		if err := d.adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin event stream server error", "error", err)
		}
	}()

	slog.Info("admin event stream started", "addr", d.config.AdminStream.Listen, "path", d.config.AdminStream.Path)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	slog.Info("metrics server started",
		"addr", d.config.Metrics.Listen,
		"path", d.config.Metrics.Path,
	)

	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}

// parseDHPreference resolves a dh.group_preference config list into
// GroupIDs, skipping (and logging) any name the crypto suite doesn't
// recognize rather than failing startup over a typo.
func parseDHPreference(names []string) []hipcrypto.GroupID {
	groups := make([]hipcrypto.GroupID, 0, len(names))
	for _, name := range names {
		id, ok := hipcrypto.GroupIDByName(name)
		if !ok {
			slog.Warn("unknown dh.group_preference entry, skipping", "name", name)
			continue
		}
		groups = append(groups, id)
	}
	return groups
}

// parseESPProtTransform maps the esp_prot.transform config string onto
// its espprot.Transform value, defaulting to UNUSED for anything
// unrecognized (config validation already rejects unknown values
// before Start runs, so this only covers the zero-value config.Load
// path used by tests and early bootstrap).
func parseESPProtTransform(name string) espprot.Transform {
	switch strings.ToUpper(name) {
	case "PLAIN":
		return espprot.TransformPlain
	case "PARALLEL":
		return espprot.TransformParallel
	case "CUMULATIVE":
		return espprot.TransformCumulative
	case "PARA_CUMUL":
		return espprot.TransformParaCumul
	case "TREE":
		return espprot.TransformTree
	default:
		return espprot.TransformUnused
	}
}
