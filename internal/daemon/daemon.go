package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npcforge/npcforge/internal/api"
	"github.com/npcforge/npcforge/internal/app/supervisor"
	"github.com/npcforge/npcforge/internal/domain"
	"github.com/npcforge/npcforge/internal/health"
	"github.com/npcforge/npcforge/internal/infra/adapter"
	"github.com/npcforge/npcforge/internal/infra/eventbus"
	"github.com/npcforge/npcforge/internal/infra/learning"
	"github.com/npcforge/npcforge/internal/infra/policy"
	"github.com/npcforge/npcforge/internal/infra/registry"
	"github.com/npcforge/npcforge/internal/microcore"
)

// Daemon is the npcforge control-plane runtime. It wires the registry,
// learning store, game-server adapter, event bus, supervisor, admin API,
// and health checker together.
type Daemon struct {
	Config Config

	Registry   *registry.Registry
	Learning   *learning.Store
	Adapter    *adapter.Adapter
	Bus        *eventbus.Bus
	Push       *eventbus.PushServer
	Cores      *microcore.Manager
	Supervisor *supervisor.Supervisor
	Server     *api.Server
	Health     *health.Checker

	cancel context.CancelFunc
}

// New loads config from disk (or defaults) and wires a Daemon.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires a Daemon from an already-loaded Config.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg := registry.New(cfg.Persistence.RegistryPath, nil)

	learn, err := learning.New(cfg.Persistence.ProfilesPath, cfg.Persistence.KnowledgePath)
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}

	d := &Daemon{Config: cfg, Registry: reg, Learning: learn}

	ad := adapter.New(adapter.Config{
		MaxCommandsPerSecond: cfg.Adapter.MaxCommandsPerSecond,
		CommandTimeout:       msToDuration(cfg.Adapter.CommandTimeoutMS),
		HeartbeatInterval:    time.Duration(cfg.Adapter.HeartbeatIntervalS) * time.Second,
		CommandPrefix:        cfg.Adapter.CommandPrefix,
		SnapshotPath:         cfg.Persistence.SnapshotPath,
	}, adapter.NewRCONTransport(adapter.RCONConfig{
		Host:     cfg.GameServer.Host,
		Port:     cfg.GameServer.Port,
		Password: cfg.GameServer.Password,
	}), nil, func(name string, payload map[string]string) {
		log.Printf("[daemon] signal %s: %v", name, payload)
	})
	d.Adapter = ad

	d.Cores = microcore.NewManager(ad, nil, func(id string, err error) {
		log.Printf("[daemon] microcore %s error: %v", id, err)
	})

	d.Supervisor = supervisor.New(reg, learn, ad, d.Cores, cfg.API.MaxActive, supervisor.RetryConfig{
		MaxRetries: cfg.Adapter.RetryMaxAttempts,
		RetryDelay: msToDuration(cfg.Adapter.RetryBaseDelayMS),
	})
	d.Supervisor.SetPolicyEnforcer(policy.NewEnforcer(nil))

	if cfg.Push.Enabled {
		d.Bus = eventbus.New()
		d.Push = eventbus.NewPushServer(d.Bus)
		ad.Subscribe(domain.SubscriptionFilter{}, d.Bus.Publish)
		ad.OnCombatSnapshot(d.Push.BroadcastSnapshot)
		ad.OnCombatUpdate(d.Push.BroadcastUpdate)
	}

	srv := api.NewServer(reg, d.Supervisor, d.Push, cfg.Security.APIKey)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}
	d.Server = srv

	d.Health = health.NewChecker(health.Config{
		RegistryPath:     cfg.Persistence.RegistryPath,
		ProfilesPath:     cfg.Persistence.ProfilesPath,
		KnowledgePath:    cfg.Persistence.KnowledgePath,
		AdapterConnected: func() bool { return ad.State() == adapter.StateConnected },
	})

	return d, nil
}

// Serve connects the adapter, starts background services, and blocks
// serving the admin HTTP API until the context is cancelled or a shutdown
// signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.Adapter.Connect(ctx); err != nil {
		log.Printf("[daemon] initial connect failed, will retry in background: %v", err)
	}

	go d.Health.Run(ctx)
	go d.runPolicyLoop(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.Adapter.Shutdown(true, 10*time.Second)
		if d.Cores != nil {
			d.Cores.StopAll()
		}
		if d.Push != nil {
			d.Push.Close()
		}
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.Registry.Close()
		_ = d.Learning.Close()
	}()

	fmt.Printf("npcforge serving on http://%s\n", addr)
	if d.Config.API.Metrics {
		fmt.Printf("  metrics: http://%s/metrics\n", addr)
	}
	if d.Push != nil {
		fmt.Printf("  push channel: ws://%s/push\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runPolicyLoop periodically asks the supervisor's policy enforcer for
// actions and applies them, per spec §4.H. Runs until ctx is cancelled.
func (d *Daemon) runPolicyLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Supervisor.EvaluatePolicy()
		}
	}
}

// Close releases every daemon resource. Safe to call after Serve returns.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Adapter != nil {
		d.Adapter.Shutdown(false, 0)
	}
	if d.Cores != nil {
		d.Cores.StopAll()
	}
	if d.Push != nil {
		d.Push.Close()
	}
	if d.Registry != nil {
		_ = d.Registry.Close()
	}
	if d.Learning != nil {
		_ = d.Learning.Close()
	}
}
