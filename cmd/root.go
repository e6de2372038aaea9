package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/USA-RedDragon/configulator"
	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sbn-project/sbn/internal/config"
	"github.com/sbn-project/sbn/internal/kv"
	"github.com/sbn-project/sbn/internal/metrics"
	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/engine"
	"github.com/sbn-project/sbn/internal/sbn/housekeeping"
	"github.com/sbn-project/sbn/internal/sbn/httpdebug"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/operator"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
	"github.com/sbn-project/sbn/internal/sbn/remap"
	"github.com/sbn-project/sbn/internal/sbn/transport"
	"github.com/sbn-project/sbn/internal/sbn/transport/udpdgram"
	"github.com/sbn-project/sbn/internal/sbn/wire"
)

const shutdownTimeout = 10 * time.Second

// NewCommand builds the root cobra command for the sbn binary.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sbn",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("sbn - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	scheduler, err := setupScheduler()
	if err != nil {
		return err
	}

	cleanup, err := setupTracing(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		if err := cleanup(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	store, err := kv.MakeKV(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to construct cache: %w", err)
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	housekeeper := housekeeping.New(housekeeping.Config{Interval: cfg.Housekeeping.Interval}, eng, store)
	if _, err := scheduler.NewJob(
		gocron.DurationJob(cfg.Housekeeping.Interval),
		gocron.NewTask(func() { housekeeper.Publish(ctx) }),
	); err != nil {
		return fmt.Errorf("failed to schedule housekeeping job: %w", err)
	}

	scheduler.Start()

	metricsCollector := metrics.NewMetrics()
	eng.Send.Metrics = metricsCollector
	eng.Recv.Metrics = metricsCollector
	eng.State.Metrics = metricsCollector

	mgr := newServerManager(cfg, eng, housekeeper)
	mgr.start(ctx)

	setupShutdownHandlers(ctx, scheduler, mgr, cleanup)

	return nil
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := configulator.FromContext[config.Config](ctx).LoadWithoutValidation()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	slog.SetDefault(slog.New(handler))
}

func setupScheduler() (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return scheduler, nil
}

func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if cfg.Metrics.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	return initTracer(cfg)
}

func initTracer(cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct trace exporter: %w", err)
	}

	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "sbn"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct trace resource: %w", err)
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown, nil
}

// buildEngine loads the peer/host table from cfg's configured sources
// and constructs the bound Engine with the UDP datagram transport
// registered as protocol 0.
func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	codec := wire.NewCodec(cfg.Engine.MaxMessageSize)
	tr := udpdgram.New(codec)
	transports := map[uint8]transport.Transport{0: tr}

	table := peertable.NewTable(ids.SpacecraftId(cfg.PeerTable.LocalSpacecraftId), ids.ProcessorId(cfg.PeerTable.LocalProcessorId), cfg.PeerTable.MaxPeers, cfg.PeerTable.MaxHosts)
	if err := peertable.Load(table, transports, cfg.PeerTable.Sources...); err != nil {
		return nil, fmt.Errorf("failed to load peer table: %w", err)
	}

	remapTable, err := remap.New(nil, ids.PolicyPassThrough)
	if err != nil {
		return nil, fmt.Errorf("failed to build remap table: %w", err)
	}

	eng := engine.New(engine.Config{
		LocalAppName:             cfg.Engine.LocalAppName,
		AnnounceInterval:         cfg.Engine.AnnounceInterval,
		HeartbeatInterval:        cfg.Engine.HeartbeatInterval,
		LossThreshold:            cfg.Engine.LossThreshold,
		MaxConsecutiveSendErrors: cfg.Engine.MaxConsecutiveSendErrors,
		FairnessCap:              cfg.Engine.FairnessCap,
		TickInterval:             cfg.Engine.TickInterval,
		MaxStatusBytes:           cfg.Engine.MaxStatusBytes,
	}, table, transports, bus.NewMemoryBus(), remapTable, codec)

	return eng, nil
}

// serverManager coordinates the lifetime of the running engine alongside
// the metrics and debug HTTP servers it shares a process with.
type serverManager struct {
	cfg         *config.Config
	engine      *engine.Engine
	housekeeper *housekeeping.Publisher
	runErr      chan error
}

func newServerManager(cfg *config.Config, eng *engine.Engine, hk *housekeeping.Publisher) *serverManager {
	return &serverManager{cfg: cfg, engine: eng, housekeeper: hk, runErr: make(chan error, 1)}
}

func (m *serverManager) start(ctx context.Context) {
	if m.cfg.Metrics.Enabled {
		go func() {
			if err := metrics.CreateMetricsServer(m.cfg); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if m.cfg.HTTP.Enabled {
		ops := operator.New(m.engine)
		srv := httpdebug.New(httpdebug.Config{
			Bind:           m.cfg.HTTP.Bind,
			Port:           m.cfg.HTTP.Port,
			AllowedOrigins: m.cfg.HTTP.AllowedOrigins,
			PProfEnabled:   m.cfg.HTTP.PProf,
			TracingEnabled: m.cfg.Metrics.OTLPEndpoint != "",
		}, ops, m.housekeeper)
		go func() {
			if err := srv.Run(); err != nil {
				slog.Error("debug http server stopped", "error", err)
			}
		}()
	}

	mode := m.cfg.Engine.SchedulerMode
	go func() {
		var err error
		if mode == config.SchedulerTaskPerPeer {
			err = m.engine.RunConcurrent(ctx)
		} else {
			err = m.engine.RunCooperative(ctx)
		}
		m.runErr <- err
	}()
}

func setupShutdownHandlers(ctx context.Context, scheduler gocron.Scheduler, mgr *serverManager, cleanup func(context.Context) error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-mgr.runErr:
		if err != nil && err != context.Canceled {
			slog.Error("engine stopped unexpectedly", "error", err)
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("failed to stop scheduler", "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		slog.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
