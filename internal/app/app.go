// Package app wires all crossmix subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run plays the score until the context ends, and Shutdown fades
// the engine out and tears everything down in order.
//
// For testing, inject an output device and a meter provider via functional
// options. When an option is not provided, New uses the real speaker and the
// Prometheus-backed OpenTelemetry provider.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/crossmix/internal/config"
	"github.com/MrWong99/crossmix/internal/device"
	"github.com/MrWong99/crossmix/internal/device/speaker"
	"github.com/MrWong99/crossmix/internal/health"
	"github.com/MrWong99/crossmix/internal/observe"
	"github.com/MrWong99/crossmix/internal/score"
	"github.com/MrWong99/crossmix/pkg/audio/channel"
	"github.com/MrWong99/crossmix/pkg/audio/pool"
)

// Output is a running audio device pulling PCM from the engine.
type Output interface {
	Start()
	Running() bool
	Close() error
}

// OutputFunc opens an output device reading interleaved float32 PCM from src.
type OutputFunc func(src io.Reader, sampleRate, channels, bufferFrames int) (Output, error)

// fadePoll is how often Shutdown checks whether the closing fade finished.
const fadePoll = 5 * time.Millisecond

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	level   *slog.LevelVar
	version string

	// Subsystems, initialised in New and torn down in Shutdown.
	pool     *pool.Pool
	seq      *score.Sequencer
	metrics  *observe.Metrics
	registry *prometheus.Registry
	reader   *device.Reader
	mux      *http.ServeMux
	server   *http.Server
	watcher  *config.Watcher

	outMu sync.Mutex
	out   Output

	openOutput    OutputFunc
	meters        metric.MeterProvider
	configPath    string
	stopTelemetry func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the base logger. level, when non-nil, is adjusted on
// hot-reloaded log level changes.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.log = l
		a.level = level
	}
}

// WithOutput replaces the hardware speaker.
func WithOutput(open OutputFunc) Option {
	return func(a *App) { a.openOutput = open }
}

// WithMeterProvider records metrics to mp instead of initialising the global
// Prometheus-backed provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.meters = mp }
}

// WithConfigPath enables hot reload of the configuration file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
		openOutput: func(src io.Reader, rate, channels, frames int) (Output, error) {
			return speaker.Open(src, rate, channels, frames)
		},
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Mixing engine ────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 3. Sequencer ────────────────────────────────────────────────────
	a.seq = score.New(a.pool, cfg.Engine, score.WithLogger(a.log))

	// ── 4. Device adapter ───────────────────────────────────────────────
	a.reader = device.NewReader(a.pool,
		device.WithRecorder(a.metrics),
		device.WithBufferFrames(cfg.Engine.BufferFrames),
	)

	// ── 5. HTTP surface ─────────────────────────────────────────────────
	a.initHTTP()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	if a.meters == nil {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceVersion: a.version,
			Registerer:     a.registry,
		})
		if err != nil {
			return err
		}
		a.stopTelemetry = shutdown
		a.meters = otel.GetMeterProvider()
	}
	m, err := observe.NewMetrics(a.meters)
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

func (a *App) initEngine() error {
	e := a.cfg.Engine
	p, err := pool.New(e.OutputChannels, e.SampleRate,
		pool.WithLogger(a.log),
		pool.WithRecorder(a.metrics),
		pool.WithPostProcessor(pool.HardLimiter{}),
		pool.WithMaxComputations(e.MaxComputations),
		pool.WithChannelOptions(
			channel.WithBaseAmplitude(e.BaseAmplitude),
			channel.WithQueueCapacity(e.QueueCapacity),
		),
	)
	if err != nil {
		return err
	}
	a.pool = p
	return a.metrics.ObserveOpenChannels(p.OpenCount)
}

func (a *App) initHTTP() {
	a.mux = http.NewServeMux()
	health.New(
		health.EngineAccepting(a.pool),
		health.DeviceRunning(a.outputRunning),
	).Register(a.mux)
	a.mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.mux.HandleFunc("GET /voices", a.handleVoices)

	if a.cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

// Handler returns the instrumented HTTP handler serving health, metrics and
// voice status.
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics, a.log)(a.mux)
}

// Pool returns the mixing engine.
func (a *App) Pool() *pool.Pool { return a.pool }

func (a *App) handleVoices(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(a.seq.Status())
}

func (a *App) output() Output {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	return a.out
}

func (a *App) outputRunning() bool {
	out := a.output()
	return out != nil && out.Running()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the output device, starts the score and serves HTTP until ctx is
// cancelled. Voices that fail to start are logged and skipped.
func (a *App) Run(ctx context.Context) error {
	e := a.cfg.Engine
	out, err := a.openOutput(a.reader, e.SampleRate, e.OutputChannels, e.BufferFrames)
	if err != nil {
		return fmt.Errorf("app: open output: %w", err)
	}
	a.outMu.Lock()
	a.out = out
	a.outMu.Unlock()
	out.Start()

	if err := a.seq.Load(a.cfg.Score); err != nil {
		a.log.Warn("some voices failed to start", "err", err)
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, config.WithLogger(a.log))
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.seq.Run(gctx, score.DefaultTick)
	})
	if a.server != nil {
		g.Go(func() error {
			a.log.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	a.log.Info("app running", "voices", len(a.cfg.Score), "sample_rate", e.SampleRate, "channels", e.OutputChannels)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// onConfigChange applies a hot-reloaded configuration.
func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	ctx, span := observe.StartReload(context.Background(), len(d.VoiceChanges), d.EngineChanged)
	log := observe.WithSpan(ctx, a.log)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EngineChanged {
		log.Warn("engine settings changed; restart to apply them")
	}
	err := a.seq.Apply(d, new)
	if err != nil {
		log.Warn("applying score changes failed", "err", err)
	}
	observe.End(span, err)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown fades the engine to silence, closes every voice, then releases the
// output device and telemetry. It respects the context deadline: if ctx
// expires during the fade, the device is closed without waiting further.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if a.watcher != nil {
			a.watcher.Stop()
		}

		a.pool.Shutdown(a.cfg.Engine.Frames(a.cfg.Engine.ShutdownFade))
		if a.outputRunning() {
			if err := a.awaitFade(ctx); err != nil {
				a.log.Warn("shutdown fade interrupted", "err", err)
				errs = append(errs, err)
			}
		}

		if err := a.seq.Stop(); err != nil {
			a.log.Warn("closing voices failed", "err", err)
		}

		if out := a.output(); out != nil {
			if err := out.Close(); err != nil {
				a.log.Warn("output close error", "err", err)
				errs = append(errs, err)
			}
		}

		if a.stopTelemetry != nil {
			if err := a.stopTelemetry(ctx); err != nil {
				a.log.Warn("telemetry shutdown error", "err", err)
				errs = append(errs, err)
			}
		}

		a.log.Info("shutdown complete", "frames", a.reader.Frames())
	})
	return errors.Join(errs...)
}

func (a *App) awaitFade(ctx context.Context) error {
	ticker := time.NewTicker(fadePoll)
	defer ticker.Stop()
	for !a.pool.FadedOut() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a configured log level to a [slog.Level].
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
