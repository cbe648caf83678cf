package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"fyne.io/fyne/v2/app"
	"go.uber.org/zap"

	"camera-viewer-go/internal/camera"
	"camera-viewer-go/internal/config"
	"camera-viewer-go/internal/metrics"
	"camera-viewer-go/internal/perf"
	"camera-viewer-go/internal/pipeline"
	"camera-viewer-go/internal/render"
	"camera-viewer-go/internal/term"
	"camera-viewer-go/internal/ui"
)

// Version information - set by linker flags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

func main() {
	// Command line flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	configPath := flag.String("config", "", "Path to config.toml (default: ./config.toml or $CAMERA_VIEWER_CONFIG)")
	listDevices := flag.Bool("list-devices", false, "List capture devices and exit")
	rendererName := flag.String("renderer", "", "Renderer: fyne or term (overrides config)")
	sourceName := flag.String("source", "", "Capture backend: pattern, ffmpeg, mediadevices or opencv (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Camera Viewer %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", GoVersion)
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *listDevices {
		os.Exit(printDevices())
	}

	os.Exit(run(*configPath, *rendererName, *sourceName))
}

func printDevices() int {
	cams, err := camera.DiscoverCameras()
	if err != nil {
		fmt.Fprintf(os.Stderr, "V4L2 scan failed: %v\n", err)
	}
	fmt.Println("V4L2 devices (ffmpeg, opencv):")
	if len(cams) == 0 {
		fmt.Println("  none")
	}
	for _, c := range cams {
		fmt.Printf("  %d  %s  %s\n", c.Index, c.DevicePath, c.Name)
	}

	fmt.Println("mediadevices inputs:")
	media := camera.ListMediaDevices()
	if len(media) == 0 {
		fmt.Println("  none")
	}
	for i, c := range media {
		fmt.Printf("  %d  %s  %s\n", i, c.DeviceID, c.Name)
	}
	return 0
}

// renderer is what both the Fyne window and the terminal provide.
type renderer interface {
	render.Adapter
	OnEvent(pipeline.Event)
	Run(ctx context.Context, rx render.Receiver)
}

func run(configPath, rendererName, sourceName string) int {
	// Load configuration
	cfg, cfgErr := config.Load(configPath)
	if rendererName != "" {
		cfg.Render.Renderer = strings.ToLower(rendererName)
	}
	if sourceName != "" {
		cfg.Capture.Backend = strings.ToLower(sourceName)
	}
	if cfg.Render.Renderer == "term" {
		// The terminal owns stdout.
		cfg.Logging.Stdout = false
		if cfg.Logging.File == "" {
			cfg.Logging.File = config.DefaultConfig().Logging.File
		}
	}

	logger, cleanup, err := config.NewLogger(cfg.Logging)
	defer cleanup()
	if err != nil {
		logger.Warn("logging setup", zap.Error(err))
	}
	if cfgErr != nil {
		logger.Warn("config load error, using defaults", zap.Error(cfgErr))
	}
	log := logger.Named("main")

	log.Info("camera viewer starting",
		zap.String("version", Version),
		zap.String("backend", cfg.Capture.Backend),
		zap.Int("device", cfg.Capture.DeviceIndex),
		zap.Int("width", cfg.Capture.Width),
		zap.Int("height", cfg.Capture.Height),
		zap.Int("fps", cfg.Capture.FPS),
		zap.String("target", cfg.Pipeline.TargetLayout),
		zap.String("renderer", cfg.Render.Renderer),
		zap.Bool("dynamic_fps", cfg.Performance.DynamicFPS))

	// Validate config
	ok, warnings := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if !ok {
		log.Error("config validation failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, m, logger); err != nil {
				log.Error("metrics exporter", zap.Error(err))
			}
		}()
	}

	p, err := newPipeline(cfg, logger, m)
	if err != nil {
		log.Error("pipeline setup failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := p.Stop(); err != nil {
			log.Warn("pipeline stop", zap.Error(err))
		}
		log.Info("stopped", zap.Any("stats", p.Stats()))
	}()

	var r renderer
	var sup *pipeline.Supervisor
	restart := func() {
		if err := sup.Restart(ctx); err != nil {
			log.Warn("manual restart failed", zap.Error(err))
		}
	}

	switch cfg.Render.Renderer {
	case "term":
		screen, err := term.NewScreen()
		if err != nil {
			log.Error("terminal unavailable", zap.Error(err))
			return 1
		}
		t, err := term.New(screen, term.Options{
			UIFPS:            cfg.Render.UIFPS,
			Filters:          filters(cfg.Render),
			AnalysisInterval: time.Duration(cfg.Render.AnalysisIntervalMS) * time.Millisecond,
			OnRestart:        restart,
			Logger:           logger,
			Metrics:          m,
		})
		if err != nil {
			log.Error("terminal unavailable", zap.Error(err))
			return 1
		}
		r = t
	default:
		r = ui.NewViewer(app.New(), ui.Options{
			Title:            "Camera Viewer",
			UIFPS:            cfg.Render.UIFPS,
			Filters:          filters(cfg.Render),
			Overlay:          cfg.Render.Overlay,
			AnalysisInterval: time.Duration(cfg.Render.AnalysisIntervalMS) * time.Millisecond,
			OnRestart:        restart,
			Logger:           logger,
			Metrics:          m,
		})
	}

	devicePath := camera.DevicePath(cfg.Capture.DeviceIndex)
	sup = pipeline.NewSupervisor(p, pipeline.SupervisorConfig{
		StaleTimeout:         cfg.StaleFrameTimeout(),
		RestartCooldown:      cfg.RestartCooldown(),
		RestartWindow:        cfg.RestartWindow(),
		MaxRestartsPerWindow: cfg.Performance.MaxRestartsPerWindow,
		HealthInterval:       cfg.HealthLogInterval(),
		BeforeRestart: func() {
			if usesV4L2(cfg.Capture.Backend) {
				if _, err := os.Stat(devicePath); errors.Is(err, os.ErrNotExist) {
					log.Warn("device node missing, restart will likely fail", zap.String("device", devicePath))
				}
			}
		},
	},
		pipeline.WithListener(r.OnEvent),
		pipeline.WithSupervisorLogger(logger),
		pipeline.WithSupervisorMetrics(m),
	)

	// The supervisor owns recovery from here on, so a failed first open is
	// retried like a disconnect would be.
	if err := p.Start(ctx); err != nil {
		log.Error("capture start failed", zap.Error(err))
		r.OnEvent(pipeline.Event{Kind: pipeline.EventDisconnected, Err: err, At: time.Now()})
		go restartUntilRunning(ctx, sup, p, cfg.RestartCooldown(), log)
	}
	go sup.Run(ctx)

	if cfg.Performance.DynamicFPS {
		ac := perf.NewAdaptiveController(p, perf.NewMonitor(), cfg.Performance, cfg.Capture.FPS, logger)
		go ac.Run(ctx)
	}

	r.Run(ctx, p)
	stop()
	log.Info("renderer closed, shutting down")
	return 0
}

func newPipeline(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	backend, err := camera.ParseBackend(cfg.Capture.Backend)
	if err != nil {
		return nil, err
	}
	target, err := cfg.TargetLayout()
	if err != nil {
		return nil, err
	}
	patternLayout, err := cfg.PatternLayout()
	if err != nil {
		return nil, err
	}

	src, err := camera.NewSource(backend, camera.Options{
		Width:             cfg.Capture.Width,
		Height:            cfg.Capture.Height,
		FPS:               cfg.Capture.FPS,
		Format:            cfg.Capture.Format,
		Timeout:           cfg.CaptureTimeout(),
		KillDeviceHolders: cfg.Capture.KillDeviceHolders,
		PatternLayout:     patternLayout,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		DeviceIndex:          cfg.Capture.DeviceIndex,
		Target:               target,
		PoolSize:             cfg.Pipeline.PoolSize,
		FPS:                  cfg.Capture.FPS,
		AcquireTimeout:       time.Duration(cfg.Pipeline.AcquireTimeoutMS) * time.Millisecond,
		MaxConsecutiveErrors: cfg.Pipeline.MaxConsecutiveErrors,
		EventBuffer:          cfg.Pipeline.EventBuffer,
	}, src, pipeline.WithLogger(logger), pipeline.WithMetrics(m))
}

// restartUntilRunning retries the first start every cooldown until it
// succeeds or ctx ends.
func restartUntilRunning(ctx context.Context, sup *pipeline.Supervisor, p *pipeline.Pipeline, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for p.State() != pipeline.StateRunning {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := sup.Restart(ctx); err != nil {
			log.Debug("capture still unavailable", zap.Error(err))
		}
	}
}

func filters(rc config.RenderConfig) render.Filters {
	return render.Filters{
		Mirror:  rc.Mirror,
		Night:   rc.NightMode,
		Privacy: rc.Privacy,
		Block:   rc.PixelateBlock,
	}
}

func usesV4L2(backend string) bool {
	return backend == string(camera.BackendFFmpeg) || backend == string(camera.BackendOpenCV)
}
