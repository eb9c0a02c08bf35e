package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	videosurface "github.com/e7canasta/orion-video-surface"
	"github.com/e7canasta/orion-video-surface/internal/config"
	"github.com/e7canasta/orion-video-surface/internal/control"
	"github.com/e7canasta/orion-video-surface/internal/emitter"
	"github.com/e7canasta/orion-video-surface/internal/gstengine"
	"github.com/e7canasta/orion-video-surface/internal/mediafs"
	"github.com/e7canasta/orion-video-surface/internal/probe"
)

// Version information
const version = "v0.1.0"

func init() {
	// SDL and the consumer GL context live on the main thread.
	runtime.LockOSThread()
}

func main() {
	app := &cli.App{
		Name:    "videosurface-play",
		Usage:   "play a video file or stream into an OpenGL window",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to YAML configuration file"},
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "file path, stream URI or s3://bucket/key", EnvVars: []string{"VIDEOSURFACE_SOURCE"}},
			&cli.IntFlag{Name: "width", Usage: "target width (defaults to the window)"},
			&cli.IntFlag{Name: "height", Usage: "target height (defaults to the window)"},
			&cli.BoolFlag{Name: "no-audio", Usage: "disable the audio track"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.StringFlag{Name: "screenshot", Usage: "write the first frame to this PNG file"},
		},
		Before: func(c *cli.Context) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to load .env", "error", err)
			}
			return nil
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("videosurface-play failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	slog.Info("starting videosurface-play",
		"version", version,
		"instance_id", cfg.InstanceID,
		"source", cfg.Source,
		"config", c.String("config"),
	)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := resolveSource(ctx, cfg.S3, cfg.Source)
	if err != nil {
		return err
	}

	engine, err := gstengine.New(gstengine.Config{
		StopTimeout: cfg.Engine.StopTimeout,
		EventBuffer: cfg.Engine.EventBuffer,
	})
	if err != nil {
		return err
	}

	win, err := openWindow(cfg.Window)
	if err != nil {
		return err
	}
	defer win.Close()

	target := videosurface.Size{Width: cfg.Target.Width, Height: cfg.Target.Height}
	if target.Empty() {
		target = win.DrawableSize()
	}

	l := newLoop(ctx, cfg, win, c.String("screenshot"))
	player, err := videosurface.NewPlayer(engine, win.ContextFactory(), win.Allocator(), videosurface.Config{
		Source:           source,
		TargetSize:       target,
		PlayAudio:        cfg.Audio(),
		PlayVideo:        cfg.Video(),
		ReadinessTimeout: cfg.ReadinessTimeout,
		Probe:            probe.NativeSize,
		OnStatus:         l.onStatus,
		OnDestroy:        l.onDestroy,
	})
	if err != nil {
		return err
	}
	l.player = player

	if err := player.NotifyConsumerReady(win.Shared()); err != nil {
		return fmt.Errorf("consumer context: %w", err)
	}
	if err := player.Start(); err != nil {
		// Not fatal: the window stays up and the control plane can retry.
		slog.Error("failed to start playback", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if path := c.String("config"); path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, config.DefaultDebounce, l.onReload)
		})
	}

	if cfg.MQTT.Enabled {
		em := emitter.NewMQTTEmitter(cfg)
		if err := em.Connect(ctx); err != nil {
			slog.Error("mqtt unavailable, continuing without control plane", "error", err)
		} else {
			defer em.Disconnect()
			handler := control.NewHandler(cfg, em.Client, l.commandCallbacks())
			g.Go(func() error { return handler.Run(gctx) })
			g.Go(func() error { return l.publish(gctx, em) })
		}
	}

	l.run(ctx)

	// The render loop only returns once the player is destroyed.
	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("background task failed", "error", err)
	}

	st := player.Stats()
	slog.Info("videosurface-play stopped",
		"starts", st.Starts,
		"restarts", st.Restarts,
		"frames", st.FramesAvailable,
	)
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if c.IsSet("source") {
		cfg.Source = c.String("source")
	}
	if c.IsSet("width") {
		cfg.Target.Width = c.Int("width")
	}
	if c.IsSet("height") {
		cfg.Target.Height = c.Int("height")
	}
	if c.Bool("no-audio") {
		off := false
		cfg.PlayAudio = &off
	}
	if c.Bool("debug") {
		cfg.Log.Level = "debug"
	}
	if broker := os.Getenv("VIDEOSURFACE_MQTT_BROKER"); broker != "" {
		cfg.MQTT.Broker = broker
		cfg.MQTT.Enabled = true
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("no source: use --source or set source in the configuration")
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Format
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func resolveSource(ctx context.Context, cfg config.S3Config, source string) (string, error) {
	r := &mediafs.Resolver{CacheDir: cfg.CacheDir}
	if strings.HasPrefix(source, "s3://") {
		client, err := mediafs.NewS3Client(cfg.Region)
		if err != nil {
			return "", err
		}
		r.Client = client
	}
	return r.Resolve(ctx, source)
}
