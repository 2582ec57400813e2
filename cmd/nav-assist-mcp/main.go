package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ironsheep/nav-assist-mcp/internal/config"
	"github.com/ironsheep/nav-assist-mcp/internal/detect"
	"github.com/ironsheep/nav-assist-mcp/internal/emitter"
	"github.com/ironsheep/nav-assist-mcp/internal/frames"
	"github.com/ironsheep/nav-assist-mcp/internal/imaging"
	"github.com/ironsheep/nav-assist-mcp/internal/ocr"
	"github.com/ironsheep/nav-assist-mcp/internal/remote"
	"github.com/ironsheep/nav-assist-mcp/internal/server"
	"github.com/ironsheep/nav-assist-mcp/internal/session"
	"github.com/ironsheep/nav-assist-mcp/internal/speech"
	"github.com/ironsheep/nav-assist-mcp/internal/telemetry"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const mqttConnectTimeout = 10 * time.Second

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("nav-assist-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			printHelp()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nav-assist-mcp: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("nav-assist-mcp - MCP server for camera-based navigation assistance")
	fmt.Println()
	fmt.Println("Usage: nav-assist-mcp [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Environment variables (also read from ./.env):")
	fmt.Println("  NAV_CONFIG=path.yaml               Optional YAML settings file")
	fmt.Println("  NAV_LOG_LEVEL=debug                debug, info, warn or error")
	fmt.Println("  NAV_CAMERA_FRONT_DIR=/frames/front Frames for indoor sessions")
	fmt.Println("  NAV_CAMERA_REAR_DIR=/frames/rear   Frames for outdoor sessions")
	fmt.Println("  NAV_DETECTOR_URL=ws://host/detect  Object detector; enables obstacle mode")
	fmt.Println("  NAV_SPEECH_COMMAND=\"espeak-ng\"     Text-to-speech command")
	fmt.Println("  NAV_OCR_LANG=eng                   Tesseract language")
	fmt.Println("  NAV_OVERLAY_CENTER_COLOR=#dc2626   Overlay box color for center hazards")
	fmt.Println("  NAV_MQTT_BROKER=localhost:1883     Publish alerts over MQTT")
	fmt.Println("  NAV_SENTRY_DSN=...                 Report errors to Sentry")
	fmt.Println()
	fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
	fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout is for MCP protocol
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Debug("starting", "version", Version, "build_time", BuildTime, "commit", GitCommit)

	enabled, err := telemetry.Init(telemetry.Options{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     "nav-assist-mcp@" + Version,
	})
	if err != nil {
		logger.Warn("error reporting disabled", "error", err)
	} else if enabled {
		logger.Info("error reporting enabled", "environment", cfg.Sentry.Environment)
		defer telemetry.Flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var detector detect.Detector
	if cfg.Detector.URL != "" {
		client, err := remote.New(remote.Config{
			URL:           cfg.Detector.URL,
			JPEGQuality:   cfg.Detector.JPEGQuality,
			MinConfidence: cfg.Detector.MinConfidence,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("detector: %w", err)
		}
		defer client.Close()
		detector = client
	} else {
		logger.Warn("no detector configured, obstacle mode unavailable")
	}

	speaker, err := newSpeaker(cfg, logger)
	if err != nil {
		return err
	}

	var sink session.EventSink
	if cfg.MQTT.Broker != "" {
		em := emitter.NewMQTT(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		}, logger)
		cctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err := em.Connect(cctx)
		cancel()
		if err != nil {
			// The client keeps retrying; events are dropped until it connects.
			logger.Warn("mqtt broker not reachable yet", "error", err)
		}
		defer em.Disconnect()
		sink = em
	}

	recognizer := &ocr.Tesseract{
		Language:       cfg.OCR.Language,
		TessdataPrefix: cfg.OCR.TessdataPrefix,
		Preprocess:     cfg.OCR.Preprocess,
		CropToSign:     cfg.OCR.CropToSign,
		Logger:         logger,
	}

	palette, err := imaging.NewPalette(cfg.Overlay.CenterColor, cfg.Overlay.SideColor)
	if err != nil {
		return err
	}

	sess, err := session.New(session.Deps{
		Camera:     newCamera(cfg, logger),
		Detector:   detector,
		Recognizer: recognizer,
		Speaker:    speaker,
		Sink:       sink,
		OnError:    telemetry.Reporter{Component: "session", Logger: logger}.Report,
		Logger:     logger,
	}, session.Options{
		Interval:         cfg.Loop.Interval,
		DetectTimeout:    cfg.Loop.DetectTimeout,
		ErrorBackoff:     cfg.Loop.ErrorBackoff,
		DebounceWindow:   cfg.Speech.DebounceWindow,
		RecognizeTimeout: cfg.OCR.RecognizeTimeout,
		Palette:          palette,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	srv := server.New(server.Options{
		Session: sess,
		OCR:     recognizer,
		Report:  telemetry.Reporter{Component: "mcp", Logger: logger}.Report,
		Logger:  logger,
		Version: Version,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			telemetry.CaptureError(err, "mcp", nil)
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	return nil
}

func newSpeaker(cfg *config.Config, logger *slog.Logger) (speech.Speaker, error) {
	if cfg.Speech.Command == "" {
		return speech.LogSpeaker{Logger: logger}, nil
	}
	name, args := cfg.SpeechArgs()
	sp, err := speech.NewCommandSpeaker(name, args, logger)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	return sp, nil
}

func newCamera(cfg *config.Config, logger *slog.Logger) *frames.DirCamera {
	dirs := make(map[frames.Facing]string)
	if cfg.Camera.FrontDir != "" {
		dirs[frames.FacingUser] = cfg.Camera.FrontDir
	}
	if cfg.Camera.RearDir != "" {
		dirs[frames.FacingEnvironment] = cfg.Camera.RearDir
	}
	return &frames.DirCamera{Dirs: dirs, Logger: logger, PollInterval: cfg.Camera.PollInterval}
}
