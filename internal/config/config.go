// Package config loads nav-assist-mcp settings.
//
// Settings come from three layers, later layers winning:
//
//  1. built-in defaults (Default)
//  2. an optional YAML file named by NAV_CONFIG
//  3. environment variables, including any set by a .env file in the
//     working directory
//
// Every setting can be given by environment variable alone; the YAML file
// is a convenience for camera directories and broker settings that rarely
// change.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
	"github.com/ironsheep/nav-assist-mcp/internal/speech"
)

// Config is the complete server configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	OCR      OCRConfig      `yaml:"ocr"`
	Detector DetectorConfig `yaml:"detector"`
	Loop     LoopConfig     `yaml:"loop"`
	Speech   SpeechConfig   `yaml:"speech"`
	Camera   CameraConfig   `yaml:"camera"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Sentry   SentryConfig   `yaml:"sentry"`
}

// OCRConfig configures sign reading.
type OCRConfig struct {
	Language         string        `yaml:"language"`
	TessdataPrefix   string        `yaml:"tessdata_prefix"`
	Preprocess       bool          `yaml:"preprocess"`
	CropToSign       bool          `yaml:"crop_to_sign"`
	RecognizeTimeout time.Duration `yaml:"recognize_timeout"`
}

// DetectorConfig points at the object-detection model server. An empty URL
// disables obstacle mode.
type DetectorConfig struct {
	URL           string  `yaml:"url"`
	MinConfidence float64 `yaml:"min_confidence"`
	JPEGQuality   int     `yaml:"jpeg_quality"`
}

// LoopConfig tunes the detection loop.
type LoopConfig struct {
	Interval      time.Duration `yaml:"interval"`
	DetectTimeout time.Duration `yaml:"detect_timeout"`
	ErrorBackoff  time.Duration `yaml:"error_backoff"`
}

// SpeechConfig selects the speaker. An empty Command logs utterances
// instead of speaking them.
type SpeechConfig struct {
	Command        string        `yaml:"command"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// CameraConfig maps camera facings to frame directories.
type CameraConfig struct {
	FrontDir     string        `yaml:"front_dir"`
	RearDir      string        `yaml:"rear_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// OverlayConfig sets the box colors of the rendered overlay as "#RRGGBB".
// Empty values keep the built-in red and amber.
type OverlayConfig struct {
	CenterColor string `yaml:"center_color"`
	SideColor   string `yaml:"side_color"`
}

// MQTTConfig configures alert publishing. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

const defaultPollInterval = time.Second

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		OCR: OCRConfig{
			Language:         "eng",
			Preprocess:       true,
			CropToSign:       true,
			RecognizeTimeout: 10 * time.Second,
		},
		Detector: DetectorConfig{
			JPEGQuality: 80,
		},
		Loop: LoopConfig{
			Interval:      detect.DefaultInterval,
			DetectTimeout: detect.DefaultDetectTimeout,
			ErrorBackoff:  detect.DefaultErrorBackoff,
		},
		Speech: SpeechConfig{
			DebounceWindow: speech.DefaultWindow,
		},
		Camera: CameraConfig{
			PollInterval: defaultPollInterval,
		},
		MQTT: MQTTConfig{
			Topic:    "nav-assist/alerts",
			ClientID: "nav-assist-mcp",
		},
		Sentry: SentryConfig{
			Environment: "development",
		},
	}
}

// Load builds the configuration from defaults, the NAV_CONFIG YAML file and
// the environment. A .env file in the working directory is read first; it
// never overrides variables that are already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("NAV_CONFIG"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	dur := func(key string, cur time.Duration) time.Duration {
		v, err := getenvDuration(key, cur)
		errs = append(errs, err)
		return v
	}
	boolean := func(key string, cur bool) bool {
		v, err := getenvBool(key, cur)
		errs = append(errs, err)
		return v
	}

	cfg.LogLevel = getenv("NAV_LOG_LEVEL", cfg.LogLevel)

	cfg.OCR.Language = getenv("NAV_OCR_LANG", cfg.OCR.Language)
	cfg.OCR.TessdataPrefix = getenv("NAV_TESSDATA_PREFIX", cfg.OCR.TessdataPrefix)
	cfg.OCR.Preprocess = boolean("NAV_OCR_PREPROCESS", cfg.OCR.Preprocess)
	cfg.OCR.CropToSign = boolean("NAV_OCR_CROP", cfg.OCR.CropToSign)
	cfg.OCR.RecognizeTimeout = dur("NAV_RECOGNIZE_TIMEOUT", cfg.OCR.RecognizeTimeout)

	cfg.Detector.URL = getenv("NAV_DETECTOR_URL", cfg.Detector.URL)
	if v, ok := os.LookupEnv("NAV_DETECTOR_MIN_CONFIDENCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("NAV_DETECTOR_MIN_CONFIDENCE: %w", err))
		} else {
			cfg.Detector.MinConfidence = f
		}
	}
	if v, ok := os.LookupEnv("NAV_DETECTOR_JPEG_QUALITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("NAV_DETECTOR_JPEG_QUALITY: %w", err))
		} else {
			cfg.Detector.JPEGQuality = n
		}
	}

	cfg.Loop.Interval = dur("NAV_FRAME_INTERVAL", cfg.Loop.Interval)
	cfg.Loop.DetectTimeout = dur("NAV_DETECT_TIMEOUT", cfg.Loop.DetectTimeout)
	cfg.Loop.ErrorBackoff = dur("NAV_ERROR_BACKOFF", cfg.Loop.ErrorBackoff)

	cfg.Speech.Command = getenv("NAV_SPEECH_COMMAND", cfg.Speech.Command)
	cfg.Speech.DebounceWindow = dur("NAV_DEBOUNCE_WINDOW", cfg.Speech.DebounceWindow)

	cfg.Camera.FrontDir = getenv("NAV_CAMERA_FRONT_DIR", cfg.Camera.FrontDir)
	cfg.Camera.RearDir = getenv("NAV_CAMERA_REAR_DIR", cfg.Camera.RearDir)
	cfg.Camera.PollInterval = dur("NAV_CAMERA_POLL", cfg.Camera.PollInterval)

	cfg.Overlay.CenterColor = getenv("NAV_OVERLAY_CENTER_COLOR", cfg.Overlay.CenterColor)
	cfg.Overlay.SideColor = getenv("NAV_OVERLAY_SIDE_COLOR", cfg.Overlay.SideColor)

	cfg.MQTT.Broker = getenv("NAV_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Topic = getenv("NAV_MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.ClientID = getenv("NAV_MQTT_CLIENT_ID", cfg.MQTT.ClientID)

	cfg.Sentry.DSN = getenv("NAV_SENTRY_DSN", cfg.Sentry.DSN)
	cfg.Sentry.Environment = getenv("NAV_SENTRY_ENV", cfg.Sentry.Environment)

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// SpeechArgs splits Speech.Command into a program and its arguments.
func (c *Config) SpeechArgs() (name string, args []string) {
	fields := strings.Fields(c.Speech.Command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
