package config

import (
	"fmt"
	"net/url"

	"github.com/ironsheep/nav-assist-mcp/internal/imaging"
)

// Validate checks cfg and fills defaults for optional fields left empty.
func Validate(cfg *Config) error {
	if _, err := cfg.SlogLevel(); err != nil {
		return err
	}

	if cfg.OCR.Language == "" {
		cfg.OCR.Language = "eng"
	}
	if cfg.OCR.RecognizeTimeout <= 0 {
		return fmt.Errorf("ocr.recognize_timeout must be > 0")
	}

	if cfg.Detector.URL != "" {
		u, err := url.Parse(cfg.Detector.URL)
		if err != nil {
			return fmt.Errorf("detector.url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("detector.url must use ws:// or wss://, got %q", cfg.Detector.URL)
		}
	}
	if cfg.Detector.MinConfidence < 0 || cfg.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be within [0, 1]")
	}
	if cfg.Detector.JPEGQuality < 1 || cfg.Detector.JPEGQuality > 100 {
		return fmt.Errorf("detector.jpeg_quality must be within [1, 100]")
	}

	if cfg.Loop.Interval <= 0 {
		return fmt.Errorf("loop.interval must be > 0")
	}
	if cfg.Loop.DetectTimeout <= 0 {
		return fmt.Errorf("loop.detect_timeout must be > 0")
	}
	if cfg.Loop.ErrorBackoff < 0 {
		return fmt.Errorf("loop.error_backoff must be >= 0")
	}

	if cfg.Speech.DebounceWindow <= 0 {
		return fmt.Errorf("speech.debounce_window must be > 0")
	}

	if cfg.Camera.PollInterval <= 0 {
		cfg.Camera.PollInterval = defaultPollInterval
	}

	if _, err := imaging.NewPalette(cfg.Overlay.CenterColor, cfg.Overlay.SideColor); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "nav-assist-mcp"
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	return nil
}
