package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/psantana5/twrap/pkg/logging"
)

// Sink kinds accepted by NewSink.
const (
	SinkLog         = "log"
	SinkPushgateway = "pushgateway"
	SinkTextfile    = "textfile"
	SinkNone        = "none"
)

// SinkConfig selects and configures a sink.
type SinkConfig struct {
	Kind           string
	PushgatewayURL string
	TextfilePath   string
	Region         string
	Timeout        time.Duration
}

// NewSink builds the sink described by cfg. An empty kind selects the log sink.
func NewSink(cfg SinkConfig, log *logging.Logger) (Sink, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", SinkLog:
		return &LogSink{Log: log}, nil
	case SinkNone:
		return NopSink{}, nil
	case SinkPushgateway:
		if cfg.PushgatewayURL == "" {
			return nil, fmt.Errorf("pushgateway sink requires a url")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return NewPushgatewaySink(cfg.PushgatewayURL, cfg.Region, &http.Client{Timeout: timeout}), nil
	case SinkTextfile:
		if cfg.TextfilePath == "" {
			return nil, fmt.Errorf("textfile sink requires a path")
		}
		return NewTextfileSink(cfg.TextfilePath), nil
	default:
		return nil, fmt.Errorf("unknown metrics sink %q", cfg.Kind)
	}
}

// LogSink writes one log line per metric.
type LogSink struct {
	Log *logging.Logger
}

func (s *LogSink) Put(_ context.Context, namespace string, metrics []Metric) error {
	for _, m := range metrics {
		s.Log.Info("MET: "+m.Name, map[string]interface{}{
			"namespace":  namespace,
			"value":      m.Value,
			"unit":       string(m.Unit),
			"dimensions": m.Dimensions,
			"timestamp":  m.Timestamp.Format(time.RFC3339),
		})
	}
	return nil
}

// NopSink discards metrics.
type NopSink struct{}

func (NopSink) Put(context.Context, string, []Metric) error { return nil }
