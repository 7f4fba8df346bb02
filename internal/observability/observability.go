// Package observability configures the process-wide logger. Plain text and
// JSON handlers write to stderr; the "otel" format bridges slog into an
// OpenTelemetry log pipeline, exporting via OTLP when the standard
// OTEL_EXPORTER_OTLP_* environment is configured and to stdout otherwise.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// provider is the active OTel logger provider, nil unless the otel format is
// in use. Kept for flushing at shutdown.
var provider *sdklog.LoggerProvider

// Instrument installs the process-wide default slog logger.
func Instrument(level slog.Level, format string) error {
	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	case "otel":
		p, err := newLoggerProvider(level)
		if err != nil {
			return fmt.Errorf("building otel log pipeline: %w", err)
		}
		provider = p
		slog.SetDefault(slog.New(otelslog.NewHandler("airvane", otelslog.WithLoggerProvider(p))))
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}

	return nil
}

// Shutdown flushes any buffered log records. Safe to call regardless of the
// configured format.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// newLoggerProvider builds the OTel pipeline: exporter → batch processor →
// severity filter.
func newLoggerProvider(level slog.Level) (*sdklog.LoggerProvider, error) {
	exporter, err := newExporter(context.Background())
	if err != nil {
		return nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

// newExporter picks the exporter from the standard OTel environment. No
// configured endpoint means stdout, so `--log-format otel` is usable without
// a collector.
func newExporter(ctx context.Context) (sdklog.Exporter, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return stdoutlog.New()
	}

	// The OTLP exporters read the endpoint environment themselves; only the
	// protocol choice happens here.
	if os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "grpc" {
		return otlploggrpc.New(ctx)
	}
	return otlploghttp.New(ctx)
}

// severity maps a slog level onto the minimum OTel severity to export.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
