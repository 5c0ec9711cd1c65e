package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "nsqconn"

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled      bool           `yaml:"enabled"`
	OTLPEndpoint string         `yaml:"otlp_endpoint"`
	Insecure     bool           `yaml:"insecure"`
	SampleRatio  float64        `yaml:"sample_ratio"`
	Resource     ResourceConfig `yaml:"resource"`
}

type ResourceConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	// BrokerAddr is filled from the connection settings, not from the file.
	BrokerAddr string `yaml:"-"`
}

type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

var (
	metricsEnabled int32
	tracingEnabled int32

	mu            sync.RWMutex
	defaultTracer trace.Tracer

	registry      *prometheus.Registry
	commandsTotal *prometheus.CounterVec
	framesTotal   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	readyCount    *prometheus.GaugeVec
	inFlight      *prometheus.GaugeVec
)

func MetricsEnabled() bool {
	return atomic.LoadInt32(&metricsEnabled) == 1
}

func TracingEnabled() bool {
	return atomic.LoadInt32(&tracingEnabled) == 1
}

func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()

	if defaultTracer != nil {
		return defaultTracer
	}
	return otel.Tracer(instrumentation)
}

// Registry returns the registry metrics are collected in, or nil before
// metrics were enabled.
func Registry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the metrics registry in the Prometheus text format.
func Handler() http.Handler {
	reg := Registry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Init enables the configured collectors. The returned function flushes and
// stops them in reverse order.
func Init(ctx context.Context, cfg Config, l *slog.Logger) (func(context.Context) error, error) {
	shutdownFns := []func(context.Context) error{}

	if cfg.Metrics.Enabled {
		initMetrics()
		atomic.StoreInt32(&metricsEnabled, 1)
		l.Info("metrics enabled")
		shutdownFns = append(shutdownFns, func(context.Context) error {
			atomic.StoreInt32(&metricsEnabled, 0)
			return nil
		})
	}

	if cfg.Tracing.Enabled {
		shutdown, err := initTracing(ctx, cfg.Tracing)
		if err != nil {
			l.Error("init tracing", "err", err)
		} else {
			l.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint)
			shutdownFns = append(shutdownFns, shutdown)
		}
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFns) - 1; i >= 0; i-- {
			if err := shutdownFns[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}

func initMetrics() {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nsqconn_commands_total",
		Help: "Number of commands written to the broker",
	}, []string{"command"})
	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nsqconn_frames_total",
		Help: "Number of frames received from the broker",
	}, []string{"type"})
	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nsqconn_errors_total",
		Help: "Connection-fatal errors by stage",
	}, []string{"stage"})
	readyCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nsqconn_ready_count",
		Help: "Last RDY value sent per connection",
	}, []string{"addr"})
	inFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nsqconn_in_flight",
		Help: "Messages delivered since the last RDY per connection",
	}, []string{"addr"})
	registry.MustRegister(commandsTotal, framesTotal, errorsTotal, readyCount, inFlight)
}

func IncCommand(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

func IncFrame(frameType string) {
	framesTotal.WithLabelValues(frameType).Inc()
}

func IncError(stage string) {
	errorsTotal.WithLabelValues(stage).Inc()
}

func SetReady(addr string, n int64) {
	readyCount.WithLabelValues(addr).Set(float64(n))
}

func SetInFlight(addr string, n int64) {
	inFlight.WithLabelValues(addr).Set(float64(n))
}

func initTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("new otlp exporter: %w", err)
	}

	res, err := newResource(cfg.Resource)
	if err != nil {
		return nil, fmt.Errorf("new resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mu.Lock()
	defaultTracer = tp.Tracer(instrumentation)
	mu.Unlock()

	atomic.StoreInt32(&tracingEnabled, 1)

	return func(ctx context.Context) error {
		atomic.StoreInt32(&tracingEnabled, 0)
		return tp.Shutdown(ctx)
	}, nil
}

// newResource describes the consumer process and the broker it talks to.
func newResource(cfg ResourceConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("messaging.system", "nsq"),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	if cfg.BrokerAddr != "" {
		attrs = append(attrs, attribute.String("server.address", cfg.BrokerAddr))
	}

	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}
