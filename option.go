package lwproc

import (
	"github.com/lwproc/lwproc/policy"
	"github.com/lwproc/lwproc/progress"
	"github.com/lwproc/lwproc/service/balancer"
	"github.com/lwproc/lwproc/service/event"
	"github.com/lwproc/lwproc/service/executor"
	"github.com/lwproc/lwproc/service/mailbox"
	"github.com/lwproc/lwproc/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises service construction.
type Option func(s *Service)

// WithConfig replaces the whole configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithCores overrides the number of scheduler cores.
func WithCores(cores int) Option {
	return func(s *Service) { s.cores = cores }
}

// WithPolicy sets the migration policy, including a non-serialisable Veto
// hook if desired.  It takes precedence over the policy section of the
// configuration.
func WithPolicy(pol *policy.Policy) Option {
	return func(s *Service) { s.pol = pol }
}

// WithStealStrategy overrides the victim-selection strategy resolved from
// the policy.
func WithStealStrategy(strategy balancer.VictimStrategy) Option {
	return func(s *Service) { s.strategy = strategy }
}

// WithEventService installs a lifecycle event bus; the runtime publishes
// spawn, exit and wake events to it.
func WithEventService(service *event.Service) Option {
	return func(s *Service) { s.events = service }
}

// WithMailboxProvider sets a custom mailbox provider.
func WithMailboxProvider(provider mailbox.Provider) Option {
	return func(s *Service) { s.mailboxes = provider }
}

// WithExecutorOptions lets the caller supply additional options passed to
// executor.NewService (e.g. installing a quantum listener).
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(s *Service) {
		s.executorOptions = append(s.executorOptions, opts...)
	}
}

// WithProgressListener registers a callback invoked after every runtime
// counter update.
func WithProgressListener(cb func(progress.Progress)) Option {
	return func(s *Service) { s.onProgress = cb }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times – the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter. This enables
// integrations with exporters other than the built-in stdout exporter, for example OTLP, Jaeger or
// Zipkin. The function is safe to call multiple times – the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
