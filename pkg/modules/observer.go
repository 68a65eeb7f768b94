package modules

import (
	"modloader/pkg/jsurl"

	"go.uber.org/zap"
)

// CompilationObserver is a pure telemetry sink: every method must be
// side-effect-free with respect to registry state and safe for
// concurrent invocation from multiple isolates (spec.md §5, §9).
type CompilationObserver interface {
	OnEsmCompilationStart(specifier jsurl.Url, bundleType Type)
	OnCompileCacheFound()
	OnCompileCacheRejected()
	OnCompileCacheGenerated()
	OnCompileCacheGenerationFailed()
	// OnResolveModule is called once per top-level resolve() attempt
	// (not per-bundle try) and returns a ResolveMetrics the caller uses
	// to report the outcome.
	OnResolveModule(specifier jsurl.Url, t Type, source Source) ResolveMetrics
}

// ResolveMetrics is returned per resolve() attempt so the caller can
// report exactly one of Found or NotFound.
type ResolveMetrics interface {
	Found()
	NotFound()
}

// noopObserver discards everything. Useful for tests that don't care
// about telemetry and as the zero value for registries built without an
// explicit observer.
type noopObserver struct{}

func (noopObserver) OnEsmCompilationStart(jsurl.Url, Type)                {}
func (noopObserver) OnCompileCacheFound()                                {}
func (noopObserver) OnCompileCacheRejected()                             {}
func (noopObserver) OnCompileCacheGenerated()                            {}
func (noopObserver) OnCompileCacheGenerationFailed()                     {}
func (noopObserver) OnResolveModule(jsurl.Url, Type, Source) ResolveMetrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) Found()    {}
func (noopMetrics) NotFound() {}

// NoopObserver returns an observer that discards all events.
func NoopObserver() CompilationObserver { return noopObserver{} }

// isolateScopedObserver is the optional interface an observer can
// implement to have its events tagged with the isolate that produced
// them. IsolateModuleRegistry checks for this and, if present, scopes
// the observer once at attach time rather than threading an isolate ID
// through every CompilationObserver call.
type isolateScopedObserver interface {
	WithIsolateID(id string) CompilationObserver
}

// WithIsolateID returns a copy of z that tags every log line with
// isolate_id, letting multiple simulated isolates share one process's
// logs without their telemetry interleaving unreadably.
func (z *ZapObserver) WithIsolateID(id string) CompilationObserver {
	return &ZapObserver{log: z.log.With(zap.String("isolate_id", id))}
}

// ZapObserver logs compilation and resolution telemetry through a
// structured logger, the way wippyai-wasm-runtime threads a *zap.Logger
// through its engine and runtime packages instead of using fmt/log.
type ZapObserver struct {
	log *zap.Logger
}

// NewZapObserver builds an observer backed by log. A nil logger falls
// back to zap.NewNop().
func NewZapObserver(log *zap.Logger) *ZapObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapObserver{log: log}
}

func (z *ZapObserver) OnEsmCompilationStart(specifier jsurl.Url, bundleType Type) {
	z.log.Debug("esm compile start", zap.String("specifier", specifier.Href()), zap.String("bundle_type", bundleType.String()))
}

func (z *ZapObserver) OnCompileCacheFound() {
	z.log.Debug("compile cache hit")
}

func (z *ZapObserver) OnCompileCacheRejected() {
	z.log.Warn("compile cache rejected by isolate, recompiling")
}

func (z *ZapObserver) OnCompileCacheGenerated() {
	z.log.Debug("compile cache generated")
}

func (z *ZapObserver) OnCompileCacheGenerationFailed() {
	z.log.Warn("compile cache generation failed")
}

func (z *ZapObserver) OnResolveModule(specifier jsurl.Url, t Type, source Source) ResolveMetrics {
	return &zapResolveMetrics{log: z.log, specifier: specifier, t: t}
}

type zapResolveMetrics struct {
	log       *zap.Logger
	specifier jsurl.Url
	t         Type
}

func (m *zapResolveMetrics) Found() {
	m.log.Debug("module resolved", zap.String("specifier", m.specifier.Href()), zap.String("type", m.t.String()))
}

func (m *zapResolveMetrics) NotFound() {
	m.log.Debug("module not found", zap.String("specifier", m.specifier.Href()), zap.String("type", m.t.String()))
}
