package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const lifecycleScopeName = "github.com/atomist/sdm-pack-lifecycle-bitbucket/lifecycle"

// Instruments records render passes and command executions. The zero value
// is not usable; call NewInstruments. With telemetry disabled every call
// goes to the no-op providers installed by Init.
type Instruments struct {
	tracer      trace.Tracer
	passes      metric.Int64Counter
	actions     metric.Int64Counter
	readErrors  metric.Int64Counter
	commands    metric.Int64Counter
	commandErrs metric.Int64Counter
	dur         metric.Float64Histogram
}

// NewInstruments creates the lifecycle counters on the global meter.
func NewInstruments() *Instruments {
	m := Meter(lifecycleScopeName)
	passes, _ := m.Int64Counter("bbl.render.passes",
		metric.WithDescription("Render passes executed"),
	)
	actions, _ := m.Int64Counter("bbl.render.actions",
		metric.WithDescription("Actions offered by contributors"),
	)
	readErrors, _ := m.Int64Counter("bbl.render.read_errors",
		metric.WithDescription("Secondary reads that failed and suppressed an action"),
	)
	commands, _ := m.Int64Counter("bbl.commands",
		metric.WithDescription("Commands executed"),
	)
	commandErrs, _ := m.Int64Counter("bbl.commands.errors",
		metric.WithDescription("Commands that failed"),
	)
	dur, _ := m.Float64Histogram("bbl.render.duration",
		metric.WithDescription("Render pass duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Instruments{
		tracer:      Tracer(lifecycleScopeName),
		passes:      passes,
		actions:     actions,
		readErrors:  readErrors,
		commands:    commands,
		commandErrs: commandErrs,
		dur:         dur,
	}
}

// Pass is an in-flight render pass span.
type Pass struct {
	in    *Instruments
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

// StartPass opens a span for rendering one node in one pass.
func (in *Instruments) StartPass(ctx context.Context, kind, pass string) (context.Context, *Pass) {
	attrs := []attribute.KeyValue{
		attribute.String("bbl.node.kind", kind),
		attribute.String("bbl.render.pass", pass),
	}
	ctx, span := in.tracer.Start(ctx, "render."+pass, trace.WithAttributes(attrs...))
	in.passes.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, &Pass{in: in, span: span, start: time.Now(), attrs: attrs}
}

// Contributed counts the actions one contributor offered.
func (p *Pass) Contributed(ctx context.Context, contributor string, n int) {
	if n == 0 {
		return
	}
	attrs := append([]attribute.KeyValue{attribute.String("bbl.contributor", contributor)}, p.attrs...)
	p.in.actions.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

// End closes the span and records its duration.
func (p *Pass) End(ctx context.Context, err error) {
	p.in.dur.Record(ctx, float64(time.Since(p.start).Milliseconds()), metric.WithAttributes(p.attrs...))
	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, err.Error())
	}
	p.span.End()
}

// ReadFailed counts a failed secondary read.
func (in *Instruments) ReadFailed(ctx context.Context, source string) {
	in.readErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("bbl.read.source", source)))
}

// CommandDone counts an executed command and, when err is set, its failure.
func (in *Instruments) CommandDone(ctx context.Context, command string, err error) {
	attrs := metric.WithAttributes(attribute.String("bbl.command", command))
	in.commands.Add(ctx, 1, attrs)
	if err != nil {
		in.commandErrs.Add(ctx, 1, attrs)
	}
}
