package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is a detached copy of the W3C trace headers of a context.
// Work queued for a background goroutine carries one so its spans stay linked
// to the request that produced it.
type TraceContext struct {
	Parent string
	State  string
}

func Capture(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Parent: carrier["traceparent"], State: carrier["tracestate"]}
}

// Attach returns ctx carrying tc as its remote parent span.
func (tc TraceContext) Attach(ctx context.Context) context.Context {
	if tc.Parent == "" && tc.State == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": tc.Parent,
		"tracestate":  tc.State,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
