// Package tracecontext carries a remote-parent span identifier across
// broker hops. Only the propagation contract is normative; this
// package supplies the W3C traceparent byte encoding
// (version(1) || trace_id(16) || span_id(8) || flags(1), no
// separators, empty bytes meaning "no parent") on top of
// go.opentelemetry.io/otel/trace's SpanContext, whose TraceID/SpanID
// already store that exact layout.
//
// Grounded on original_source/src/mycelia/tracing.py's
// TraceContext.to_bytes/from_bytes, and on dshills-langgraph-go's use
// of the OpenTelemetry SDK.
package tracecontext

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/mycelia/mycelia/errors"
)

const (
	traceParentVersion = byte(0)
	encodedLength       = 1 + 16 + 8 + 1 // version + trace id + span id + flags
)

// ToBytes encodes sc as version||trace_id||span_id||flags. An invalid
// (zero) SpanContext encodes as an empty slice, matching "no parent".
func ToBytes(sc trace.SpanContext) []byte {
	if !sc.IsValid() {
		return nil
	}

	out := make([]byte, 0, encodedLength)
	out = append(out, traceParentVersion)
	traceID := sc.TraceID()
	out = append(out, traceID[:]...)
	spanID := sc.SpanID()
	out = append(out, spanID[:]...)
	out = append(out, byte(sc.TraceFlags()))
	return out
}

// FromBytes decodes the wire format produced by ToBytes. Empty input
// decodes to an invalid, zero SpanContext ("no parent").
func FromBytes(data []byte) (trace.SpanContext, error) {
	if len(data) == 0 {
		return trace.SpanContext{}, nil
	}
	if len(data) != encodedLength {
		return trace.SpanContext{}, errors.Newf("tracecontext: expected %d bytes, got %d", encodedLength, len(data))
	}
	if data[0] != traceParentVersion {
		return trace.SpanContext{}, errors.Newf("tracecontext: unsupported traceparent version %d", data[0])
	}

	var traceID trace.TraceID
	copy(traceID[:], data[1:17])
	var spanID trace.SpanID
	copy(spanID[:], data[17:25])
	flags := trace.TraceFlags(data[25])

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), nil
}

// Attach returns a context carrying sc as the remote span context, so a
// subsequently started span is parented to the propagated trace.
func Attach(ctx context.Context, sc trace.SpanContext) context.Context {
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// Current extracts the SpanContext of whatever span is active on ctx
// (remote or local), suitable for encoding before a broker hop.
func Current(ctx context.Context) trace.SpanContext {
	return trace.SpanContextFromContext(ctx)
}
