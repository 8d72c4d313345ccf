// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package observability

import (
	"context"

	"code.hybscloud.com/streamgw/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys set on exchange spans.
const (
	AttrSession  = attribute.Key("streamgw.session")
	AttrModel    = attribute.Key("streamgw.model")
	AttrStatus   = attribute.Key("http.response.status_code")
	AttrChunked  = attribute.Key("streamgw.chunked")
	AttrChunks   = attribute.Key("streamgw.chunks")
	AttrBodySize = attribute.Key("streamgw.body_bytes")
)

// NewTracer returns the global provider's tracer when tracing is
// enabled and a no-op tracer otherwise. Exporters are installed by
// whoever owns the global provider.
func NewTracer(c config.TracingConfig) trace.Tracer {
	name := c.ServiceName
	if name == "" {
		name = "streamgw"
	}
	if !c.Enabled {
		return noop.NewTracerProvider().Tracer(name)
	}
	return otel.Tracer(name)
}

// StartSpan starts a span on t, or on a no-op tracer when t is nil.
func StartSpan(ctx context.Context, t trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		t = noop.NewTracerProvider().Tracer("streamgw")
	}
	return t.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
