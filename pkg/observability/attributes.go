package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys of node operations.
var (
	AttrTenant    = attribute.Key("dwn.tenant")
	AttrInterface = attribute.Key("dwn.message.interface")
	AttrMethod    = attribute.Key("dwn.message.method")
	AttrStatus    = attribute.Key("dwn.reply.status")
	AttrReason    = attribute.Key("dwn.authz.reason")

	AttrTaskName = attribute.Key("dwn.task.name")
	AttrTaskID   = attribute.Key("dwn.task.id")
)

// MessageOperation returns the metric attributes of processing one message.
// Tenants stay off metrics to bound cardinality; put them on spans only.
func MessageOperation(iface, method string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInterface.String(iface),
		AttrMethod.String(method),
	}
}

// TaskOperation returns the metric attributes of a task execution.
func TaskOperation(name string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrTaskName.String(name)}
}

// SetSpanAttributes annotates the current span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
