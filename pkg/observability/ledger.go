package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Ledger attribute keys.
var (
	AttrTxID      = attribute.Key("ledger.tx.id")
	AttrIntent    = attribute.Key("ledger.tx.intent")
	AttrParty     = attribute.Key("ledger.party")
	AttrState     = attribute.Key("ledger.flow.state")
	AttrErrorKind = attribute.Key("ledger.error.kind")
)

// FlowOperation returns the attributes of a flow run by party.
func FlowOperation(party, intent string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrParty.String(party),
		AttrIntent.String(intent),
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
