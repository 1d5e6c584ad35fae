// Package telemetry provides OpenTelemetry setup and semantic conventions for the gateway.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for gateway telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrAction labels the protocol action (search, select, ...).
	AttrAction = attribute.Key("protocol.action")
	// AttrParticipant identifies the network participant a call was made to or received from.
	AttrParticipant = attribute.Key("participant")
	// AttrOutcome records the dispatch outcome kind (ack, nack, transport_failure, circuit_open).
	AttrOutcome = attribute.Key("dispatch.outcome")
	// AttrBreakerState records a circuit breaker state (closed, open, half-open).
	AttrBreakerState = attribute.Key("breaker.state")
	// AttrOperation differentiates specific operations (lookup, append, poll, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrErrorType categorizes failures by error code.
	AttrErrorType = attribute.Key("error.type")
	// AttrBackend names the correlation store backend.
	AttrBackend = attribute.Key("store.backend")
)

// Result values shared across instruments.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// DispatchAttributes returns attributes for participant dispatch metrics.
func DispatchAttributes(environment, action, participant, outcome string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrAction.String(action),
		AttrParticipant.String(participant),
	}
	if outcome != "" {
		attrs = append(attrs, AttrOutcome.String(outcome))
	}
	return attrs
}

// BreakerAttributes returns attributes for circuit breaker transitions.
func BreakerAttributes(environment, participant, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrParticipant.String(participant),
		AttrBreakerState.String(state),
	}
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, operation, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrErrorType.String(errorType),
	}
}
