package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// EventType records a normalized webhook event type.
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// EventID records the provider's event identifier.
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

// Gateway records the payment gateway name.
func Gateway(name string) slog.Attr {
	return slog.String("gateway", name)
}

// TransactionID records a gateway transaction identifier.
func TransactionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("transaction_id", id)
}

// SubscriptionID records a local subscription id.
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// ExternalID records a provider-side identifier (subscription, customer).
func ExternalID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("external_id", id)
}

// Resource records a gated resource kind.
func Resource(kind string) slog.Attr {
	return slog.String("resource", kind)
}

// Outcome records how an operation was resolved (applied, duplicate, unresolved).
func Outcome(outcome string) slog.Attr {
	return slog.String("outcome", outcome)
}

func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}
