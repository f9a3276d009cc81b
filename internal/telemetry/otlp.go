// Package telemetry implements the Telemetry Ingest HTTP endpoint
// (spec.md section 4.F): an OTLP JSON receiver that derives normalized
// key events from codex/claude/cursor instrumentation and forwards them
// to the Session Supervisor.
package telemetry

import (
	"strconv"
	"strings"
)

// The structs below mirror the OTLP 1.x JSON mapping closely enough to
// extract event names, severities, and attributes without depending on
// go.opentelemetry.io/proto/otlp's protobuf-oriented generated types,
// which are built for wire transcoding rather than direct unmarshaling
// of the JSON bodies real exporters send.

type anyValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

func (v anyValue) asString() string {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntValue != nil:
		return *v.IntValue
	case v.DoubleValue != nil:
		return strconv.FormatFloat(*v.DoubleValue, 'f', -1, 64)
	case v.BoolValue != nil:
		return strconv.FormatBool(*v.BoolValue)
	default:
		return ""
	}
}

type keyValue struct {
	Key   string   `json:"key"`
	Value anyValue `json:"value"`
}

func attrString(attrs []keyValue, key string) string {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value.asString()
		}
	}
	return ""
}

type logsRequest struct {
	ResourceLogs []struct {
		ScopeLogs []struct {
			LogRecords []logRecord `json:"logRecords"`
		} `json:"scopeLogs"`
	} `json:"resourceLogs"`
}

type logRecord struct {
	TimeUnixNano         string     `json:"timeUnixNano"`
	ObservedTimeUnixNano string     `json:"observedTimeUnixNano"`
	SeverityText         string     `json:"severityText"`
	Body                 anyValue   `json:"body"`
	Attributes           []keyValue `json:"attributes"`
}

func (r logRecord) observedAtMillis() int64 {
	raw := r.TimeUnixNano
	if raw == "" {
		raw = r.ObservedTimeUnixNano
	}
	nanos, _ := strconv.ParseInt(raw, 10, 64)
	return nanos / int64(1e6)
}

type metricsRequest struct {
	ResourceMetrics []struct {
		ScopeMetrics []struct {
			Metrics []metric `json:"metrics"`
		} `json:"scopeMetrics"`
	} `json:"resourceMetrics"`
}

type metric struct {
	Name  string `json:"name"`
	Gauge *struct {
		DataPoints []dataPoint `json:"dataPoints"`
	} `json:"gauge,omitempty"`
	Sum *struct {
		DataPoints []dataPoint `json:"dataPoints"`
	} `json:"sum,omitempty"`
}

func (m metric) dataPoints() []dataPoint {
	if m.Gauge != nil {
		return m.Gauge.DataPoints
	}
	if m.Sum != nil {
		return m.Sum.DataPoints
	}
	return nil
}

type dataPoint struct {
	TimeUnixNano string     `json:"timeUnixNano"`
	Attributes   []keyValue `json:"attributes"`
}

func (d dataPoint) observedAtMillis() int64 {
	nanos, _ := strconv.ParseInt(d.TimeUnixNano, 10, 64)
	return nanos / int64(1e6)
}

type tracesRequest struct {
	ResourceSpans []struct {
		ScopeSpans []struct {
			Spans []span `json:"spans"`
		} `json:"scopeSpans"`
	} `json:"resourceSpans"`
}

type span struct {
	Name           string     `json:"name"`
	StartTimeUnixNano string  `json:"startTimeUnixNano"`
	EndTimeUnixNano   string  `json:"endTimeUnixNano"`
	Attributes     []keyValue `json:"attributes"`
}

func (s span) observedAtMillis() int64 {
	raw := s.EndTimeUnixNano
	if raw == "" {
		raw = s.StartTimeUnixNano
	}
	nanos, _ := strconv.ParseInt(raw, 10, 64)
	return nanos / int64(1e6)
}

// completionMarkers are substrings that, when found in a codex.sse_event
// summary, indicate a completed turn (spec.md section 4.F).
var completionMarkers = []string{"response.completed"}

func containsCompletionMarker(summary string) bool {
	for _, m := range completionMarkers {
		if strings.Contains(summary, m) {
			return true
		}
	}
	return false
}
