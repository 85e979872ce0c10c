package tracing

import "strconv"

// ToOTLP renders the span as the OTLP-JSON span object expected inside a
// scopeSpans block. An unfinished span reports its start time as end time.
func (s *Span) ToOTLP() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	endTime := s.endTime
	if endTime == 0 {
		endTime = s.startTime
	}

	out := map[string]any{
		"traceId":           s.traceID,
		"spanId":            s.spanID,
		"name":              s.name,
		"kind":              int(categoryKinds[s.category]),
		"startTimeUnixNano": strconv.FormatInt(s.startTime, 10),
		"endTimeUnixNano":   strconv.FormatInt(endTime, 10),
		"attributes":        otlpAttrs(s.attrs),
		"status":            s.otlpStatus(),
	}

	if s.parentSpanID != "" {
		out["parentSpanId"] = s.parentSpanID
	}

	if len(s.events) > 0 {
		events := make([]map[string]any, 0, len(s.events))
		for _, e := range s.events {
			events = append(events, map[string]any{
				"name":         e.Name,
				"timeUnixNano": strconv.FormatInt(e.TimeUnixNano, 10),
				"attributes":   otlpAttrs(e.Attrs),
			})
		}
		out["events"] = events
	}

	return out
}

func (s *Span) otlpStatus() map[string]any {
	status := map[string]any{"code": int(s.status)}
	if s.statusMsg != "" {
		status["message"] = s.statusMsg
	}
	return status
}

func otlpAttrs(attrs []Attr) []map[string]any {
	out := make([]map[string]any, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, map[string]any{
			"key":   a.Key,
			"value": WrapValue(a.Value),
		})
	}
	return out
}

// WrapValue encodes a sanitized attribute value as an OTLP AnyValue object.
// Integers travel as strings per the OTLP-JSON encoding of 64-bit numbers.
func WrapValue(value any) map[string]any {
	switch v := value.(type) {
	case nil:
		return map[string]any{"stringValue": ""}
	case string:
		return map[string]any{"stringValue": v}
	case bool:
		return map[string]any{"boolValue": v}
	case int64:
		return map[string]any{"intValue": strconv.FormatInt(v, 10)}
	case float64:
		return map[string]any{"doubleValue": v}
	case []any:
		values := make([]map[string]any, 0, len(v))
		for _, elem := range v {
			values = append(values, WrapValue(elem))
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	default:
		return map[string]any{"stringValue": stringify(v)}
	}
}
