package telemetry

import "go.opentelemetry.io/otel/attribute"

// tagAttrs converts the module's flat "key", "value", "key", "value" ...
// string tag convention into OpenTelemetry attributes, ignoring a trailing
// unpaired tag.
func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
