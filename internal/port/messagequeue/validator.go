package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, SubjectHITLPrefix+".") {
		return nil
	}

	var ev HITLEventPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if ev.RequestID == "" {
		return fmt.Errorf("schema validation failed for %s: missing requestId", subject)
	}
	if want := strings.TrimPrefix(subject, SubjectHITLPrefix+"."); string(ev.Type) != want {
		return fmt.Errorf("schema validation failed for %s: event type %q", subject, ev.Type)
	}
	return nil
}
