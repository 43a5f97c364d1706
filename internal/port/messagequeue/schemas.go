package messagequeue

import "github.com/Strob0t/flowgate/internal/domain/hitl"

// SubjectFor returns the subject an event of the given type is published on.
func SubjectFor(t hitl.EventType) string {
	return SubjectHITLPrefix + "." + string(t)
}

// HITLEventPayload is the schema of every hitl.events.* message.
type HITLEventPayload = hitl.Event
