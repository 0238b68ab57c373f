package store

import "encoding/json"

// Timeline is the append-only audit log of a task. Events can be added and
// read but never removed or reordered.
type Timeline struct {
	events []TimelineEvent
}

func NewTimeline(events ...TimelineEvent) Timeline {
	return Timeline{events: append([]TimelineEvent(nil), events...)}
}

func (t *Timeline) Append(event TimelineEvent) {
	t.events = append(t.events, event)
}

func (t Timeline) Len() int {
	return len(t.events)
}

// Events returns a copy of the log in append order.
func (t Timeline) Events() []TimelineEvent {
	out := make([]TimelineEvent, len(t.events))
	copy(out, t.events)
	return out
}

func (t Timeline) Last() (TimelineEvent, bool) {
	if len(t.events) == 0 {
		return TimelineEvent{}, false
	}
	return t.events[len(t.events)-1], true
}

// Count returns how many events of the given type were recorded.
func (t Timeline) Count(eventType string) int {
	n := 0
	for _, event := range t.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func (t Timeline) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Events())
}

func (t *Timeline) UnmarshalJSON(data []byte) error {
	var events []TimelineEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return err
	}
	t.events = events
	return nil
}
