package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Topic identifies a unit of subscription, scheduling and cache
// partitioning: a sport alone, or a sport plus one event id for
// event-level granularity.
type Topic struct {
	Sport   string
	EventID string
}

// NewTopic creates a sport-level topic.
func NewTopic(sport string) Topic {
	return Topic{Sport: sport}
}

// NewEventTopic creates an event-level sub-topic.
func NewEventTopic(sport, eventID string) Topic {
	return Topic{Sport: sport, EventID: eventID}
}

// String encodes the topic as "sport" or "sport:eventID". The encoding is
// a pure function of the two fields.
func (t Topic) String() string {
	if t.EventID == "" {
		return t.Sport
	}
	return t.Sport + ":" + t.EventID
}

// IsEvent reports whether the topic targets a single event.
func (t Topic) IsEvent() bool {
	return t.EventID != ""
}

// ParseTopic decodes a topic string produced by Topic.String.
func ParseTopic(s string) Topic {
	sport, eventID, found := strings.Cut(s, ":")
	if !found {
		return Topic{Sport: sport}
	}
	return Topic{Sport: sport, EventID: eventID}
}

// Record is one upstream data item. Payloads pass through untouched; only
// the identifier is ever inspected, for event-level fan-out.
type Record map[string]any

// identifier fields recognized across upstream shapes, in priority order
var idFields = []string{"id", "event_key", "match_id"}

// ID returns the record's identifier as a string, or "" when the record
// carries none.
func (r Record) ID() string {
	for _, field := range idFields {
		v, ok := r[field]
		if !ok {
			continue
		}
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			// JSON numbers decode as float64; ids are integral
			if id == math.Trunc(id) {
				return strconv.FormatInt(int64(id), 10)
			}
			return strconv.FormatFloat(id, 'f', -1, 64)
		case int:
			return strconv.Itoa(id)
		}
	}
	return ""
}

// Update is the envelope broadcast to subscribers after a successful fetch.
type Update struct {
	Topic     string    `json:"topic"`
	Records   []Record  `json:"records"`
	UpdatedAt time.Time `json:"updated_at"`
}
