package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicString(t *testing.T) {
	assert.Equal(t, "football", NewTopic("football").String())
	assert.Equal(t, "football:42", NewEventTopic("football", "42").String())
}

func TestParseTopicRoundTrip(t *testing.T) {
	for _, topic := range []Topic{
		NewTopic("football"),
		NewEventTopic("tennis", "9"),
		NewEventTopic("basketball", "abc-123"),
	} {
		assert.Equal(t, topic, ParseTopic(topic.String()))
	}
}

func TestTopicIsEvent(t *testing.T) {
	assert.False(t, NewTopic("football").IsEvent())
	assert.True(t, NewEventTopic("football", "42").IsEvent())
}

func TestRecordID(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   string
	}{
		{"string id", Record{"id": "42"}, "42"},
		{"event_key", Record{"event_key": "e-77"}, "e-77"},
		{"match_id", Record{"match_id": "m9"}, "m9"},
		{"id wins over event_key", Record{"id": "1", "event_key": "2"}, "1"},
		{"numeric id", Record{"id": float64(1553)}, "1553"},
		{"int id", Record{"id": 7}, "7"},
		{"empty string id skipped", Record{"id": "", "event_key": "k"}, "k"},
		{"no identifier", Record{"name": "derby"}, ""},
		{"nil record", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.ID())
		})
	}
}

func TestRecordIDFromDecodedJSON(t *testing.T) {
	// JSON numbers decode as float64; the id must come back as the
	// original integer text
	var record Record
	require.NoError(t, json.Unmarshal([]byte(`{"event_key": 1126546, "event_status": "Finished"}`), &record))
	assert.Equal(t, "1126546", record.ID())
}

func TestUpdateJSONShape(t *testing.T) {
	update := Update{
		Topic:   "football",
		Records: []Record{{"id": "1"}},
	}

	data, err := json.Marshal(update)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "football", decoded["topic"])
	assert.Contains(t, decoded, "records")
	assert.Contains(t, decoded, "updated_at")
}
