package cache

import (
	"net/url"
	"sort"
	"strings"

	"github.com/Naeem401/sport-server/internal/model"
)

// BuildKey encodes (topic, params) into a deterministic cache key.
// Parameters are sorted by name before encoding, so semantically identical
// requests with differently-ordered parameters collide to the same key.
// Names and values are escaped so a value containing the separator bytes
// cannot alias a different parameter set.
func BuildKey(topic model.Topic, params map[string]string) string {
	if len(params) == 0 {
		return topic.String()
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(topic.String())
	for _, name := range names {
		b.WriteByte('?')
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[name]))
	}
	return b.String()
}
