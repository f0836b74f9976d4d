package record

import (
	"strings"
)

const (
	FieldConversationID  = "conversation_id"
	FieldTitle           = "title"
	FieldSummary         = "summary"
	FieldAnalysisDate    = "analysis_date"
	FieldSentiment       = "sentiment"
	FieldModel           = "model"
	FieldMessageCount    = "message_count"
	FieldTopics          = "topics"
	FieldKeyInsights     = "key_insights"
	FieldActionItems     = "action_items"
	FieldTags            = "tags"
	FieldSource          = "source"
	FieldConversationURL = "conversation_url"

	FieldSourceFile = "_source_file"
)

type Record map[string]any

func (r Record) Key() string {
	return strings.TrimSpace(r.String(FieldConversationID))
}

func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func (r Record) Number(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (r Record) SourceFile() string {
	return r.String(FieldSourceFile)
}

func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Export returns a copy with internal bookkeeping fields stripped, suitable
// for outbound payloads.
func (r Record) Export() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}
