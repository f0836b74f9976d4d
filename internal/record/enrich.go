package record

import (
	"strings"
	"time"
)

const (
	keyPrefix           = "conv_"
	conversationBaseURL = "https://chatgpt.com/c/"
	defaultSource       = "chatgpt"
)

// Enrich fills in the derived fields a bare analysis record may be missing:
// the conversation URL (derived from the key, conv_ prefix stripped), the
// analysis timestamp and the provenance tag. Existing values are left alone.
func Enrich(r Record, now time.Time) {
	if r.String(FieldConversationURL) == "" {
		if url := DeriveURL(r.Key()); url != "" {
			r[FieldConversationURL] = url
		}
	}
	if r.String(FieldAnalysisDate) == "" {
		r[FieldAnalysisDate] = now.UTC().Format(time.RFC3339)
	}
	if r.String(FieldSource) == "" {
		r[FieldSource] = defaultSource
	}
}

func DeriveURL(key string) string {
	if key == "" {
		return ""
	}
	return conversationBaseURL + strings.TrimPrefix(key, keyPrefix)
}
