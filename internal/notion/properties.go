package notion

import (
	"fmt"
	"time"

	"github.com/convoflow/convosync/internal/record"
)

// Hard limits imposed by the store; writes that exceed them are rejected.
const (
	maxLabelLen   = 100
	maxTextLen    = 2000
	maxTagEntries = 100

	// Insight-style fields carry sentence-length entries and get a tighter cap.
	maxInsightEntries = 50
)

const (
	PropConversationID = "Conversation ID"
	PropTitle          = "Title"
	PropSummary        = "Summary"
	PropURL            = "URL"
	PropAnalysisDate   = "Analysis Date"
	PropMessageCount   = "Message Count"
	PropSentiment      = "Sentiment"
	PropModel          = "Model"
	PropSource         = "Source"
	PropTopics         = "Topics"
	PropTags           = "Tags"
	PropKeyInsights    = "Key Insights"
	PropActionItems    = "Action Items"
)

type TextContent struct {
	Content string `json:"content"`
}

type RichText struct {
	Text TextContent `json:"text"`
}

type Date struct {
	Start string `json:"start"`
}

type SelectOption struct {
	Name string `json:"name"`
}

type PropertyValue struct {
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	URL         string         `json:"url,omitempty"`
	Date        *Date          `json:"date,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
}

type Properties map[string]PropertyValue

func TitleProperty(text string) PropertyValue {
	return PropertyValue{Title: []RichText{{Text: TextContent{Content: truncateText(text)}}}}
}

func RichTextProperty(text string) PropertyValue {
	return PropertyValue{RichText: []RichText{{Text: TextContent{Content: truncateText(text)}}}}
}

func URLProperty(url string) PropertyValue {
	return PropertyValue{URL: url}
}

func DateProperty(start string) PropertyValue {
	return PropertyValue{Date: &Date{Start: start}}
}

func NumberProperty(n float64) PropertyValue {
	return PropertyValue{Number: &n}
}

func SelectProperty(name string) PropertyValue {
	return PropertyValue{Select: &SelectOption{Name: truncateLabel(name)}}
}

func MultiSelectProperty(values []string, maxEntries int) PropertyValue {
	options := make([]SelectOption, 0, len(values))
	for _, v := range values {
		label := truncateLabel(v)
		if label == "" {
			continue
		}
		options = append(options, SelectOption{Name: label})
		if len(options) == maxEntries {
			break
		}
	}
	return PropertyValue{MultiSelect: options}
}

// BuildProperties maps a normalized record onto the destination property
// set. Only fields the record actually carries become properties; the
// conversation key is mandatory and becomes the title property.
func BuildProperties(rec record.Record) (Properties, error) {
	key := rec.Key()
	if key == "" {
		return nil, fmt.Errorf("missing conversation key")
	}

	props := Properties{
		PropConversationID: TitleProperty(key),
	}
	if v := rec.String(record.FieldTitle); v != "" {
		props[PropTitle] = RichTextProperty(v)
	}
	if v := rec.String(record.FieldSummary); v != "" {
		props[PropSummary] = RichTextProperty(v)
	}
	if v := rec.String(record.FieldConversationURL); v != "" {
		props[PropURL] = URLProperty(v)
	}
	if v := formatDate(rec.String(record.FieldAnalysisDate)); v != "" {
		props[PropAnalysisDate] = DateProperty(v)
	}
	if n, ok := rec.Number(record.FieldMessageCount); ok {
		props[PropMessageCount] = NumberProperty(n)
	}
	if v := rec.String(record.FieldSentiment); v != "" {
		props[PropSentiment] = SelectProperty(v)
	}
	if v := rec.String(record.FieldModel); v != "" {
		props[PropModel] = SelectProperty(v)
	}
	if v := rec.String(record.FieldSource); v != "" {
		props[PropSource] = SelectProperty(v)
	}
	if v := rec.Strings(record.FieldTopics); len(v) > 0 {
		props[PropTopics] = MultiSelectProperty(v, maxTagEntries)
	}
	if v := rec.Strings(record.FieldTags); len(v) > 0 {
		props[PropTags] = MultiSelectProperty(v, maxTagEntries)
	}
	if v := rec.Strings(record.FieldKeyInsights); len(v) > 0 {
		props[PropKeyInsights] = MultiSelectProperty(v, maxInsightEntries)
	}
	if v := rec.Strings(record.FieldActionItems); len(v) > 0 {
		props[PropActionItems] = MultiSelectProperty(v, maxInsightEntries)
	}
	return props, nil
}

func truncateLabel(s string) string {
	return truncateRunes(s, maxLabelLen)
}

func truncateText(s string) string {
	return truncateRunes(s, maxTextLen)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func formatDate(s string) string {
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return s
	}
	return ""
}
