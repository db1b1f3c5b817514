package notes

import (
	"strings"

	"github.com/tidwall/gjson"
)

// TagsKind names the encoding a tag column arrived in.
type TagsKind int

const (
	// TagsUnknown covers nulls, numbers and anything else that cannot carry tags.
	TagsUnknown TagsKind = iota
	// TagsStructured is a native or JSON-encoded array of strings.
	TagsStructured
	// TagsDelimited is a comma separated literal list.
	TagsDelimited
)

// TagsRaw is the classified tag payload handed to DecodeTags.
type TagsRaw struct {
	Kind   TagsKind
	Values []string
	Text   string
}

// ClassifyTags inspects an indexer value and decides which encoding it uses.
// Strings are tried as JSON arrays first and fall back to the delimited form.
func ClassifyTags(value gjson.Result) TagsRaw {
	switch {
	case value.IsArray():
		return TagsRaw{Kind: TagsStructured, Values: stringElements(value)}
	case value.Type == gjson.String:
		text := value.String()
		if gjson.Valid(text) {
			parsed := gjson.Parse(text)
			if parsed.IsArray() {
				return TagsRaw{Kind: TagsStructured, Values: stringElements(parsed)}
			}
		}
		return TagsRaw{Kind: TagsDelimited, Text: text}
	default:
		return TagsRaw{Kind: TagsUnknown}
	}
}

// DecodeTags turns a classified payload into an ordered list of non-empty, trimmed tags.
func DecodeTags(raw TagsRaw) []string {
	switch raw.Kind {
	case TagsStructured:
		return compactTags(raw.Values)
	case TagsDelimited:
		return compactTags(strings.Split(raw.Text, ","))
	default:
		return []string{}
	}
}

func stringElements(value gjson.Result) []string {
	elements := value.Array()
	values := make([]string, 0, len(elements))
	for _, element := range elements {
		if element.Type != gjson.String {
			continue
		}
		values = append(values, element.String())
	}
	return values
}

func compactTags(values []string) []string {
	tags := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		tags = append(tags, trimmed)
	}
	return tags
}
