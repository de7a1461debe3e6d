package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultTitle = "Untitled Document"

// dateLayouts are tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// looseString accepts any JSON scalar. Non-string values decode to the empty string
// so a stray number or boolean is treated as an absent field.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		*s = ""
		return nil
	}
	*s = looseString(str)
	return nil
}

// nameList accepts a single name or a list of names
type nameList []string

func (n *nameList) UnmarshalJSON(data []byte) error {
	var one looseString
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		var many []looseString
		if err := json.Unmarshal(data, &many); err != nil {
			return fmt.Errorf("decoding owner list: %w", err)
		}
		names := make(nameList, 0, len(many))
		for _, name := range many {
			names = append(names, string(name))
		}
		*n = names
		return nil
	}
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*n = nameList{string(one)}
	return nil
}

// joined returns the trimmed, non-empty names separated by ", "
func (n nameList) joined() string {
	names := make([]string, 0, len(n))
	for _, name := range n {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// rawDocument mirrors one object of the model reply. Prompts have used different
// key names over time, so both spellings are accepted.
type rawDocument struct {
	Title       looseString `json:"title"`
	Date        looseString `json:"date"`
	Category    looseString `json:"category"`
	Type        looseString `json:"type"`
	SubCategory looseString `json:"subCategory"`
	SubType     looseString `json:"subType"`
	Owner       nameList    `json:"owner"`
	Owners      nameList    `json:"owners"`
}

func (d rawDocument) candidate(now time.Time) Candidate {
	title := strings.TrimSpace(string(d.Title))
	if title == "" {
		title = defaultTitle
	}

	categoryValue := string(d.Category)
	if strings.TrimSpace(categoryValue) == "" {
		categoryValue = string(d.Type)
	}
	category, impliedSub := ParseCategory(categoryValue)

	sub := strings.TrimSpace(string(d.SubCategory))
	if sub == "" {
		sub = strings.TrimSpace(string(d.SubType))
	}
	if sub == "" {
		sub = impliedSub
	}

	owner := d.Owners.joined()
	if owner == "" {
		owner = d.Owner.joined()
	}

	return Candidate{
		Title:         title,
		OccurredAt:    repairDate(string(d.Date), now),
		Category:      category,
		SubCategory:   sub,
		Owner:         owner,
		MissingFields: []string{},
	}
}

// reply is the decoded model output. Exactly one of single or list is set.
type reply struct {
	single *rawDocument
	list   []rawDocument
}

func (r reply) documents() []rawDocument {
	if r.single != nil {
		return []rawDocument{*r.single}
	}
	return r.list
}

// Normalize turns raw model text into one candidate per logical document, in the
// order the model listed them. now is used for dates the model did not supply.
func Normalize(raw string, now time.Time) ([]Candidate, error) {
	r, err := decodeReply(raw)
	if err != nil {
		return nil, err
	}

	docs := r.documents()
	candidates := make([]Candidate, 0, len(docs))
	for _, doc := range docs {
		candidates = append(candidates, doc.candidate(now))
	}
	return candidates, nil
}

func decodeReply(raw string) (reply, error) {
	text := cleanResponse(raw)
	if text == "" {
		return reply{}, &ResponseShapeError{Raw: raw, Err: errors.New("empty response")}
	}

	switch text[0] {
	case '{':
		var doc rawDocument
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return reply{}, &ResponseShapeError{Raw: raw, Err: fmt.Errorf("unmarshaling json object: %w", err)}
		}
		return reply{single: &doc}, nil
	case '[':
		var docs []rawDocument
		if err := json.Unmarshal([]byte(text), &docs); err != nil {
			return reply{}, &ResponseShapeError{Raw: raw, Err: fmt.Errorf("unmarshaling json array: %w", err)}
		}
		if len(docs) == 0 {
			return reply{}, &ResponseShapeError{Raw: raw, Err: errors.New("no documents in response")}
		}
		return reply{list: docs}, nil
	default:
		return reply{}, &ResponseShapeError{Raw: raw, Err: errors.New("no JSON object or array found in response")}
	}
}

// cleanResponse removes markdown fences and any prose around the outermost JSON
// value. Each '{' or '[' is tried in order and the first span that is valid JSON
// wins, so bracketed prose before the value is skipped. When no span is valid
// the first one is returned for the decoder to report.
func cleanResponse(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	first := ""
	for offset := 0; offset < len(text); {
		idx := strings.IndexAny(text[offset:], "{[")
		if idx == -1 {
			break
		}
		start := offset + idx
		span := jsonSpan(text, start)
		if json.Valid([]byte(span)) {
			return span
		}
		if first == "" {
			first = span
		}
		offset = start + 1
	}

	if first == "" {
		return text
	}
	return first
}

// jsonSpan returns text from start through the last closer matching text[start]
func jsonSpan(text string, start int) string {
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}

// parseDate returns the parsed value in UTC, or false when no layout matches
func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// repairDate never returns an unusable date: absent or unparseable values become now
func repairDate(value string, now time.Time) time.Time {
	if t, ok := parseDate(value); ok {
		return t
	}
	return now.UTC()
}
