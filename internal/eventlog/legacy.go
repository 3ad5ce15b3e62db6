package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

var errNoEvents = errors.New("no event list found")

// decode accepts the canonical schema as well as the two older shapes that
// were written side by side: objects holding an "events", "entries" or
// "history" list, or a bare list, whose entries name time, type and payload
// with varying keys.
func decode(data []byte) (*Log, error) {
	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &head); err == nil && head.SchemaVersion >= SchemaVersion {
		var l Log
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, err
		}
		for i := range l.Events {
			l.Events[i].Timestamp = l.Events[i].Timestamp.UTC().Truncate(time.Second)
		}
		return &l, nil
	}
	return decodeLegacy(data)
}

func decodeLegacy(data []byte) (*Log, error) {
	trimmed := bytes.TrimSpace(data)
	var rawEntries []json.RawMessage
	l := &Log{}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rawEntries); err != nil {
			return nil, err
		}
	} else {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		found := false
		for _, key := range []string{"events", "entries", "history", "log"} {
			if raw, ok := doc[key]; ok {
				if err := json.Unmarshal(raw, &rawEntries); err != nil {
					return nil, err
				}
				found = true
				break
			}
		}
		if !found {
			return nil, errNoEvents
		}
		l.SubjectID = firstString(doc, "subject_id", "subject")
		if ts, ok := parseTime(firstString(doc, "created_at", "created")); ok {
			l.CreatedAt = ts
		}
	}

	for _, raw := range rawEntries {
		ev, ok := decodeLegacyEvent(raw)
		if ok {
			l.Events = append(l.Events, ev)
		}
	}
	sortEvents(l.Events)
	if l.CreatedAt.IsZero() && len(l.Events) > 0 {
		l.CreatedAt = l.Events[0].Timestamp
	}
	if len(l.Events) > 0 {
		l.UpdatedAt = l.Events[len(l.Events)-1].Timestamp
	}
	return l, nil
}

func decodeLegacyEvent(raw json.RawMessage) (Event, bool) {
	var entry map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Event{}, false
	}
	ts, ok := parseTime(firstString(entry, "timestamp", "time", "date", "created_at"))
	if !ok {
		return Event{}, false
	}
	kind := normalizeType(firstString(entry, "type", "action", "event", "stage"))
	if kind == "" {
		return Event{}, false
	}

	var payload json.RawMessage
	for _, key := range []string{"payload", "details", "data"} {
		if p, ok := entry[key]; ok {
			payload = p
			break
		}
	}
	if payload == nil {
		rest := make(map[string]json.RawMessage)
		for k, v := range entry {
			switch k {
			case "timestamp", "time", "date", "created_at", "type", "action", "event", "stage":
				continue
			}
			rest[k] = v
		}
		if len(rest) > 0 {
			payload, _ = json.Marshal(rest)
		}
	}
	return Event{Timestamp: ts, Type: kind, Payload: compact(payload)}, true
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTime reads RFC 3339 and the zone-less ISO forms; zone-less values are UTC.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Truncate(time.Second), true
		}
	}
	return time.Time{}, false
}

func normalizeType(s string) Type {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "pars"):
		return TypeParse
	case strings.Contains(s, "merg"):
		return TypeMerge
	case strings.Contains(s, "clean"):
		return TypeClean
	default:
		return Type(s)
	}
}

func compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// mergeLogs folds legacy events into current, ordered by timestamp with exact
// duplicates dropped. current may be nil.
func mergeLogs(current, legacy *Log) *Log {
	if current == nil {
		out := *legacy
		out.MigratedFrom = nil
		out.Events = dedupe(append([]Event(nil), legacy.Events...))
		return &out
	}
	events := append(append([]Event(nil), current.Events...), legacy.Events...)
	sortEvents(events)
	out := *current
	out.Events = dedupe(events)
	if !legacy.CreatedAt.IsZero() && (out.CreatedAt.IsZero() || legacy.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = legacy.CreatedAt
	}
	if out.SubjectID == "" {
		out.SubjectID = legacy.SubjectID
	}
	return &out
}

func dedupe(events []Event) []Event {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	for _, ev := range events {
		key := ev.Timestamp.Format(time.RFC3339) + "|" + string(ev.Type) + "|" + string(compact(ev.Payload))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ev)
	}
	return out
}
