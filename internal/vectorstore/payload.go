package vectorstore

import (
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// timeFormat is how timestamps are stored in Qdrant payloads. RFC 3339 with
// sub-second precision is what the datetime payload index expects.
const timeFormat = time.RFC3339Nano

// encodePayload serializes a memory payload into Qdrant payload values.
// Text falls back to the record text so search hits always carry it.
func encodePayload(record memory.Record) map[string]*qdrant.Value {
	p := record.Payload
	text := p.Text
	if text == "" {
		text = record.Text
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	values := map[string]*qdrant.Value{
		"org_id":     stringValue(p.OrgID),
		"agent_id":   stringValue(p.AgentID),
		"user_id":    stringValue(p.UserID),
		"scope":      stringValue(p.Scope),
		"tags":       listValue(p.Tags),
		"ttl_days":   intValue(int64(p.TTLDays)),
		"created_at": stringValue(p.CreatedAt.UTC().Format(timeFormat)),
		"updated_at": stringValue(updatedAt.UTC().Format(timeFormat)),
		"deleted":    boolValue(p.Deleted),
		"text":       stringValue(text),
	}
	if p.Source != "" {
		values["source"] = stringValue(p.Source)
	}
	if p.DedupeHash != "" {
		values["dedupe_hash"] = stringValue(p.DedupeHash)
	}
	return values
}

// decodePayload reconstructs a memory payload from Qdrant payload values.
// Unknown fields are ignored; missing fields keep zero values.
func decodePayload(values map[string]*qdrant.Value) memory.Payload {
	p := memory.Payload{
		OrgID:      getString(values, "org_id"),
		AgentID:    getString(values, "agent_id"),
		UserID:     getString(values, "user_id"),
		Scope:      getString(values, "scope"),
		Tags:       getStringList(values, "tags"),
		Source:     getString(values, "source"),
		Deleted:    getBool(values, "deleted"),
		Text:       getString(values, "text"),
		DedupeHash: getString(values, "dedupe_hash"),
	}
	if ttl := getInt(values, "ttl_days"); ttl > 0 {
		p.TTLDays = int(ttl)
	}
	p.CreatedAt = getTime(values, "created_at")
	p.UpdatedAt = getTime(values, "updated_at")
	return p
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func boolValue(b bool) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: b}}
}

func listValue(items []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(items))
	for i, item := range items {
		values[i] = stringValue(item)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{
		ListValue: &qdrant.ListValue{Values: values},
	}}
}

func getString(values map[string]*qdrant.Value, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

func getBool(values map[string]*qdrant.Value, key string) bool {
	if v, ok := values[key]; ok {
		if b, ok := v.Kind.(*qdrant.Value_BoolValue); ok {
			return b.BoolValue
		}
	}
	return false
}

func getInt(values map[string]*qdrant.Value, key string) int64 {
	if v, ok := values[key]; ok {
		if i, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return i.IntegerValue
		}
	}
	return 0
}

func getStringList(values map[string]*qdrant.Value, key string) []string {
	v, ok := values[key]
	if !ok {
		return nil
	}
	list, ok := v.Kind.(*qdrant.Value_ListValue)
	if !ok || list.ListValue == nil {
		return nil
	}
	items := make([]string, 0, len(list.ListValue.Values))
	for _, item := range list.ListValue.Values {
		if s, ok := item.Kind.(*qdrant.Value_StringValue); ok {
			items = append(items, s.StringValue)
		}
	}
	return items
}

func getTime(values map[string]*qdrant.Value, key string) time.Time {
	raw := getString(values, key)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeFormat, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}
