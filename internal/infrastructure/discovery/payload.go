package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"CompetitorScanner/internal/domain"
)

// PayloadKind tags the shape of the upstream "data" field.
type PayloadKind int

const (
	PayloadObject PayloadKind = iota
	PayloadStringEncoded
	PayloadUnrecognized
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadObject:
		return "object"
	case PayloadStringEncoded:
		return "string-encoded object"
	default:
		return "unrecognized"
	}
}

// Page is one decoded discovery response.
type Page struct {
	Kind       PayloadKind
	Users      []domain.RawRecord
	NextCursor string
	HasMore    bool
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type dataObject struct {
	Users      []json.RawMessage `json:"users"`
	NextCursor json.RawMessage   `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

// DecodePage parses a response body in two stages: the envelope first, then
// the data field either as an object or as a JSON string holding an object.
func DecodePage(body []byte) (Page, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{Kind: PayloadUnrecognized}, fmt.Errorf("%w: envelope: %v", domain.ErrDiscoveryMalformed, err)
	}

	data := bytes.TrimSpace(env.Data)
	kind := classify(data)
	switch kind {
	case PayloadObject:
	case PayloadStringEncoded:
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return Page{Kind: kind}, fmt.Errorf("%w: data string: %v", domain.ErrDiscoveryMalformed, err)
		}
		data = bytes.TrimSpace([]byte(inner))
		if classify(data) != PayloadObject {
			return Page{Kind: kind}, fmt.Errorf("%w: data string holds %s", domain.ErrDiscoveryMalformed, shapeOf(data))
		}
	default:
		return Page{Kind: kind}, fmt.Errorf("%w: data is %s", domain.ErrDiscoveryMalformed, shapeOf(data))
	}

	var obj dataObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return Page{Kind: kind}, fmt.Errorf("%w: data object: %v", domain.ErrDiscoveryMalformed, err)
	}

	page := Page{
		Kind:       kind,
		Users:      make([]domain.RawRecord, 0, len(obj.Users)),
		NextCursor: cursorString(obj.NextCursor),
	}
	for _, raw := range obj.Users {
		page.Users = append(page.Users, decodeRecord(raw))
	}
	if obj.HasMore != nil {
		page.HasMore = *obj.HasMore
	} else {
		page.HasMore = page.NextCursor != ""
	}
	return page, nil
}

func classify(data []byte) PayloadKind {
	if len(data) == 0 {
		return PayloadUnrecognized
	}
	switch data[0] {
	case '{':
		return PayloadObject
	case '"':
		return PayloadStringEncoded
	default:
		return PayloadUnrecognized
	}
}

func shapeOf(data []byte) string {
	if len(data) == 0 {
		return "missing"
	}
	switch data[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// decodeRecord keeps numbers as json.Number so the normalizer can tell
// numeric fields from garbage. Non-object entries become empty records and
// are rejected downstream.
func decodeRecord(raw json.RawMessage) domain.RawRecord {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec domain.RawRecord
	if err := dec.Decode(&rec); err != nil || rec == nil {
		return domain.RawRecord{}
	}
	return rec
}

func cursorString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
