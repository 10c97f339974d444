package privacy

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// rawFieldKey wraps a payload cell that was plain text rather than a JSON
// object, so free text still flows through classification and the sweep.
const rawFieldKey = "__raw__"

// Field is one key/value pair of a record payload. Values are string,
// json.Number, bool, nil, or json.RawMessage for nested structures kept
// verbatim.
type Field struct {
	Key   string
	Value any
}

// FieldMap is an insertion-ordered field collection. A plain map would
// shuffle keys on re-marshal; redacted output must mirror the input's field
// order.
type FieldMap struct {
	fields []Field
	index  map[string]int
}

// NewFieldMap returns an empty ordered field map.
func NewFieldMap() *FieldMap {
	return &FieldMap{index: make(map[string]int)}
}

// Len returns the number of fields.
func (m *FieldMap) Len() int {
	return len(m.fields)
}

// Items returns the fields in insertion order. The slice is shared: callers
// iterate, they do not mutate.
func (m *FieldMap) Items() []Field {
	return m.fields
}

// Get returns the value stored under key.
func (m *FieldMap) Get(key string) (any, bool) {
	if i, ok := m.index[key]; ok {
		return m.fields[i].Value, true
	}
	return nil, false
}

// Set appends a new field or replaces an existing one in place, keeping its
// position.
func (m *FieldMap) Set(key string, value any) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.fields[i].Value = value
		return
	}
	m.index[key] = len(m.fields)
	m.fields = append(m.fields, Field{Key: key, Value: value})
}

// UnmarshalJSON decodes a JSON object preserving field order. Numbers keep
// their literal text, nested objects and arrays stay raw, and a repeated key
// keeps its first position with the last value, like ordinary map decoding.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("payload is not a JSON object")
	}

	m.fields = m.fields[:0]
	if m.index == nil {
		m.index = make(map[string]int)
	} else {
		clear(m.index)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("payload has a non-string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		m.Set(key, decodeScalar(raw))
	}

	// Closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// decodeScalar interprets one raw JSON value. Objects and arrays stay raw so
// they re-emit byte-identical; numbers keep their original literal.
func decodeScalar(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return json.RawMessage(trimmed)
		}
		return s
	case '{', '[':
		return json.RawMessage(trimmed)
	case 't':
		return true
	case 'f':
		return false
	case 'n':
		return nil
	default:
		return json.Number(string(trimmed))
	}
}

// EncodeJSON renders the fields in insertion order, with ": " and ", "
// separators and without HTML escaping. Output paths that promise byte
// fidelity for untouched payloads must call this directly: encoding/json
// compacts and re-escapes the bytes a MarshalJSON returns.
func (m *FieldMap) EncodeJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range m.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := writeJSONString(&b, f.Key); err != nil {
			return nil, err
		}
		b.WriteString(": ")
		if err := writeJSONValue(&b, f.Value); err != nil {
			return nil, err
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// MarshalJSON lets a FieldMap embed in larger structures; the encoder
// compacts the spacing but the field order survives.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	return m.EncodeJSON()
}

func writeJSONValue(b *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		return writeJSONString(b, t)
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(t.String())
	case json.RawMessage:
		b.Write(t)
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(enc)
	}
	return nil
}

// writeJSONString escapes s without the HTML-safe replacements json.Marshal
// applies, keeping <, > and & literal.
func writeJSONString(b *bytes.Buffer, s string) error {
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	b.Truncate(b.Len() - 1)
	return nil
}

// DecodePayload parses one row's payload cell. The recovery ladder: strict
// JSON first; then a single-quote repair for quasi-JSON exports; then, when
// the text does not even pretend to be structured, the whole cell becomes a
// single __raw__ field. Structured-looking text that survives neither parse
// is a row error, as is a top-level value that is not an object. Error
// messages never include payload content.
func DecodePayload(raw string) (*FieldMap, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty payload")
	}

	switch trimmed[0] {
	case '{':
		m := NewFieldMap()
		if err := json.Unmarshal([]byte(trimmed), m); err == nil {
			return m, nil
		}
		repaired := strings.ReplaceAll(trimmed, "'", `"`)
		m = NewFieldMap()
		if err := json.Unmarshal([]byte(repaired), m); err != nil {
			return nil, errors.New("malformed payload object")
		}
		return m, nil
	case '[':
		return nil, errors.New("payload is not a JSON object")
	default:
		m := NewFieldMap()
		m.Set(rawFieldKey, raw)
		return m, nil
	}
}
