// Package script parses and validates story scripts: the JSON documents that
// describe a project's shots before any footage is attached.
package script

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errNotObject = errors.New("expected a JSON object")

// Field is one pass-through key of a shot.
type Field struct {
	Key   string
	Value string
}

// Extras holds the shot keys that have no dedicated field, in the order the
// script supplied them.
type Extras []Field

func (e Extras) Get(key string) (string, bool) {
	for _, f := range e {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key in place or appends a new one.
func (e *Extras) Set(key, value string) {
	for i := range *e {
		if (*e)[i].Key == key {
			(*e)[i].Value = value
			return
		}
	}
	*e = append(*e, Field{Key: key, Value: value})
}

func (e *Extras) Delete(key string) {
	var out Extras
	for _, f := range *e {
		if f.Key != key {
			out = append(out, f)
		}
	}
	*e = out
}

func (e Extras) Keys() []string {
	keys := make([]string, len(e))
	for i, f := range e {
		keys[i] = f.Key
	}
	return keys
}

func (e Extras) Clone() Extras {
	if e == nil {
		return nil
	}
	out := make(Extras, len(e))
	copy(out, e)
	return out
}

// Without returns a copy of e minus the named keys.
func (e Extras) Without(keys map[string]bool) Extras {
	var out Extras
	for _, f := range e {
		if !keys[f.Key] {
			out = append(out, f)
		}
	}
	return out
}

// StoryScript is a validated script. It is consumed by the project engine and
// not persisted on its own.
type StoryScript struct {
	Title string       `json:"title"`
	Shots []ScriptShot `json:"shots"`
}

type ScriptShot struct {
	Duration   float64
	Visual     string
	Camera     string
	Transition string
	Dialogue   string
	Extras     Extras
}

// MarshalJSON writes the shot as one flat object, extras after the fixed keys.
func (s ScriptShot) MarshalJSON() ([]byte, error) {
	fields := []KeyValue{
		{"duration", s.Duration},
		{"visual", s.Visual},
		{"camera", s.Camera},
		{"transition", s.Transition},
	}
	if s.Dialogue != "" {
		fields = append(fields, KeyValue{"dialogue", s.Dialogue})
	}
	return MarshalFlat(fields, s.Extras)
}

// KeyValue is a fixed key written ahead of extras by MarshalFlat.
type KeyValue struct {
	Key   string
	Value any
}

// MarshalFlat encodes fixed fields followed by extras as a single JSON object.
// Extras never override a fixed key.
func MarshalFlat(fixed []KeyValue, extras Extras) ([]byte, error) {
	var buf bytes.Buffer
	seen := make(map[string]bool, len(fixed))
	buf.WriteByte('{')
	first := true
	write := func(key string, value any) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}
	for _, f := range fixed {
		seen[f.Key] = true
		if err := write(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	for _, f := range extras {
		if seen[f.Key] {
			continue
		}
		if err := write(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RawField is one key of a JSON object with its undecoded value.
type RawField struct {
	Key   string
	Value json.RawMessage
}

// ObjectFields decodes a JSON object into its fields in document order.
func ObjectFields(data []byte) ([]RawField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}
	var fields []RawField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, RawField{Key: key, Value: value})
	}
	return fields, nil
}

// TextValue returns a string JSON value verbatim and any other value as its
// compact JSON text.
func TextValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
