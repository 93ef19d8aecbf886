// Package xjson is the single JSON import site for wire and storage codecs.
package xjson

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	gjson "github.com/goccy/go-json"
)

// Marshal/Unmarshal wrappers to allow a single import site to switch
// between standard encoding/json and goccy/go-json without touching callers.

func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// UnmarshalNumber decodes data into v keeping JSON numbers as Number so that
// 64-bit integers such as seeds survive a round trip unchanged.
func UnmarshalNumber(data []byte, v any) error {
	dec := gjson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage

// Number is kept compatible with encoding/json's Number type.
type Number = stdjson.Number

// EachField calls fn for every member of the JSON object in data, in
// document order. A null document calls fn zero times.
func EachField(data []byte, fn func(key string, value RawMessage) error) error {
	dec := gjson.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(gjson.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var value RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
