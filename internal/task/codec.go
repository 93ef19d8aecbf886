package task

import (
	"fmt"

	"github.com/vk/comfygrid/internal/xjson"
)

// Encode serializes a record for byte-oriented backends.
func Encode(r *Record) ([]byte, error) {
	return xjson.Marshal(r)
}

// Decode parses a record written by Encode.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := xjson.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode task record: %w", err)
	}
	if r.ID == "" || !r.Status.Valid() {
		return nil, fmt.Errorf("decode task record: incomplete record %q", r.ID)
	}
	return &r, nil
}
