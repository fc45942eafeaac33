package events

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// Attributes is a small string map carried on every event. It encodes to JSON
// with sorted keys so identical events produce identical message bodies.
type Attributes map[string]string

const (
	MaxPairs  = 20
	MaxKeyLen = 64
	MaxValLen = 256
)

// Set stores k=v, silently dropping pairs that would break the limits.
func (a Attributes) Set(k, v string) Attributes {
	if len(a) >= MaxPairs || len(k) == 0 || len(k) > MaxKeyLen {
		return a
	}
	if len(v) > MaxValLen {
		v = v[:MaxValLen]
	}
	a[k] = v
	return a
}

// SetInt stores an integer value.
func (a Attributes) SetInt(k string, v int64) Attributes { return a.Set(k, strconv.FormatInt(v, 10)) }

// MarshalJSON returns a deterministic JSON object with keys sorted.
func (a Attributes) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("{}"), nil
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, k := range keys {
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(a[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
