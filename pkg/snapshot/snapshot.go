// Package snapshot encodes a set of records into its canonical serialised
// form.
//
// Peers only agree on the contents of the set by comparing the content
// addresses of snapshots, so encoding must be deterministic: equal sets must
// always produce byte-identical snapshots.
//
// A snapshot is a JSON object mapping each record key to the record, with
// keys in ascending byte-wise order, such as:
//
//	{"1":{"_id":"1","name":"foo"},"2":{"_id":"2","name":"bar"}}
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/andydunstall/setdb/pkg/record"
)

// DecodeError indicates a snapshot or message could not be decoded.
type DecodeError struct {
	// Source is the kind of payload that failed to decode, either
	// 'snapshot' or 'message'.
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Snapshot is a decoded snapshot, mapping keys to records.
//
// Note the mapping key isn't trusted, the record's own key field is what
// determines its key when merged.
type Snapshot map[string]record.Record

// Records returns the snapshot records in ascending mapping key order.
func (s Snapshot) Records() []record.Record {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return record.Compare(keys[i], keys[j]) < 0
	})

	records := make([]record.Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, s[k])
	}
	return records
}

type Codec struct {
	indexBy string
}

func NewCodec(indexBy string) *Codec {
	if indexBy == "" {
		indexBy = record.DefaultIndexBy
	}
	return &Codec{
		indexBy: indexBy,
	}
}

// Encode returns the canonical snapshot of the given records.
//
// The records don't need to be sorted. If multiple records have the same key
// the first is kept. Returns an error if a record has no key or can't be
// encoded.
func (c *Codec) Encode(records []record.Record) ([]byte, error) {
	type entry struct {
		key    string
		record record.Record
	}

	entries := make([]entry, 0, len(records))
	for i, r := range records {
		key, ok := record.Key(r, c.indexBy)
		if !ok {
			return nil, fmt.Errorf("record %d: missing key: %s", i, c.indexBy)
		}
		entries = append(entries, entry{key: key, record: r})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return record.Compare(entries[i].key, entries[j].key) < 0
	})

	var buf bytes.Buffer
	_ = buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			if entries[i-1].key == e.key {
				continue
			}
			_ = buf.WriteByte(',')
		}

		if err := writeJSON(&buf, e.key); err != nil {
			return nil, fmt.Errorf("encode key: %s: %w", e.key, err)
		}
		_ = buf.WriteByte(':')
		// encoding/json writes map keys in sorted order, so the record
		// fields are also canonical.
		if err := writeJSON(&buf, map[string]any(e.record)); err != nil {
			return nil, fmt.Errorf("encode record: %s: %w", e.key, err)
		}
	}
	_ = buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Decode decodes the given snapshot. Returns a *DecodeError if the snapshot
// is malformed.
func (c *Codec) Decode(b []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &DecodeError{Source: "snapshot", Err: err}
	}
	if raw == nil {
		return nil, &DecodeError{Source: "snapshot", Err: errors.New("not an object")}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Source: "snapshot", Err: errors.New("trailing data")}
	}

	snapshot := make(Snapshot, len(raw))
	for k, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, &DecodeError{
				Source: "snapshot",
				Err:    fmt.Errorf("entry %q: not an object", k),
			}
		}
		snapshot[k] = record.Record(obj)
	}
	return snapshot, nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// json.Encoder adds a trailing newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
