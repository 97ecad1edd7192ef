package core

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
)

// RecordEntry is one line of the record log (spec §4.1, §6): the delay that
// was scheduled and the JSON-encoded event that fired. Only
// Event.Deterministic() == true events are ever appended.
type RecordEntry struct {
	DelaySeconds float64         `json:"delay_seconds"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
}

// RecordWriter appends one JSON object per recorded delayed event, in
// delivery order (spec §6 "Record log"). It wraps any io.Writer so the host
// can point it at a per-node record.log file without this package knowing
// about filesystem layout (persistence of the log is explicitly out of
// scope per spec.md §1; only the event contract is specified here).
type RecordWriter struct {
	enc *json.Encoder
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{enc: json.NewEncoder(w)}
}

func (w *RecordWriter) Append(delay time.Duration, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "could not marshal event for record log")
	}
	entry := RecordEntry{DelaySeconds: delay.Seconds(), Kind: e.Kind(), Payload: payload}
	if err := w.enc.Encode(entry); err != nil {
		return errors.Wrap(err, "could not append record entry")
	}
	return nil
}

// RecordReader reads RecordEntry lines back in order for replay mode. The
// Replayer executor decodes a generic RecordEntry here; translating the raw
// payload back into a concrete Event is the caller's responsibility (it
// requires a Kind->Decoder table such as node.Decoders), since this
// package cannot know which application message types are embedded.
type RecordReader struct {
	scanner *bufio.Scanner
}

func NewRecordReader(r io.Reader) *RecordReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &RecordReader{scanner: s}
}

// Next returns the next recorded entry, or io.EOF when the log is exhausted.
func (r *RecordReader) Next() (RecordEntry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return RecordEntry{}, errors.Wrap(err, "could not read record log")
		}
		return RecordEntry{}, io.EOF
	}
	var entry RecordEntry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return RecordEntry{}, errors.Wrap(err, "could not decode record entry")
	}
	return entry, nil
}
