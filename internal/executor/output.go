package executor

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

var errOutputLimit = errors.New("output limit exceeded")

// boundedBuffer collects process output up to limit bytes. The first write past
// the limit trips onOverflow and fails, which stops the copy goroutine exec
// runs for non-file writers.
type boundedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int64
	overflowed bool
	onOverflow func()
}

func newBoundedBuffer(limit int64, onOverflow func()) *boundedBuffer {
	return &boundedBuffer{limit: limit, onOverflow: onOverflow}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.overflowed {
		return 0, errOutputLimit
	}
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		b.overflowed = true
		if b.onOverflow != nil {
			b.onOverflow()
		}
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *boundedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

// LocateArray returns the scraper's candidate array from data: the first
// top-level JSON array whose first element is an object. Log noise, empty
// arrays, and arrays of scalars before it are skipped. If that array does not
// decode, the output is malformed; its contents are never searched for another
// array. Output holding no object array is accepted only when an empty array
// stands alone on its own line.
func LocateArray(data []byte) (json.RawMessage, error) {
	for offset := 0; offset < len(data); {
		idx := bytes.IndexByte(data[offset:], '[')
		if idx < 0 {
			break
		}
		start := offset + idx
		raw, err := decodeArrayAt(data, start)
		if objectArrayStart(data[start+1:]) {
			if err != nil {
				return nil, &crawler.MalformedOutputError{Reason: "decode JSON array", Err: err}
			}
			return raw, nil
		}
		if err == nil {
			offset = start + len(raw)
		} else {
			offset = start + 1
		}
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if string(bytes.Join(bytes.Fields(line), nil)) == "[]" {
			return json.RawMessage("[]"), nil
		}
	}
	return nil, &crawler.MalformedOutputError{Reason: "no JSON array of objects found in scraper output"}
}

func decodeArrayAt(data []byte, start int) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// objectArrayStart reports whether rest, the bytes after a '[', opens an
// object after optional whitespace.
func objectArrayStart(rest []byte) bool {
	trimmed := bytes.TrimLeft(rest, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// ParseCandidates locates the candidate array in scraper stdout and decodes its
// elements. Elements that are not candidate-shaped decode to a zero Candidate,
// which ingestion counts as a skip.
func ParseCandidates(stdout []byte) ([]crawler.Candidate, int, error) {
	raw, err := LocateArray(stdout)
	if err != nil {
		return nil, 0, err
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, 0, &crawler.MalformedOutputError{Reason: "decode JSON array", Err: err}
	}
	candidates := make([]crawler.Candidate, 0, len(elems))
	invalid := 0
	for _, elem := range elems {
		var c crawler.Candidate
		if len(elem) == 0 || elem[0] != '{' {
			invalid++
		} else if err := json.Unmarshal(elem, &c); err != nil {
			invalid++
			c = crawler.Candidate{}
		}
		candidates = append(candidates, c)
	}
	return candidates, invalid, nil
}
