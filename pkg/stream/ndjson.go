// Package stream reads raw PR records from and writes split results to
// line-delimited JSON.
package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/atomicdiff/prsplit/pkg/split"
)

// maxLineSize bounds one input line. Warehouse exports can carry whole PR
// bodies inline, so this is generous.
const maxLineSize = 16 * 1024 * 1024

// Reader yields raw PR records from an NDJSON stream, skipping blank lines.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r for record-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next record. ok is false at end of stream; err reports an
// underlying read failure. A malformed line decodes to an empty record and is
// left for the orchestrator to skip, never to fail the run.
func (r *Reader) Next() (rec split.RawRecord, ok bool, err error) {
	for r.sc.Scan() {
		line := strings.TrimSpace(r.sc.Text())
		if line == "" {
			continue
		}
		return decodeRecord(line), true, nil
	}
	if err := r.sc.Err(); err != nil {
		return split.RawRecord{}, false, fmt.Errorf("failed to read input: %w", err)
	}
	return split.RawRecord{}, false, nil
}

// decodeRecord pulls the known fields out of one line. Warehouse exports
// carry extra keys and sometimes numeric ids, so field access is lenient
// rather than schema-bound.
func decodeRecord(line string) split.RawRecord {
	rec := split.RawRecord{
		Repo:    gjson.Get(line, "repo").String(),
		DiffURL: gjson.Get(line, "diff_url").String(),
		Body:    gjson.Get(line, "body").String(),
	}
	if id := gjson.Get(line, "pr_id"); id.Exists() {
		rec.PRID = json.RawMessage(id.Raw)
	}
	return rec
}

// Writer emits split results as NDJSON. Skipped records are simply not
// written; the output carries no nulls or placeholders.
type Writer struct {
	bw *bufio.Writer
}

// NewWriter wraps w for result-at-a-time writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Write appends one result line. A nil result is a no-op.
func (w *Writer) Write(res *split.SplitResult) error {
	if res == nil {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result for PR %s: %w", string(res.PRID), err)
	}
	if _, err := w.bw.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// Flush drains buffered output.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}
