package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spherical/table-extractor/internal/domain"
)

var (
	// ErrNoJSONArray is returned when a reply holds no '[' ... ']' span.
	ErrNoJSONArray = errors.New("no JSON array found in model reply")
	// ErrNotRowObject is returned when an array element is not a JSON object.
	ErrNotRowObject = errors.New("array element is not a JSON object")
)

// ParseRows extracts the row array from a model reply. The reply is cut from
// the first '[' to the last ']', so prose or code fences around the array are
// ignored. Every element must be an object; one bad element rejects the page.
// Numbers are kept as json.Number.
func ParseRows(text string) ([]domain.Row, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start == -1 || end == -1 || end < start {
		return nil, ErrNoJSONArray
	}

	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	var elems []json.RawMessage
	if err := dec.Decode(&elems); err != nil {
		return nil, fmt.Errorf("decode row array: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode row array: unexpected data after array")
	}

	rows := make([]domain.Row, 0, len(elems))
	for i, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 || elem[0] != '{' {
			return nil, fmt.Errorf("element %d: %w", i, ErrNotRowObject)
		}

		rowDec := json.NewDecoder(bytes.NewReader(elem))
		rowDec.UseNumber()
		var row domain.Row
		if err := rowDec.Decode(&row); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}
