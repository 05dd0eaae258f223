package loader

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tailscale/hujson"
)

// parseJSONC accepts JSON with comments and trailing commas.
func parseJSONC(source string, data []byte) (map[string]any, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var serr *json.SyntaxError
		if errors.As(err, &serr) {
			perr.Line, perr.Column = position(data, serr.Offset)
		}
		return nil, perr
	}

	var config map[string]any
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.UseNumber()
	if err := dec.Decode(&config); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var serr *json.SyntaxError
		if errors.As(err, &serr) {
			perr.Line, perr.Column = position(std, serr.Offset)
		}
		return nil, perr
	}
	return config, nil
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	head := data[:offset]
	line := bytes.Count(head, []byte("\n")) + 1
	col := len(head) - bytes.LastIndexByte(head, '\n')
	return line, col
}
