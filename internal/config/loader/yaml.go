package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

func parseYAML(source string, data []byte) (map[string]any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	if doc.Kind == 0 {
		// Empty document.
		return map[string]any{}, nil
	}

	var config map[string]any
	if err := doc.Decode(&config); err != nil {
		line, col := 0, 0
		if len(doc.Content) > 0 {
			line, col = doc.Content[0].Line, doc.Content[0].Column
		}
		return nil, &ParseError{
			Path:    source,
			Line:    line,
			Column:  col,
			Message: fmt.Sprintf("top level must be a mapping: %v", err),
			Err:     err,
		}
	}
	return config, nil
}
