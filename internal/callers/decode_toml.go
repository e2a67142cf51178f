//go:build !minimaltoml

package callers

import "github.com/pelletier/go-toml/v2"

func decodeTOML(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
