//go:build minimaltoml

package callers

// Builds tagged minimaltoml drop the go-toml dependency and decode the
// allow-list with the restricted line scanner instead.
func decodeTOML(data []byte) (map[string]any, error) {
	return ParseSimple(string(data))
}
