// Package callers loads the allow-list of phone numbers that may open the
// gate. The list is read from disk on every lookup so edits take effect
// without a restart.
package callers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowpbx/gatebridge/internal/phone"
)

// AllowedCaller is one entry of the allow-list. Number is canonical
// (see phone.Normalize).
type AllowedCaller struct {
	Number  string
	Name    string
	Enabled bool
	Notes   string
}

// ErrNoCallersList is wrapped by ConfigError when the document has no
// top-level callers list of tables.
var ErrNoCallersList = errors.New("allowed callers file must contain [[callers]] entries")

// ConfigError reports an allow-list that is missing, unreadable or
// malformed. Callers must treat it as "deny".
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("loading allowed callers %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads and parses the allow-list at path. Files ending in .yaml or
// .yml are decoded as YAML, everything else as TOML. Entries whose number
// normalizes to empty are dropped.
func Load(path string) ([]AllowedCaller, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	doc, err := decode(path, data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	list, err := fromDocument(doc)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return list, nil
}

func decode(path string, data []byte) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
		return doc, nil
	default:
		doc, err := decodeTOML(data)
		if err != nil {
			return nil, fmt.Errorf("decoding toml: %w", err)
		}
		return doc, nil
	}
}

// fromDocument converts a decoded document into allow-list entries.
func fromDocument(doc map[string]any) ([]AllowedCaller, error) {
	raw, ok := doc["callers"].([]any)
	if !ok {
		return nil, ErrNoCallersList
	}

	list := make([]AllowedCaller, 0, len(raw))
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}

		number := phone.Normalize(stringField(entry["number"]))
		if number == "" {
			continue
		}

		enabled := true
		if v, present := entry["enabled"]; present {
			b, err := boolField(v)
			if err != nil {
				return nil, fmt.Errorf("callers[%d].enabled: %w", i, err)
			}
			enabled = b
		}

		list = append(list, AllowedCaller{
			Number:  number,
			Name:    strings.TrimSpace(stringField(entry["name"])),
			Enabled: enabled,
			Notes:   strings.TrimSpace(stringField(entry["notes"])),
		})
	}
	return list, nil
}

func stringField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func boolField(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("expected boolean, got %q", b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

// Find returns the first enabled entry whose number matches the
// normalized caller ID. Disabled entries and blank caller IDs never match.
func Find(raw string, list []AllowedCaller) (AllowedCaller, bool) {
	number := phone.Normalize(raw)
	if number == "" {
		return AllowedCaller{}, false
	}
	for _, c := range list {
		if c.Enabled && c.Number == number {
			return c, true
		}
	}
	return AllowedCaller{}, false
}
