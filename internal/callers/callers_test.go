package callers

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

const sampleTOML = `# Gate allow-list
[[callers]]
number = "+1 (707) 555-1111"
name = "Owner"
enabled = true
notes = "primary"

[[callers]]
number = "707-555-2222"   # landline
name = "Neighbour"
enabled = false

[[callers]]
number = "anonymous"
name = "dropped"

[[callers]]
name = "no number"

[[callers]]
number = "+1 707 555 1111"
name = "Duplicate"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "allowed-callers.toml", sampleTOML)

	list, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []AllowedCaller{
		{Number: "+17075551111", Name: "Owner", Enabled: true, Notes: "primary"},
		{Number: "7075552222", Name: "Neighbour", Enabled: false},
		{Number: "+17075551111", Name: "Duplicate", Enabled: true},
	}
	if !reflect.DeepEqual(list, want) {
		t.Errorf("Load = %+v, want %+v", list, want)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "allowed-callers.yaml", `callers:
  - number: "+1 (707) 555-1111"
    name: Owner
  - number: "707-555-2222"
    name: Neighbour
    enabled: false
`)

	list, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d entries, want 2", len(list))
	}
	if list[0].Number != "+17075551111" || !list[0].Enabled {
		t.Errorf("entry 0 = %+v", list[0])
	}
	if list[1].Enabled {
		t.Errorf("entry 1 should be disabled: %+v", list[1])
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		noFile  bool
	}{
		{name: "missing file", file: "absent.toml", noFile: true},
		{name: "no callers key", file: "a.toml", content: "title = \"gate\"\n"},
		{name: "callers not a table list", file: "a.toml", content: "callers = \"x\"\n"},
		{name: "invalid toml", file: "a.toml", content: "[[callers]\nnumber = \"1\"\n"},
		{name: "non boolean enabled", file: "a.toml", content: "[[callers]]\nnumber = \"1\"\nenabled = \"maybe\"\n"},
		{name: "invalid yaml", file: "a.yml", content: "callers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			if tt.noFile {
				path = filepath.Join(t.TempDir(), tt.file)
			} else {
				path = writeFile(t, tt.file, tt.content)
			}

			_, err := Load(path)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Load error = %v, want *ConfigError", err)
			}
			if cfgErr.Path != path {
				t.Errorf("ConfigError.Path = %q, want %q", cfgErr.Path, path)
			}
		})
	}
}

func TestLoad_NoCallersListIsSentinel(t *testing.T) {
	path := writeFile(t, "a.toml", "# empty\n")
	_, err := Load(path)
	if !errors.Is(err, ErrNoCallersList) {
		t.Errorf("Load error = %v, want ErrNoCallersList", err)
	}
}

func TestFind(t *testing.T) {
	list := []AllowedCaller{
		{Number: "+17075552222", Name: "Off", Enabled: false},
		{Number: "+17075551111", Name: "First", Enabled: true},
		{Number: "+17075551111", Name: "Second", Enabled: true},
		{Number: "+17075552222", Name: "On", Enabled: true},
	}

	tests := []struct {
		name     string
		raw      string
		wantName string
		wantOK   bool
	}{
		{name: "formatted caller id", raw: "+1 (707) 555-1111", wantName: "First", wantOK: true},
		{name: "first enabled match wins", raw: "+17075552222", wantName: "On", wantOK: true},
		{name: "national form differs", raw: "7075551111", wantOK: false},
		{name: "blank caller", raw: "", wantOK: false},
		{name: "anonymous", raw: "anonymous", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Find(tt.raw, list)
			if ok != tt.wantOK {
				t.Fatalf("Find(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got.Name != tt.wantName {
				t.Errorf("Find(%q) = %q, want %q", tt.raw, got.Name, tt.wantName)
			}
		})
	}
}

func TestFind_DisabledNeverMatches(t *testing.T) {
	list := []AllowedCaller{{Number: "+15550001111", Enabled: false}}
	if _, ok := Find("+15550001111", list); ok {
		t.Error("disabled entry matched")
	}
}

func TestParseSimple_MatchesTOMLDecoder(t *testing.T) {
	docs := []string{
		sampleTOML,
		"",
		"[[callers]]\nnumber = \"+15550001111\"\n",
		"[[callers]]\nnumber = \"1\" # trailing\nenabled = false # off\nname = \"Quote \\\"Q\\\" Person\"\n",
		"title = \"gate\"\n\n[[callers]]\r\nnumber = \"+1 555\"\r\nnotes = \"\"\r\n",
	}

	for i, doc := range docs {
		simple, err := ParseSimple(doc)
		if err != nil {
			t.Fatalf("doc %d: ParseSimple: %v", i, err)
		}
		var full map[string]any
		if err := toml.Unmarshal([]byte(doc), &full); err != nil {
			t.Fatalf("doc %d: toml.Unmarshal: %v", i, err)
		}

		gotSimple, errSimple := fromDocument(simple)
		gotFull, errFull := fromDocument(full)
		if (errSimple == nil) != (errFull == nil) {
			t.Fatalf("doc %d: error mismatch simple=%v full=%v", i, errSimple, errFull)
		}
		if !reflect.DeepEqual(gotSimple, gotFull) {
			t.Errorf("doc %d: simple = %+v, full = %+v", i, gotSimple, gotFull)
		}
	}
}

func TestParseSimple_MalformedLineFailsLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    string
	}{
		{name: "no equals", content: "[[callers]]\nnumber \"+1555\"\n", line: "line 2"},
		{name: "unquoted number", content: "[[callers]]\nnumber = +1555\n", line: "line 2"},
		{name: "unterminated string", content: "[[callers]]\nname = \"open\n", line: "line 2"},
		{name: "other table", content: "[settings]\nx = true\n", line: "line 1"},
		{name: "duplicate key", content: "[[callers]]\nname = \"a\"\nname = \"b\"\n", line: "line 3"},
		{name: "text after string", content: "[[callers]]\nname = \"a\" b\n", line: "line 2"},
		{name: "capitalised bool", content: "[[callers]]\nenabled = True\n", line: "line 2"},
		{name: "empty value", content: "[[callers]]\nname =\n", line: "line 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSimple(tt.content)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.line) {
				t.Errorf("error %q does not mention %q", err, tt.line)
			}
		})
	}
}

func TestParseSimple_EscapesFollowTOML(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		accept bool
	}{
		{"tab and newline", `"a\tb\nc"`, true},
		{"quote and backslash", `"say \"1\" \\ now"`, true},
		{"short unicode", `"caf\u00e9"`, true},
		{"long unicode", `"\U0001F6AA door"`, true},
		{"hex escape", `"\x41"`, false},
		{"octal escape", `"\101"`, false},
		{"bell escape", `"\a"`, false},
		{"single quote escape", `"\'"`, false},
		{"raw control character", "\"a\x01b\"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "[[callers]]\nnumber = \"+15550001111\"\nnotes = " + tt.value + "\n"

			simple, errSimple := ParseSimple(doc)
			var full map[string]any
			errFull := toml.Unmarshal([]byte(doc), &full)

			if (errSimple == nil) != tt.accept {
				t.Fatalf("ParseSimple error = %v, accept = %v", errSimple, tt.accept)
			}
			if (errFull == nil) != tt.accept {
				t.Fatalf("toml.Unmarshal error = %v, accept = %v", errFull, tt.accept)
			}
			if !tt.accept {
				return
			}
			a, _ := fromDocument(simple)
			b, _ := fromDocument(full)
			if !reflect.DeepEqual(a, b) {
				t.Errorf("simple = %+v, full = %+v", a, b)
			}
		})
	}
}
