package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/iksnae/chatsync/internal/tree"
	"github.com/iksnae/chatsync/testutil"
)

func kyoto() *Transcript {
	return NewTranscript(testutil.NewChat("c1", "Kyoto trip", testutil.BranchingTree(), "a2b"))
}

func TestNewTranscript(t *testing.T) {
	tr := kyoto()
	if len(tr.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(tr.Messages))
	}
	var ids []string
	for _, m := range tr.Messages {
		ids = append(ids, m.ID)
	}
	if got := strings.Join(ids, ","); got != "u1,a1,u2b,a2b" {
		t.Errorf("ids = %s, want u1,a1,u2b,a2b", got)
	}
	if m := tr.Messages[2]; m.Version != 2 || m.Versions != 2 {
		t.Errorf("u2b version = %d/%d, want 2/2", m.Version, m.Versions)
	}
	if m := tr.Messages[0]; m.Version != 0 || m.Versions != 0 {
		t.Errorf("u1 version = %d/%d, want unset", m.Version, m.Versions)
	}
}

func TestNewTranscriptEmptyChat(t *testing.T) {
	tr := NewTranscript(testutil.NewChat("empty", "", tree.MessageBranch{}, ""))
	if tr.Messages == nil || len(tr.Messages) != 0 {
		t.Errorf("Messages = %v, want empty slice", tr.Messages)
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		format  string
		wantExt string
		wantErr bool
	}{
		{format: "jsonl", wantExt: "jsonl"},
		{format: "md", wantExt: "md"},
		{format: "markdown", wantExt: "md"},
		{format: "yaml", wantExt: "yaml"},
		{format: "yml", wantExt: "yaml"},
		{format: "json", wantExt: "json"},
		{format: "xml", wantErr: true},
		{format: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := NewExporter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExporter(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if ext := got.Extension(); ext != tt.wantExt {
				t.Errorf("Extension() = %s, want %s", ext, tt.wantExt)
			}
		})
	}
}

func TestMarkdownExporter_Export(t *testing.T) {
	tr := kyoto()
	tr.Messages[3].Error = "rate limited"
	tr.Messages[1].Thinking = "consider the season"

	var buf bytes.Buffer
	if err := (&MarkdownExporter{}).Export(tr, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# Kyoto trip",
		"**Chat:** c1",
		"**Messages:** 4",
		"**user [2/2] (2024-05-01T12:00:00Z):**",
		"What about food?",
		"Try Nishiki Market for street food.",
		"> **Error:** rate limited",
		"<summary>Thinking</summary>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Kiyomizu") {
		t.Errorf("output contains an inactive branch:\n%s", out)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		notWant []string
	}{
		{name: "basic text", input: "Hello world", want: []string{"Hello world"}},
		{
			name:    "bold",
			input:   "This is **bold** text",
			want:    []string{"\\*\\*bold\\*\\*"},
			notWant: []string{" **bold**"},
		},
		{
			name:    "underline",
			input:   "This is __underlined__ text",
			want:    []string{"\\_\\_underlined\\_\\_"},
			notWant: []string{" __underlined__"},
		},
		{
			name:  "code block preserved",
			input: "```go\nx := a**b\n```",
			want:  []string{"```go", "x := a**b", "```"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := escapeMarkdown(tt.input)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("escapeMarkdown() should contain %q, got: %s", w, got)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("escapeMarkdown() should not contain %q, got: %s", nw, got)
				}
			}
		})
	}
}

func TestJSONExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(kyoto(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var got Transcript
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got.ID != "c1" || len(got.Messages) != 4 {
		t.Errorf("got id %s with %d messages", got.ID, len(got.Messages))
	}
}

func TestJSONLExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONLExporter{}).Export(kyoto(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if first["role"] != "user" || first["chat"] != "c1" || first["id"] != "u1" {
		t.Errorf("line 0 = %v", first)
	}
	if _, ok := first["error"]; ok {
		t.Errorf("error key present without an error")
	}

	buf.Reset()
	empty := NewTranscript(testutil.NewChat("e", "", tree.MessageBranch{}, ""))
	if err := (&JSONLExporter{}).Export(empty, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty transcript wrote %q", buf.String())
	}
}

func TestYAMLExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLExporter{}).Export(kyoto(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var got Transcript
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if got.Title != "Kyoto trip" || got.Messages[3].Content != "Try Nishiki Market for street food." {
		t.Errorf("got %+v", got)
	}
	if !strings.Contains(buf.String(), "created_at:") {
		t.Errorf("yaml keys not snake_case:\n%s", buf.String())
	}
}
