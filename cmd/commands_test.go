package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/testutil"
)

func TestChatLifecycle(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No chats yet") {
		t.Errorf("empty list output = %q", out)
	}

	out, err = run(t, dir, "new", "--sample")
	if err != nil {
		t.Fatalf("new --sample: %v", err)
	}
	id := createdID(t, out)

	out, err = run(t, dir, "list", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var items []store.SidebarItem
	testutil.JSONUnmarshal(t, []byte(out), &items)
	if len(items) != 1 || items[0].ID != id || items[0].Chat.Title != "Sample: goroutines" {
		t.Errorf("sidebar = %+v", items)
	}

	out, err = run(t, dir, "show", id[:6], "--format", "md")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"# Sample: goroutines", "What is a goroutine?", "How many goroutines can I start?"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "How do goroutines communicate?") {
		t.Errorf("show printed an inactive branch:\n%s", out)
	}

	if _, err := run(t, dir, "rename", id, "Go", "notes"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	out, err = run(t, dir, "search", "goroutine")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "Go notes") || !strings.Contains(out, "1 chat(s)") {
		t.Errorf("search output = %q", out)
	}

	if _, err := run(t, dir, "rm", id); err != nil {
		t.Fatalf("rm: %v", err)
	}
	out, _ = run(t, dir, "list")
	if !strings.Contains(out, "No chats yet") {
		t.Errorf("chat still listed after rm:\n%s", out)
	}
}

func TestUnknownChatPrefix(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, dir, "show", "nope"); err == nil {
		t.Error("show of an unknown chat should fail")
	}
}

func TestSendStreamsEchoAnswer(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "new", "--title", "Echo test")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	id := createdID(t, out)

	out, err = run(t, dir, "send", id, "hello", "there")
	if err != nil {
		t.Fatalf("send: %v\n%s", err, out)
	}
	if !strings.Contains(out, "hello there") {
		t.Errorf("send output = %q", out)
	}

	out, err = run(t, dir, "show", id, "--format", "jsonl")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("want user and assistant lines, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], `"role":"assistant"`) || !strings.Contains(lines[1], "hello there") {
		t.Errorf("assistant line = %s", lines[1])
	}

	out, err = run(t, dir, "abort", id, "--wait", "0s")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if !strings.Contains(out, "No generation running") {
		t.Errorf("abort output = %q", out)
	}
}

func TestGroupAndSettings(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "group", "create", "Work")
	if err != nil {
		t.Fatalf("group create: %v", err)
	}
	groupID := createdID(t, out)

	out, err = run(t, dir, "new", "--title", "Standup", "--group", groupID[:5])
	if err != nil {
		t.Fatalf("new --group: %v", err)
	}
	chatID := createdID(t, out)

	if _, err := run(t, dir, "settings", "set", "--group", groupID, "model=group-model", "temperature=0.2"); err != nil {
		t.Fatalf("settings set --group: %v", err)
	}
	if _, err := run(t, dir, "settings", "set", "--chat", chatID, "temperature=0.9"); err != nil {
		t.Fatalf("settings set --chat: %v", err)
	}

	out, err = run(t, dir, "settings", "show", "--chat", chatID, "--json")
	if err != nil {
		t.Fatalf("settings show: %v", err)
	}
	var r settings.Resolved
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("settings show --json: %v\n%s", err, out)
	}
	if r.ModelID != "group-model" {
		t.Errorf("model = %q, want group-model", r.ModelID)
	}
	if r.LMParameters.Temperature == nil || *r.LMParameters.Temperature != 0.9 {
		t.Errorf("temperature = %v, want 0.9", r.LMParameters.Temperature)
	}

	if _, err := run(t, dir, "settings", "set", "bogus=1"); err == nil {
		t.Error("unknown global setting should fail")
	}

	if _, err := run(t, dir, "group", "move", chatID); err != nil {
		t.Fatalf("group move: %v", err)
	}
	out, _ = run(t, dir, "settings", "show", "--chat", chatID, "--json")
	r = settings.Resolved{}
	_ = json.Unmarshal([]byte(out), &r)
	if r.ModelID == "group-model" {
		t.Error("chat kept group settings after leaving the group")
	}

	if _, err := run(t, dir, "group", "rm", groupID); err != nil {
		t.Fatalf("group rm: %v", err)
	}
	out, _ = run(t, dir, "list")
	if !strings.Contains(out, "Standup") || strings.Contains(out, "Work") {
		t.Errorf("list after group rm:\n%s", out)
	}
}

func TestExportAndImport(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "new", "--sample")
	if err != nil {
		t.Fatalf("new --sample: %v", err)
	}
	id := createdID(t, out)

	exportDir := filepath.Join(t.TempDir(), "exports")
	if _, err := run(t, dir, "export", "--format", "yaml", "--out", exportDir); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportDir, "chat_"+id+".yaml")); err != nil {
		t.Errorf("export file missing: %v", err)
	}

	snap := filepath.Join(t.TempDir(), "snap.json")
	if _, err := run(t, dir, "export", "--snapshot", snap); err != nil {
		t.Fatalf("export --snapshot: %v", err)
	}

	other := t.TempDir()
	out, err = run(t, other, "import", snap)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 1 chat(s)") {
		t.Errorf("import output = %q", out)
	}
	out, _ = run(t, other, "show", id, "--format", "md")
	if !strings.Contains(out, "Sample: goroutines") {
		t.Errorf("imported chat not readable:\n%s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("chats: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, other, "import", bad); err == nil {
		t.Error("import of a broken snapshot should fail")
	}
}

func TestForkAndSelect(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "new", "--sample")
	if err != nil {
		t.Fatalf("new --sample: %v", err)
	}
	id := createdID(t, out)

	out, err = run(t, dir, "show", id, "--format", "json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var tr struct {
		Messages []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(out), &tr); err != nil {
		t.Fatalf("show --format json: %v\n%s", err, out)
	}
	if len(tr.Messages) != 4 {
		t.Fatalf("active path has %d messages", len(tr.Messages))
	}

	// the first answer has two follow-ups; select the other one
	if _, err := run(t, dir, "select", id, tr.Messages[1].ID); err != nil {
		t.Fatalf("select: %v", err)
	}

	out, err = run(t, dir, "fork", id, tr.Messages[1].ID)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if !strings.Contains(out, "Forked into") {
		t.Errorf("fork output = %q", out)
	}
	out, _ = run(t, dir, "list", "--json")
	var items []store.SidebarItem
	_ = json.Unmarshal([]byte(out), &items)
	if len(items) != 2 {
		t.Errorf("want 2 chats after fork, got %d", len(items))
	}
}
