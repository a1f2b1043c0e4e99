package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal/bus"
	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
)

func TestFormatWhen(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "—"},
		{"today", now.Add(-2 * time.Hour), "Today 10:00"},
		{"this week", now.Add(-72 * time.Hour), "Wed 12:00"},
		{"this year", now.Add(-30 * 24 * time.Hour), "May 16 12:00"},
		{"old", now.AddDate(-2, 0, 0), "2022-06-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatWhen(tt.t, now); got != tt.want {
				t.Errorf("formatWhen() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortIDAndTruncate(t *testing.T) {
	if got := shortID("0123456789"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
	if got := truncate("hello world", 8); got != "hello..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("hi", 8); got != "hi" {
		t.Errorf("truncate = %q", got)
	}
}

func TestParsePairs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    [][2]string
		wantErr bool
	}{
		{"single", []string{"model=gpt-4o"}, [][2]string{{"model", "gpt-4o"}}, false},
		{"value with equals", []string{"system_prompt=a=b"}, [][2]string{{"system_prompt", "a=b"}}, false},
		{"empty value clears", []string{"temperature="}, [][2]string{{"temperature", ""}}, false},
		{"missing equals", []string{"model"}, nil, true},
		{"missing key", []string{"=x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePairs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePairs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) || got[0] != tt.want[0] {
				t.Errorf("parsePairs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	orig := &settings.Overrides{
		ModelID:      "m1",
		LMParameters: &settings.LMParameters{Temperature: settings.Float(0.5)},
	}

	next, err := applyOverrides(orig, [][2]string{
		{"temperature", "0.9"},
		{"system_prompt", "Be brief."},
		{"prompt_behavior", "append"},
	})
	if err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}
	if *orig.LMParameters.Temperature != 0.5 {
		t.Error("applyOverrides changed its input")
	}
	if next.ModelID != "m1" || *next.LMParameters.Temperature != 0.9 {
		t.Errorf("next = %+v", next)
	}
	if next.SystemPrompt == nil || next.SystemPrompt.Content != "Be brief." || next.SystemPrompt.Behavior != settings.BehaviorAppend {
		t.Errorf("system prompt = %+v", next.SystemPrompt)
	}

	cleared, err := applyOverrides(next, [][2]string{{"temperature", ""}, {"system_prompt", ""}})
	if err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}
	if cleared.LMParameters != nil || cleared.SystemPrompt != nil {
		t.Errorf("cleared = %+v", cleared)
	}

	for _, bad := range [][2]string{{"prompt_behavior", "shout"}, {"auto_title", "true"}, {"max_tokens", "lots"}, {"colour", "red"}} {
		if _, err := applyOverrides(nil, [][2]string{bad}); err == nil {
			t.Errorf("applyOverrides(%v) should fail", bad)
		}
	}
}

func TestApplyGlobal(t *testing.T) {
	g := settings.Default()
	if err := applyGlobal(&g, "auto_title", "false"); err != nil {
		t.Fatal(err)
	}
	if err := applyGlobal(&g, "stop", "END, STOP"); err != nil {
		t.Fatal(err)
	}
	if g.AutoTitle || len(g.LMParameters.Stop) != 2 || g.LMParameters.Stop[1] != "STOP" {
		t.Errorf("global = %+v", g)
	}
	if err := applyGlobal(&g, "auto_title", "maybe"); err == nil {
		t.Error("bad bool should fail")
	}
}

func chatItem(id, title string) store.SidebarItem {
	return store.SidebarItem{Type: store.ItemChat, ID: id, Chat: &store.ChatMeta{ID: id, Title: title}}
}

func TestWatcherDiffs(t *testing.T) {
	var buf bytes.Buffer
	w := &watcher{out: &buf, now: func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }}

	w.sidebar([]store.SidebarItem{chatItem("chat-a", "Alpha"), chatItem("chat-b", "Beta")})
	w.sidebar([]store.SidebarItem{chatItem("chat-a", "Alpha 2"), chatItem("chat-c", "Gamma")})
	w.tasks([]string{"chat-a"})
	w.tasks([]string{"chat-a"})
	w.tasks(nil)

	want := []string{
		"09:30:00 watching 2 chat(s)",
		"09:30:00 ~ chat-a Alpha → Alpha 2",
		"09:30:00 + chat-c Gamma",
		"09:30:00 - chat-b Beta",
		"09:30:00 generating: chat-a",
		"09:30:00 generating: none",
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(got), len(want), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWatcherChat(t *testing.T) {
	var buf bytes.Buffer
	w := &watcher{out: &buf, now: time.Now}

	now := time.Now()
	u := tree.NewNode(tree.RoleUser, "hi", now)
	a := tree.NewNode(tree.RoleAssistant, "hel", now)
	tree.AppendChild(&u.Replies, a)
	chat := &store.Chat{ChatContent: store.ChatContent{CurrentLeafID: a.ID}}
	tree.AppendChild(&chat.Root, u)

	w.chat(chat)
	w.chat(chat)
	a.Content = "hello"
	w.chat(chat)
	w.chat(nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[1], "hello") || !strings.HasSuffix(lines[2], "chat closed") {
		t.Errorf("lines = %q", lines)
	}
}

func TestServeHub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHub(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	peer, err := bus.DialWebSocket(context.Background(), url)
	if err != nil {
		cancel()
		t.Fatalf("dial hub: %v", err)
	}
	defer peer.Close()

	deadline := time.Now().Add(2 * time.Second)
	var health struct {
		Status string `json:"status"`
		Peers  int    `json:"peers"`
	}
	for {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			t.Fatalf("healthz: %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&health)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatalf("healthz body: %v", err)
		}
		if health.Peers == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if health.Status != "ok" || health.Peers != 1 {
		t.Errorf("health = %+v", health)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serveHub returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveHub did not stop")
	}
	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Error("peer still connected after shutdown")
	}
}
