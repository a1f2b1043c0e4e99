package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iksnae/chatsync/internal/bus"
	"github.com/iksnae/chatsync/internal/llm"
	"github.com/iksnae/chatsync/internal/store"
)

var healthcheckVerbose bool

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that chatsync can read its data and reach the hub",
	Long: `Check the health of chatsync by verifying:
  • Configuration loading
  • Storage backend access
  • Sidebar and settings readability
  • Model endpoint configuration
  • Sync hub reachability (when configured)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealthcheck(cmd.Context(), cmd.OutOrStdout())
	},
}

func runHealthcheck(ctx context.Context, out io.Writer) error {
	println := func(a ...interface{}) { _, _ = fmt.Fprintln(out, a...) }
	failed := false

	println(sectionStyle.Render("🔍 chatsync Health Check"))
	println()

	println(infoStyle.Render("Step 1: Configuration..."))
	println(successStyle.Render("✅ Configuration loaded"))
	if healthcheckVerbose {
		println(fmt.Sprintf("   Data dir: %s", cfg.DataDir))
		println(fmt.Sprintf("   Backend: %s", cfg.Backend))
		println(fmt.Sprintf("   Debounce: %s (max %s)", cfg.Debounce, cfg.MaxDebounce))
	}
	println()

	println(infoStyle.Render("Step 2: Opening storage..."))
	docs, err := store.Open(cfg.Backend, cfg.DataDir, nil)
	if err != nil {
		println(errorStyle.Render("❌ Failed to open storage:"), err)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = docs.Close() }()
	println(successStyle.Render(fmt.Sprintf("✅ %s storage opened", docs.Backend().Name())))
	println()

	println(infoStyle.Render("Step 3: Reading data..."))
	items, err := store.LoadSidebar(ctx, docs)
	if err != nil {
		println(errorStyle.Render("❌ Failed to read the sidebar:"), err)
		failed = true
	} else {
		metas, _ := docs.ListChats(ctx)
		println(successStyle.Render(fmt.Sprintf("✅ %d sidebar item(s), %d chat(s)", len(items), len(metas))))
	}
	global, err := docs.LoadSettings(ctx)
	if err != nil {
		println(errorStyle.Render("❌ Failed to read settings:"), err)
		failed = true
	} else {
		println(successStyle.Render(fmt.Sprintf("✅ Settings: %s / %s", global.EndpointType, global.ModelID)))
	}
	println()

	println(infoStyle.Render("Step 4: Model endpoints..."))
	router := llm.NewRouter(llm.Config{
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OllamaHost:      cfg.OllamaHost,
	})
	println(successStyle.Render("✅ Available: " + strings.Join(router.Endpoints(), ", ")))
	switch global.EndpointType {
	case llm.EndpointOpenAI:
		if cfg.OpenAIAPIKey == "" && global.EndpointURL == "" {
			println(warningStyle.Render("⚠️  endpoint is openai but OPENAI_API_KEY is not set"))
		}
	case llm.EndpointAnthropic:
		if cfg.AnthropicAPIKey == "" {
			println(warningStyle.Render("⚠️  endpoint is anthropic but ANTHROPIC_API_KEY is not set"))
		}
	}
	println()

	println(infoStyle.Render("Step 5: Sync hub..."))
	if cfg.HubURL == "" {
		println(warningStyle.Render("⚠️  No hub configured, changes sync only when processes reopen data"))
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		t, err := bus.DialWebSocket(dialCtx, cfg.HubURL)
		cancel()
		if err != nil {
			println(errorStyle.Render("❌ Hub unreachable:"), err)
			failed = true
		} else {
			_ = t.Close()
			println(successStyle.Render("✅ Hub reachable at " + cfg.HubURL))
		}
	}
	println()

	println(sectionStyle.Render("📊 Summary"))
	println()
	if failed {
		println(errorStyle.Render("❌ Health check failed"))
		return fmt.Errorf("health check failed")
	}
	println(successStyle.Render("✅ Health check passed!"))
	return nil
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckVerbose, "details", "d", false, "Show detailed diagnostic information")
}
