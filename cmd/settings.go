package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iksnae/chatsync/internal/settings"
)

var (
	settingsChat  string
	settingsGroup string
	settingsJSON  bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change model settings",
	Long: `Settings resolve from global, to group, to chat. Keys:

  endpoint_type   echo, openai, anthropic or ollama
  endpoint_url    custom base URL
  model_id        model name
  system_prompt   prompt text (global) or instruction (group/chat)
  prompt_behavior override or append (group/chat)
  temperature, top_p, max_tokens, frequency_penalty, presence_penalty
  stop            comma separated stop sequences
  auto_title      true or false (global only)`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show global settings, or the effective settings of a chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			out := cmd.OutOrStdout()
			if settingsChat == "" {
				g := a.store.Settings().Get()
				if settingsJSON {
					return writeJSON(out, g)
				}
				displayGlobal(out, g)
				return nil
			}
			id, err := resolveChatID(cmd.Context(), a, settingsChat)
			if err != nil {
				return err
			}
			r, err := a.store.ResolvedSettings(cmd.Context(), id)
			if err != nil {
				return err
			}
			if settingsJSON {
				return writeJSON(out, r)
			}
			displayResolved(out, r)
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Change settings globally, or on a --group or --chat",
	Long:  `Set one or more keys. An empty value (key=) clears the key on a group or chat.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, err := parsePairs(args)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			switch {
			case settingsChat != "":
				id, err := resolveChatID(ctx, a, settingsChat)
				if err != nil {
					return err
				}
				meta, err := a.docs.LoadChatMeta(ctx, id)
				if err != nil {
					return err
				}
				if meta == nil {
					return fmt.Errorf("chat %s not found", id)
				}
				o, err := applyOverrides(meta.Overrides, pairs)
				if err != nil {
					return err
				}
				if err := a.store.UpdateChatOverrides(ctx, id, o); err != nil {
					return err
				}
			case settingsGroup != "":
				id, err := resolveGroupID(ctx, a, settingsGroup)
				if err != nil {
					return err
				}
				g, err := a.docs.LoadChatGroup(ctx, id)
				if err != nil {
					return err
				}
				if g == nil {
					return fmt.Errorf("group %s not found", id)
				}
				o, err := applyOverrides(g.Overrides, pairs)
				if err != nil {
					return err
				}
				if err := a.store.UpdateGroupOverrides(ctx, id, o); err != nil {
					return err
				}
			default:
				probe := settings.Default()
				for _, p := range pairs {
					if err := applyGlobal(&probe, p[0], p[1]); err != nil {
						return err
					}
				}
				err := a.store.UpdateSettings(ctx, func(g settings.Global) settings.Global {
					for _, p := range pairs {
						_ = applyGlobal(&g, p[0], p[1])
					}
					return g
				})
				if err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ Settings updated"))
			return nil
		})
	},
}

func parsePairs(args []string) ([][2]string, error) {
	var pairs [][2]string
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(k), v})
	}
	return pairs, nil
}

func applyGlobal(g *settings.Global, key, value string) error {
	switch key {
	case "endpoint_type":
		g.EndpointType = value
	case "endpoint_url":
		g.EndpointURL = value
	case "model_id", "model":
		g.ModelID = value
	case "system_prompt":
		g.SystemPrompt = value
	case "auto_title":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("auto_title: %w", err)
		}
		g.AutoTitle = b
	default:
		return applyParam(&g.LMParameters, key, value)
	}
	return nil
}

// applyOverrides returns a copy of o with pairs applied.
func applyOverrides(o *settings.Overrides, pairs [][2]string) (*settings.Overrides, error) {
	next := &settings.Overrides{}
	if o != nil {
		// round trip for a deep copy of pointer fields
		data, _ := json.Marshal(o)
		_ = json.Unmarshal(data, next)
	}
	for _, p := range pairs {
		key, value := p[0], p[1]
		switch key {
		case "endpoint_type":
			next.EndpointType = value
		case "endpoint_url":
			next.EndpointURL = value
		case "model_id", "model":
			next.ModelID = value
		case "system_prompt":
			if value == "" {
				next.SystemPrompt = nil
				continue
			}
			if next.SystemPrompt == nil {
				next.SystemPrompt = &settings.SystemPrompt{Behavior: settings.BehaviorOverride}
			}
			next.SystemPrompt.Content = value
		case "prompt_behavior":
			b := settings.Behavior(value)
			if b != settings.BehaviorOverride && b != settings.BehaviorAppend {
				return nil, fmt.Errorf("prompt_behavior must be override or append, got %q", value)
			}
			if next.SystemPrompt == nil {
				next.SystemPrompt = &settings.SystemPrompt{}
			}
			next.SystemPrompt.Behavior = b
		case "auto_title":
			return nil, fmt.Errorf("auto_title is a global setting")
		default:
			if next.LMParameters == nil {
				next.LMParameters = &settings.LMParameters{}
			}
			if err := applyParam(next.LMParameters, key, value); err != nil {
				return nil, err
			}
			if paramsEmpty(next.LMParameters) {
				next.LMParameters = nil
			}
		}
	}
	return next, nil
}

func applyParam(p *settings.LMParameters, key, value string) error {
	float := func(dst **float64) error {
		if value == "" {
			*dst = nil
			return nil
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = settings.Float(f)
		return nil
	}
	switch key {
	case "temperature":
		return float(&p.Temperature)
	case "top_p":
		return float(&p.TopP)
	case "frequency_penalty":
		return float(&p.FrequencyPenalty)
	case "presence_penalty":
		return float(&p.PresencePenalty)
	case "max_tokens":
		if value == "" {
			p.MaxTokens = nil
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_tokens: %w", err)
		}
		p.MaxTokens = settings.Int(n)
	case "stop":
		p.Stop = nil
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				p.Stop = append(p.Stop, s)
			}
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func displayGlobal(out io.Writer, g settings.Global) {
	_, _ = fmt.Fprintln(out, sectionStyle.Render("⚙️  Global settings"))
	rows := [][2]string{
		{"endpoint_type", g.EndpointType},
		{"endpoint_url", g.EndpointURL},
		{"model_id", g.ModelID},
		{"system_prompt", g.SystemPrompt},
		{"auto_title", strconv.FormatBool(g.AutoTitle)},
	}
	rows = append(rows, paramRows(g.LMParameters)...)
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		_, _ = fmt.Fprintf(out, "  %-18s %s\n", titleStyle.Render(r[0]), r[1])
	}
}

func displayResolved(out io.Writer, r settings.Resolved) {
	_, _ = fmt.Fprintln(out, sectionStyle.Render("⚙️  Effective settings"))
	source := func(field string) string {
		if l := r.Sources[field]; l != settings.LevelNone {
			return dateStyle.Render("(" + string(l) + ")")
		}
		return ""
	}
	_, _ = fmt.Fprintf(out, "  %-18s %s %s\n", titleStyle.Render("endpoint_type"), r.EndpointType, source(settings.FieldEndpointType))
	if r.EndpointURL != "" {
		_, _ = fmt.Fprintf(out, "  %-18s %s %s\n", titleStyle.Render("endpoint_url"), r.EndpointURL, source(settings.FieldEndpointURL))
	}
	_, _ = fmt.Fprintf(out, "  %-18s %s %s\n", titleStyle.Render("model_id"), r.ModelID, source(settings.FieldModelID))
	for i, p := range r.SystemPromptMessages {
		_, _ = fmt.Fprintf(out, "  %-18s %s %s\n", titleStyle.Render(fmt.Sprintf("system_prompt[%d]", i)), truncate(p, 60), source(settings.FieldSystemPrompt))
	}
	fields := map[string]string{
		"temperature":       settings.FieldTemperature,
		"top_p":             settings.FieldTopP,
		"max_tokens":        settings.FieldMaxTokens,
		"frequency_penalty": settings.FieldFrequencyPenalty,
		"presence_penalty":  settings.FieldPresencePenalty,
		"stop":              settings.FieldStop,
	}
	for _, row := range paramRows(r.LMParameters) {
		_, _ = fmt.Fprintf(out, "  %-18s %s %s\n", titleStyle.Render(row[0]), row[1], source(fields[row[0]]))
	}
}

func paramRows(p settings.LMParameters) [][2]string {
	var rows [][2]string
	f := func(k string, v *float64) {
		if v != nil {
			rows = append(rows, [2]string{k, strconv.FormatFloat(*v, 'g', -1, 64)})
		}
	}
	f("temperature", p.Temperature)
	f("top_p", p.TopP)
	if p.MaxTokens != nil {
		rows = append(rows, [2]string{"max_tokens", strconv.Itoa(*p.MaxTokens)})
	}
	f("frequency_penalty", p.FrequencyPenalty)
	f("presence_penalty", p.PresencePenalty)
	if len(p.Stop) > 0 {
		rows = append(rows, [2]string{"stop", strings.Join(p.Stop, ",")})
	}
	return rows
}

func paramsEmpty(p *settings.LMParameters) bool {
	return p.Temperature == nil && p.TopP == nil && p.MaxTokens == nil &&
		p.FrequencyPenalty == nil && p.PresencePenalty == nil && len(p.Stop) == 0
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	settingsCmd.PersistentFlags().StringVar(&settingsChat, "chat", "", "Chat to show or change")
	settingsSetCmd.Flags().StringVar(&settingsGroup, "group", "", "Group to change")
	settingsShowCmd.Flags().BoolVar(&settingsJSON, "json", false, "Print as JSON")
}
