package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/export"
	"github.com/iksnae/chatsync/internal/store"
)

var (
	format    string
	outputDir string
	snapshot  string
)

var exportCmd = &cobra.Command{
	Use:   "export [chat-id...]",
	Short: "Export chats to files",
	Long: `Export the selected branch of chats to jsonl, md, yaml or json files, one file
per chat. Without ids every listed chat is exported.

With --snapshot the whole store (chats with every branch, groups, sidebar
order and settings) is written to one JSON or YAML file that 'chatsync
import' reads back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			if snapshot != "" {
				return internal.ShowProgress(ctx, "Writing snapshot to "+snapshot, func() error {
					snap, err := a.docs.Export(ctx)
					if err != nil {
						return err
					}
					return writeSnapshot(snapshot, snap)
				})
			}

			exporter, err := export.NewExporter(format)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				id, err := resolveChatID(ctx, a, arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				metas, err := a.docs.ListChats(ctx)
				if err != nil {
					return err
				}
				for _, m := range metas {
					ids = append(ids, m.ID)
				}
			}
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			exported := 0
			err = internal.ShowProgress(ctx, fmt.Sprintf("Exporting %d chat(s) to %s", len(ids), outputDir), func() error {
				for _, id := range ids {
					chat, err := a.docs.LoadChat(ctx, id)
					if err != nil {
						return err
					}
					if chat == nil {
						internal.LogWarn("Skipping missing chat %s", id)
						continue
					}
					path := filepath.Join(outputDir, fmt.Sprintf("chat_%s.%s", id, exporter.Extension()))
					file, err := os.Create(path)
					if err != nil {
						internal.LogError("Failed to create file %s: %v", path, err)
						continue
					}
					if err := exporter.Export(export.NewTranscript(chat), file); err != nil {
						_ = file.Close()
						internal.LogError("Failed to export chat %s: %v", id, err)
						continue
					}
					if err := file.Close(); err != nil {
						internal.LogWarn("Failed to close file %s: %v", path, err)
					}
					exported++
				}
				return nil
			})
			if err != nil {
				return err
			}
			internal.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Export complete: %d chat(s) exported to %s", exported, outputDir))
			if skipped := len(ids) - exported; skipped > 0 {
				internal.PrintWarning(cmd.OutOrStdout(), fmt.Sprintf("%d chat(s) skipped, see the log for details", skipped))
			}
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <snapshot-file>",
	Short: "Replace all data with a snapshot",
	Long: `Import replaces every chat, group and setting with the contents of a
snapshot written by 'chatsync export --snapshot'. Connected processes stop
their generations and reload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var snap *store.Snapshot
		return withApp(ctx, func(a *app) error {
			err := internal.ShowProgressWithSteps(ctx, []internal.ProgressStep{
				{
					Message: "Reading " + args[0],
					Fn: func() error {
						var err error
						snap, err = readSnapshot(args[0])
						return err
					},
				},
				{
					Message: "Replacing stored data",
					Fn: func() error {
						return a.docs.ReplaceAll(ctx, snap)
					},
				},
			})
			if err != nil {
				return err
			}
			internal.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Imported %d chat(s) and %d group(s)", len(snap.Chats), len(snap.Groups)))
			return nil
		})
	},
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func writeSnapshot(path string, snap *store.Snapshot) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(snap)
	} else {
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func readSnapshot(path string) (*store.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	snap := &store.Snapshot{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, snap)
	} else {
		err = json.Unmarshal(data, snap)
	}
	if err != nil {
		return nil, &internal.ParseError{Source: "snapshot", Key: path, Err: err}
	}
	return snap, nil
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "md", "Export format (jsonl, md, yaml, json)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "./exports", "Output directory")
	exportCmd.Flags().StringVar(&snapshot, "snapshot", "", "Write a full snapshot to this .json or .yaml file")
}
