package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage chat groups",
	Long:  `Groups are sidebar folders. Settings set on a group apply to its chats unless a chat overrides them.`,
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group at the top of the sidebar",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			g, err := a.store.CreateGroup(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", successStyle.Render("✓ Created group"), g.ID, groupStyle.Render(g.Name))
			return nil
		})
	},
}

var groupRenameCmd = &cobra.Command{
	Use:   "rename <group-id> <name>",
	Short: "Rename a group",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveGroupID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			if err := a.store.RenameGroup(cmd.Context(), id, name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("✓ Renamed group"), groupStyle.Render(name))
			return nil
		})
	},
}

var groupRmCmd = &cobra.Command{
	Use:     "rm <group-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a group, keeping its chats at the top level",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveGroupID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteGroup(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("✓ Deleted group"), id)
			return nil
		})
	},
}

var groupMoveCmd = &cobra.Command{
	Use:   "move <chat-id> [group-id]",
	Short: "Move a chat into a group, or to the top level without a group",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			chatID, err := resolveChatID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			var groupID string
			if len(args) == 2 {
				if groupID, err = resolveGroupID(cmd.Context(), a, args[1]); err != nil {
					return err
				}
			}
			if err := a.store.MoveChat(cmd.Context(), chatID, groupID); err != nil {
				return err
			}
			where := "top level"
			if groupID != "" {
				where = groupID
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s → %s\n", successStyle.Render("✓ Moved"), shortID(chatID), where)
			return nil
		})
	},
}

var groupExpand bool

var groupCollapseCmd = &cobra.Command{
	Use:   "collapse <group-id>",
	Short: "Fold a group in the sidebar (--expand to unfold)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveGroupID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			return a.store.SetGroupCollapsed(cmd.Context(), id, !groupExpand)
		})
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)
	groupCmd.AddCommand(groupCreateCmd, groupRenameCmd, groupRmCmd, groupMoveCmd, groupCollapseCmd)
	groupCollapseCmd.Flags().BoolVar(&groupExpand, "expand", false, "Unfold instead")
}
