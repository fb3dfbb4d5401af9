package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskroom/internal/app"
	"taskroom/internal/domain"
	"taskroom/internal/engine"
)

func chatCmd() *cobra.Command {
	chat := &cobra.Command{Use: "chat", Short: "Project chat rooms"}
	chat.AddCommand(chatRoomCmd())
	chat.AddCommand(chatSendCmd())
	chat.AddCommand(chatMessagesCmd())
	chat.AddCommand(chatUnreadCmd())
	chat.AddCommand(chatReadCmd())
	chat.AddCommand(chatMentionsCmd())
	chat.AddCommand(chatReadMentionsCmd())
	return chat
}

func chatRoomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "room <project>",
		Short: "Show the project's room, creating it on first use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				room, err := rt.Engine.GetOrCreateRoom(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(room)
			})
		},
	}
}

func chatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <room> <text>...",
		Short: "Post a message; @username mentions notify org members",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				msg, err := rt.Engine.SendMessage(ctx, actor, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return printJSONOrTable(msg)
			})
		},
	}
}

func chatMessagesCmd() *cobra.Command {
	var (
		limit  int
		before string
		peek   bool
	)
	cmd := &cobra.Command{
		Use:   "messages <room>",
		Short: "Show messages, oldest first",
		Long:  "Shows the latest page and marks it read unless --peek is set or the project disabled chat.mark_read_on_view. --before takes a message id to page back.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				opts := engine.ListMessagesOptions{Limit: limit}
				if before != "" {
					opts.BeforeID = before
					msg, err := rt.Repo.GetMessage(ctx, nil, actor.OrgID, before)
					if err != nil {
						return fmt.Errorf("--before: %w", err)
					}
					opts.BeforeCreatedAt = msg.CreatedAt
				}
				var (
					views []domain.MessageView
					err   error
				)
				if peek {
					views, err = rt.Engine.Messages(ctx, actor, args[0], opts)
				} else {
					views, err = rt.Engine.ViewRoom(ctx, actor, args[0], opts)
				}
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(views))
				for _, v := range views {
					flags := ""
					if !v.Read {
						flags += "new "
					}
					if v.MentionsMe && !v.MentionRead {
						flags += "@you"
					}
					rows = append(rows, table.Row{v.CreatedAt, v.AuthorID, v.Content, strings.TrimSpace(flags), v.ID})
				}
				return printTable(views, table.Row{"At", "Author", "Message", "", "ID"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&before, "before", "", "show messages older than this message id")
	cmd.Flags().BoolVar(&peek, "peek", false, "do not mark anything read")
	return cmd
}

func chatUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread <room>",
		Short: "Count unread messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				n, err := rt.Engine.UnreadCount(ctx, actor, args[0])
				if err != nil {
					return err
				}
				c, _, err := rt.Engine.ReadCursor(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"room_id": args[0], "unread": n, "last_read_at": c.LastReadAt})
				}
				fmt.Printf("%d unread\n", n)
				return nil
			})
		},
	}
}

func chatReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <room>",
		Short: "Mark the room read up to its newest message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				return rt.Engine.MarkAsRead(ctx, actor, args[0])
			})
		},
	}
}

func chatMentionsCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "mentions",
		Short: "Unread mentions per project, or the mentions of one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				if message != "" {
					ms, err := rt.Engine.MessageMentions(ctx, actor, message)
					if err != nil {
						return err
					}
					rows := make([]table.Row, 0, len(ms))
					for _, m := range ms {
						rows = append(rows, table.Row{m.MentionedUserID, m.CreatedAt, deref(m.ReadAt)})
					}
					return printTable(ms, table.Row{"User", "At", "Read at"}, rows)
				}
				items, err := rt.Engine.MentionsByProject(ctx, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ProjectID, it.ProjectName, it.MentionCount})
				}
				return printTable(items, table.Row{"Project", "Name", "Mentions"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "list who a message mentions")
	return cmd
}

func chatReadMentionsCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "read-mentions [room]",
		Short: "Mark mentions of you read, in a room or in one --message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (message == "") == (len(args) == 0) {
				return fmt.Errorf("pass either a room or --message")
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				var (
					n   int
					err error
				)
				if message != "" {
					n, err = rt.Engine.MarkMentionsAsRead(ctx, actor, message)
				} else {
					n, err = rt.Engine.MarkAllRoomMentionsAsRead(ctx, actor, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Printf("%d mention(s) marked read\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "message id")
	return cmd
}
