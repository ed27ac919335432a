package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/models"
	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

func NewMessageCmds() []*cobra.Command {
	return []*cobra.Command{
		newSendCmd(),
		newInboxCmd(),
		newAskCmd(),
		newReplyCmd(),
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <to> <content>",
		Short: "Send a message; <to> is an agent id, @leader, @idle, or @broadcast/@all to broadcast",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				to := args[0]
				if to == "@broadcast" || to == "@all" {
					to = ""
				}
				msg, _, err := store.RunIdempotent(ctx, db, agentID, requireRequestID(cmd), "message.send",
					func(tx *sql.Tx) (*models.Message, error) {
						return store.SendMessageTx(ctx, tx, agentID, to, args[1], models.MessageTypeChat, nil)
					})
				if err != nil {
					return err
				}
				return output.PrintSuccess(msg)
			})
		},
	}
}

func newInboxCmd() *cobra.Command {
	var unreadOnly bool
	var markRead bool
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List messages addressed to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				msgs, err := store.Inbox(ctx, db, agentID, unreadOnly, markRead)
				if err != nil {
					return err
				}
				return output.PrintSuccess(msgs)
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only show unread messages")
	cmd.Flags().BoolVar(&markRead, "mark-read", true, "Mark returned messages as read")
	return cmd
}

func newAskCmd() *cobra.Command {
	var timeout time.Duration
	var pollInterval time.Duration
	cmd := &cobra.Command{
		Use:   "ask <to> <content>",
		Short: "Send a request and block until a reply arrives or the timeout expires",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				res, err := store.Ask(ctx, db, agentID, args[0], args[1])
				if err != nil {
					return err
				}
				reply, err := store.WaitForReply(ctx, db, res.RequestID, pollInterval, timeout)
				if err != nil {
					return err
				}
				return output.PrintSuccess(reply)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for a reply")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 250*time.Millisecond, "How often to poll for a reply")
	return cmd
}

func newReplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reply <to> <request-id> <content>",
		Short: "Reply to a pending request message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				requestID, err := parseInt64(args[1])
				if err != nil {
					return err
				}
				msg, err := store.Reply(ctx, db, agentID, args[0], args[2], requestID)
				if err != nil {
					return err
				}
				return output.PrintSuccess(msg)
			})
		},
	}
}
