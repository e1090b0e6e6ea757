package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/matheus3301/lined/internal/api"
	"github.com/matheus3301/lined/internal/client"
	"github.com/spf13/cobra"
)

var (
	countFlag int
	limitFlag int
	inFlag    string
	outFlag   string
)

func init() {
	historyCmd.Flags().IntVarP(&countFlag, "count", "n", 15, "number of messages")
	updateCmd.Flags().IntVarP(&countFlag, "count", "n", 15, "number of messages to fetch")
	conversationsCmd.Flags().IntVar(&limitFlag, "limit", 0, "maximum number of conversations (0 = all)")
	searchCmd.Flags().IntVar(&limitFlag, "limit", 50, "maximum number of results")
	searchCmd.Flags().StringVar(&inFlag, "in", "", "only search this conversation")
	previewCmd.Flags().StringVarP(&outFlag, "output", "o", "", "write the preview to this file")
	_ = previewCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(historyCmd, updateCmd, sendCmd, conversationsCmd, searchCmd, previewCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show buffered messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			msgs, err := c.LastMessages(ctx, args[0], countFlag)
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <conversation-id>",
	Short: "Refetch recent messages of a conversation from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			msgs, err := c.Update(ctx, args[0], countFlag)
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			msg, err := c.Send(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(msg)
				return nil
			}
			fmt.Printf("Sent %s\n", msg.ID)
			return nil
		})
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recently active first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			convs, err := c.Conversations(ctx, limitFlag)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(convs)
				return nil
			}
			if len(convs) == 0 {
				fmt.Println("No conversations yet.")
				return nil
			}
			for _, cv := range convs {
				preview := ""
				if cv.Latest != nil {
					preview = formatTime(cv.Latest.CreatedAt()) + "  " + messageText(*cv.Latest)
				}
				fmt.Printf("%-36s %-20s %3d  %s\n", cv.ID, cv.Name, cv.Messages, preview)
			}
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search synced messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			hits, err := c.Search(ctx, strings.Join(args, " "), inFlag, limitFlag)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(hits)
				return nil
			}
			if len(hits) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%s  %-20s %s: %s\n", formatTime(h.Message.CreatedAt()), h.Message.ConversationID, h.Message.SenderName, h.Snippet)
			}
			return nil
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <conversation-id> <message-id>",
	Short: "Save the preview of an image message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			data, err := c.Preview(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if err := os.WriteFile(outFlag, data, 0o600); err != nil {
				return fmt.Errorf("write preview: %w", err)
			}
			fmt.Printf("Wrote %d bytes to %s\n", len(data), outFlag)
			return nil
		})
	},
}

// printMessages prints msgs oldest first, the way a chat window reads.
func printMessages(msgs []api.MessageView) {
	if jsonFlag {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range slices.Backward(msgs) {
		fmt.Printf("[%s] %s: %s\n", formatTime(m.CreatedAt()), m.SenderName, messageText(m))
	}
}

func messageText(m api.MessageView) string {
	if m.Kind == "IMAGE" {
		return "<image>"
	}
	return m.Text
}
