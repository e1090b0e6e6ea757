package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/lined/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	watchCmd.Flags().StringVar(&inFlag, "in", "", "only show messages of this conversation")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream new messages and sync state changes until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = c.Watch(ctx, inFlag, func(e api.EventView) error {
			if jsonFlag {
				outputJSON(e)
				return nil
			}
			at := formatTime(time.UnixMilli(e.OccurredAtMs))
			switch {
			case e.Message != nil:
				fmt.Printf("[%s] #%d %s %s: %s\n", at, e.Revision, e.Message.ConversationID, e.Message.SenderName, messageText(*e.Message))
			default:
				fmt.Printf("[%s] %s %s\n", at, e.Kind, e.Detail)
			}
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}
