package main

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/lined/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and sync loop status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(st)
				return nil
			}
			lastPoll := "-"
			if st.LastPollAtMs > 0 {
				lastPoll = formatTime(time.UnixMilli(st.LastPollAtMs))
			}
			fmt.Printf("Session:       %s (%s)\n", st.Session, st.Identity)
			fmt.Printf("State:         %s\n", st.State)
			fmt.Printf("Revision:      %d\n", st.Revision)
			fmt.Printf("Last poll:     %s\n", lastPoll)
			fmt.Printf("Operations:    %d applied, %d messages\n", st.OperationsApplied, st.Deltas)
			fmt.Printf("Contacts:      %d\n", st.Contacts)
			fmt.Printf("Conversations: %d\n", st.Conversations)
			fmt.Printf("Indexed:       %d messages\n", st.IndexedMessages)
			fmt.Printf("Uptime:        %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
			if st.LastError != "" {
				fmt.Printf("Last error:    %s\n", st.LastError)
			}
			return nil
		})
	},
}
