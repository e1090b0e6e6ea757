package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/lined/internal/api"
	"github.com/matheus3301/lined/internal/client"
	"github.com/spf13/cobra"
)

var (
	findFlag    string
	refreshFlag bool
)

func init() {
	contactsCmd.Flags().StringVar(&findFlag, "find", "", "only contacts whose name contains this text")
	contactsCmd.Flags().BoolVar(&refreshFlag, "refresh", false, "reload the contact list from the server first")
	rootCmd.AddCommand(contactsCmd)
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List cached contacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			var (
				contacts []api.ContactView
				err      error
			)
			switch {
			case refreshFlag:
				contacts, err = c.RefreshContacts(ctx)
			case findFlag != "":
				contacts, err = c.FindContacts(ctx, findFlag)
			default:
				contacts, err = c.Contacts(ctx)
			}
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(contacts)
				return nil
			}
			if len(contacts) == 0 {
				fmt.Println("No contacts found.")
				return nil
			}
			for _, ct := range contacts {
				name := ct.DisplayName
				if ct.IsSelf {
					name += " (you)"
				}
				fmt.Printf("%-36s %s\n", ct.ID, name)
			}
			return nil
		})
	},
}
