package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pilab-dev/idsync/domain"
)

var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Operate on a single identity record",
	Aliases: []string{"users"},
}

var userSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push one local record to the remote surfaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return errors.New("email is required via --email flag")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		tb, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tb.closeF()

		user, err := tb.users.GetByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to load user %s: %w", email, err)
		}

		outcome := tb.sync.PushUser(ctx, user)
		printOutcome(email, outcome)
		if !outcome.Success {
			return fmt.Errorf("sync of %s did not fully succeed", email)
		}
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a record locally and propagate the delete to both surfaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return errors.New("email is required via --email flag")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		tb, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tb.closeF()

		user, err := tb.users.GetByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to load user %s: %w", email, err)
		}

		outcome := tb.sync.DeleteUser(ctx, user)
		printOutcome(email, outcome)
		if !outcome.Success {
			return fmt.Errorf("delete of %s did not fully succeed", email)
		}
		return nil
	},
}

func printOutcome(email string, outcome domain.SyncOutcome) {
	display := struct {
		Email          string `yaml:"email"`
		Success        bool   `yaml:"success"`
		IdentitySynced bool   `yaml:"identity_surface_synced"`
		ProfileSynced  bool   `yaml:"profile_surface_synced"`
		ExternalID     string `yaml:"external_id,omitempty"`
		Message        string `yaml:"message,omitempty"`
	}{
		Email:          email,
		Success:        outcome.Success,
		IdentitySynced: outcome.IdentitySynced,
		ProfileSynced:  outcome.ProfileSynced,
		ExternalID:     outcome.ExternalID,
		Message:        outcome.Message,
	}
	out, err := yaml.Marshal(display)
	if err != nil {
		fmt.Printf("failed to render outcome: %v\n", err)
		return
	}
	fmt.Print(string(out))
}

func init() {
	userSyncCmd.Flags().String("email", "", "email of the record to push")
	userDeleteCmd.Flags().String("email", "", "email of the record to delete")
	userCmd.AddCommand(userSyncCmd)
	userCmd.AddCommand(userDeleteCmd)
}
