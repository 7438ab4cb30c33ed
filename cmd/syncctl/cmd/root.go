package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pilab-dev/idsync/config"
	"github.com/pilab-dev/idsync/internal/directory"
	"github.com/pilab-dev/idsync/internal/profile"
	"github.com/pilab-dev/idsync/mongodb"
	"github.com/pilab-dev/idsync/services"
)

var rootCmd = &cobra.Command{
	Use:          "syncctl",
	Short:        "syncctl reconciles local identity records with the remote identity and profile surfaces",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(userCmd)
}

// toolbox bundles the wired services a command needs.
type toolbox struct {
	cfg    *config.Config
	users  *mongodb.UserRepository
	sync   *services.SyncService
	bulk   *services.BulkService
	closeF func()
}

// buildToolbox loads config, validates it, and wires the full service stack.
// Configuration errors abort here, before any remote call.
func buildToolbox(ctx context.Context) (*toolbox, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	db := mongodb.GetDB()

	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		return nil, err
	}
	roleRepo, err := mongodb.NewRoleRepository(ctx, db)
	if err != nil {
		return nil, err
	}
	directoryClient, err := directory.NewClient(
		cfg.DirectoryBaseURL, cfg.DirectoryAPIKey,
		cfg.RemoteTimeout(), cfg.DirectoryPageSize, cfg.ListCacheTTL(),
	)
	if err != nil {
		return nil, err
	}
	profileClient, err := profile.NewClient(cfg.ProfileBaseURL, cfg.ProfileAPIKey, cfg.RemoteTimeout())
	if err != nil {
		return nil, err
	}

	roleService := services.NewRoleService(roleRepo, cfg.DefaultRoleName)
	if err := roleService.EnsureStandardRoles(ctx); err != nil {
		return nil, err
	}
	syncService := services.NewSyncService(userRepo, roleService, directoryClient, profileClient, cfg.DefaultAccountScope)
	bulkService := services.NewBulkService(syncService, userRepo, directoryClient, cfg.WorkerCount, cfg.RatePerSec)

	return &toolbox{
		cfg:   cfg,
		users: userRepo,
		sync:  syncService,
		bulk:  bulkService,
		closeF: func() {
			directoryClient.Close()
			mongodb.CloseMongoDB(ctx)
		},
	}, nil
}
