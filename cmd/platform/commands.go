package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/adapters/his"
	"github.com/carefront/platform/internal/assignment/infrastructure"
	"github.com/carefront/platform/internal/commit"
	"github.com/carefront/platform/internal/shared/auth"
	"github.com/carefront/platform/internal/shared/config"
	"github.com/carefront/platform/internal/shared/database"
	"github.com/carefront/platform/internal/shared/logging"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assignment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			db, err := database.New(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.Migrate(ctx, db.Pool, logger)
		},
	}
}

func rosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the nurse, doctor and bed roster",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import the roster from the hospital information system once",
		Long: "Import the roster from the hospital information system once. With --file the\n" +
			"roster is read from an HIS workbook export instead of the SQL Server database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			db, err := database.New(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			// Roster writes share the pool lock with running servers
			app := &App{Config: cfg, Logger: logger}
			defer app.Close()
			locker, err := buildLocker(ctx, cfg, app)
			if err != nil {
				return err
			}
			roster := commit.NewService(infrastructure.NewPostgresStore(db.Pool), locker, nil, logger)

			var stats his.ImportStats
			if path, _ := cmd.Flags().GetString("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()

				stats, err = his.NewImporter(nil, roster, cfg.HIS, logger).ImportWorkbook(ctx, f)
				if err != nil {
					return err
				}
			} else {
				hisDB, err := his.Open(ctx, cfg.HIS)
				if err != nil {
					return err
				}
				defer hisDB.Close()

				stats, err = his.NewImporter(hisDB, roster, cfg.HIS, logger).Import(ctx)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d nurses, %d doctors, %d beds (%d rows skipped)\n",
				stats.Nurses, stats.Doctors, stats.Beds, stats.Skipped)
			return nil
		},
	}
	importCmd.Flags().String("file", "", "path to an HIS roster workbook (.xlsx)")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the generated demo roster into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rc := infrastructure.DefaultRosterConfig()
			rc.Nurses, _ = cmd.Flags().GetInt("nurses")
			rc.Doctors, _ = cmd.Flags().GetInt("doctors")
			rc.Beds, _ = cmd.Flags().GetInt("beds")

			ctx := cmd.Context()
			db, err := database.New(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			app := &App{Config: cfg, Logger: logger}
			defer app.Close()
			locker, err := buildLocker(ctx, cfg, app)
			if err != nil {
				return err
			}

			resources := infrastructure.GenerateRoster(rc)
			roster := commit.NewService(infrastructure.NewPostgresStore(db.Pool), locker, nil, logger)
			if err := roster.ApplyRoster(ctx, resources); err != nil {
				return err
			}
			logger.Info("Roster seeded", zap.Int("resources", len(resources)))
			return nil
		},
	}
	defaults := infrastructure.DefaultRosterConfig()
	seedCmd.Flags().Int("nurses", defaults.Nurses, "number of nurses")
	seedCmd.Flags().Int("doctors", defaults.Doctors, "number of doctors")
	seedCmd.Flags().Int("beds", defaults.Beds, "number of beds")

	cmd.AddCommand(importCmd, seedCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token for a member of staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			userID, _ := cmd.Flags().GetString("user")
			staffID, _ := cmd.Flags().GetString("staff")
			roles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			user := &auth.User{ID: userID, StaffID: staffID}
			for _, role := range strings.Split(roles, ",") {
				if role = strings.TrimSpace(role); role != "" {
					user.Roles = append(user.Roles, role)
				}
			}

			now := time.Now()
			token, err := auth.IssueToken(user, cfg.Auth.JWTSecret, jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id (required)")
	cmd.Flags().String("staff", "", "roster id of the staff member, e.g. N004")
	cmd.Flags().String("roles", auth.RoleNurse, "comma separated roles")
	cmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// bootstrap loads configuration and builds the logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "carefront-platform")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// withTimeout bounds start-up checks of optional dependencies
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
