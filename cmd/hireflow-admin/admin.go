package main

import (
	"context"
	"fmt"

	"github.com/hireflow/hireflow-admin/pkg/accounts"
	"github.com/hireflow/hireflow-admin/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	adminEmail    string
	adminPassword string
	adminName     string
	adminRole     string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin accounts",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin account with an admin record",
	RunE:  runAdminCreate,
}

func init() {
	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "admin email")
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "",
		"initial password (defaults to $HIREFLOW_ADMIN_PASSWORD)")
	adminCreateCmd.Flags().StringVar(&adminName, "name", "", "full name")
	adminCreateCmd.Flags().StringVar(&adminRole, "role", "admin", "admin role")

	_ = adminCreateCmd.MarkFlagRequired("email")

	adminCmd.AddCommand(adminCreateCmd)
	rootCmd.AddCommand(adminCmd)
}

func runAdminCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if adminPassword == "" {
		adminPassword = envOr("HIREFLOW_ADMIN_PASSWORD", "")
	}

	if adminPassword == "" {
		return fmt.Errorf("a password is required (use --password or HIREFLOW_ADMIN_PASSWORD)")
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.API.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	svc := accounts.NewService(log, st, accounts.Options{
		Secret:      cfg.API.Auth.JWTSecret,
		IdentityTTL: cfg.API.Auth.IdentityTTLDuration(),
	})

	profile, err := svc.CreateAdmin(ctx, accounts.NewAdmin{
		Email:    adminEmail,
		Password: adminPassword,
		FullName: adminName,
		Role:     adminRole,
	})
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}

	if !cfg.API.Auth.IsAllowedRole(profile.Role) {
		log.WithField("role", profile.Role).
			Warn("Role is not in auth.allowed_roles, the console will reject this admin")
	}

	log.WithFields(logrus.Fields{
		"id":    profile.ID,
		"email": profile.Email,
		"role":  profile.Role,
	}).Info("Admin created")

	return nil
}
