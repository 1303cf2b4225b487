package main

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/auth"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/presence"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepPresenceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-presence",
		Short: "Delete stale presence records once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openResources()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			store, closeStore, err := openPresenceStore(ctx, rt)
			if err != nil {
				return err
			}
			defer closeStore()
			resolver, err := access.NewResolver(rt.db)
			if err != nil {
				return err
			}
			directory, err := users.NewService(users.ServiceConfig{Database: rt.db, Logger: rt.logger})
			if err != nil {
				return err
			}
			service, err := presence.NewService(presence.ServiceConfig{
				Store:     store,
				Access:    resolver,
				Directory: directory,
				Logger:    rt.logger,
			})
			if err != nil {
				return err
			}
			removed, err := service.Sweep(ctx)
			if err != nil {
				return err
			}
			rt.logger.Info("presence sweep finished", zap.Int64("removed", removed))
			return nil
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userID      string
		email       string
		displayName string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openResources()
			if err != nil {
				return err
			}
			defer rt.close()

			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(rt.config.AuthSigningSecret),
				Issuer:        rt.config.AuthIssuer,
				TokenTTL:      rt.config.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(auth.TokenSubject{
				UserID:      userID,
				Email:       email,
				DisplayName: displayName,
			})
			if err != nil {
				return err
			}
			directory, err := users.NewService(users.ServiceConfig{Database: rt.db, Logger: rt.logger})
			if err != nil {
				return err
			}
			claims := auth.SessionClaims{UserID: userID, UserEmail: email, UserDisplayName: displayName}
			claims.Subject = userID
			if _, err := directory.ResolveCanonicalUserID(cmd.Context(), claims); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintln(cmd.ErrOrStderr(), "expires", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User id placed in the token subject")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&displayName, "name", "", "User display name")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
