package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/deemkeen/stegofed/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          util.Name,
	Short:        "ActivityPub federation server",
	Version:      util.GetVersion(),
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd(), migrateCmd(), createActorCmd(), createGroupCmd())
	rootCmd.AddCommand(followCmd(), unfollowCmd(), postCmd(), requestsCmd(),
		notificationsCmd(), privacyCmd(), inviteCmd(), deliveriesCmd(), statsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup reads the configuration, installs the logger and opens the
// database. Opening the database migrates it.
func setup(ctx context.Context) (*util.AppConfig, *db.DB, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, nil, err
	}
	util.NewLogger(conf.Conf.LogLevel)
	log.Debug().Msg(util.PrettyPrint(conf.Conf))

	database, err := db.Open(ctx, util.ResolveFilePath(conf.Conf.DbPath))
	if err != nil {
		return nil, nil, err
	}
	return conf, database, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the federation HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf, database, err := setup(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			log.Info().Str("version", util.GetNameAndVersion()).Msg("Starting")
			engine := activitypub.NewEngine(database, conf)
			return web.Router(ctx, database, conf, engine)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()
			log.Info().Msg("Database migrations complete")
			return nil
		},
	}
}

func createActorCmd() *cobra.Command {
	var username, displayName, summary string
	var private bool
	cmd := &cobra.Command{
		Use:   "create-actor",
		Short: "Create a local account with a fresh signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.ValidateUsername(username); err != nil {
				return err
			}
			conf, database, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			keys, err := util.GeneratePemKeypair(util.DefaultKeyBits)
			if err != nil {
				return err
			}
			acc := &domain.Account{
				Username:                  username,
				IRI:                       conf.UserIRI(username),
				DisplayName:               displayName,
				Summary:                   summary,
				WebPublicKey:              keys.Public,
				WebPrivateKey:             keys.Private,
				ManuallyApprovesFollowers: private,
			}
			if err := database.CreateAccount(cmd.Context(), acc); err != nil {
				return fmt.Errorf("failed to create account %s: %w", username, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), acc.IRI)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	cmd.Flags().StringVarP(&displayName, "name", "n", "", "Display name")
	cmd.Flags().StringVar(&summary, "summary", "", "Profile summary")
	cmd.Flags().BoolVar(&private, "private", false, "Review follow requests manually")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func createGroupCmd() *cobra.Command {
	var name, displayName, summary, joinPolicy, postPolicy, owner string
	cmd := &cobra.Command{
		Use:   "create-group",
		Short: "Create a local community owned by an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.ValidateUsername(name); err != nil {
				return err
			}
			join, ok := domain.ParseJoinPolicy(joinPolicy)
			if !ok {
				return fmt.Errorf("unknown join policy %q", joinPolicy)
			}
			post, ok := domain.ParsePostPolicy(postPolicy)
			if !ok {
				return fmt.Errorf("unknown post policy %q", postPolicy)
			}

			conf, database, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			ownerAcc, err := database.ReadAccByUsername(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("owner %s: %w", owner, err)
			}
			keys, err := util.GeneratePemKeypair(util.DefaultKeyBits)
			if err != nil {
				return err
			}
			g := &domain.Group{
				Name:          name,
				IRI:           conf.GroupIRI(name),
				DisplayName:   displayName,
				Summary:       summary,
				JoinPolicy:    join,
				PostPolicy:    post,
				WebPublicKey:  keys.Public,
				WebPrivateKey: keys.Private,
			}
			if err := database.CreateGroup(cmd.Context(), g, ownerAcc.IRI); err != nil {
				return fmt.Errorf("failed to create group %s: %w", name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), g.IRI)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Group name (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name")
	cmd.Flags().StringVar(&summary, "summary", "", "Group summary")
	cmd.Flags().StringVar(&joinPolicy, "join-policy", string(domain.JoinOpen), "open, approval or invite")
	cmd.Flags().StringVar(&postPolicy, "post-policy", string(domain.PostMembers), "anyone, members, moderators or owners")
	cmd.Flags().StringVar(&owner, "owner", "", "Username of the owning account (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
