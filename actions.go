package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/spf13/cobra"
)

// session is what an account-level command works with.
type session struct {
	conf   *util.AppConfig
	db     *db.DB
	engine *activitypub.Engine
	acc    *domain.Account
}

func openSession(ctx context.Context, username string) (*session, error) {
	conf, database, err := setup(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := database.ReadAccByUsername(ctx, username)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("account %s: %w", username, err)
	}
	return &session{conf: conf, db: database, engine: activitypub.NewEngine(database, conf), acc: acc}, nil
}

// resolveTarget accepts an actor IRI or a user@host handle.
func (s *session) resolveTarget(ctx context.Context, target string) (string, error) {
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target, nil
	}
	actor, err := s.engine.Directory().ResolveHandle(ctx, target)
	if err != nil {
		return "", err
	}
	return actor.IRI, nil
}

func printResults(w io.Writer, results []activitypub.DeliveryResult) {
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "failed"
			if r.Err != nil {
				status += ": " + r.Err.Error()
			}
		}
		fmt.Fprintf(w, "%s (%d) %s\n", r.Recipient, r.StatusCode, status)
	}
}

// accountCmd builds a command that runs fn for the account named by
// --username.
func accountCmd(use, short string, args cobra.PositionalArgs, fn func(cmd *cobra.Command, s *session, args []string) error) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), username)
			if err != nil {
				return err
			}
			defer s.db.Close()
			return fn(cmd, s, args)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Acting account (required)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func followCmd() *cobra.Command {
	return accountCmd("follow TARGET", "Follow an actor by IRI or user@host", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			target, err := s.resolveTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			results, err := s.engine.Follow(cmd.Context(), s.acc, target)
			printResults(cmd.OutOrStdout(), results)
			return err
		})
}

func unfollowCmd() *cobra.Command {
	return accountCmd("unfollow TARGET", "Stop following an actor", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			target, err := s.resolveTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			results, err := s.engine.Unfollow(cmd.Context(), s.acc, target)
			printResults(cmd.OutOrStdout(), results)
			return err
		})
}

func postCmd() *cobra.Command {
	var draft activitypub.NoteDraft
	cmd := accountCmd("post MARKDOWN", "Publish a note to followers", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			draft.Source = args[0]
			o, results, err := s.engine.PublishNote(cmd.Context(), s.acc, draft)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), o.IRI)
			printResults(cmd.OutOrStdout(), results)
			return nil
		})
	cmd.Flags().StringVar(&draft.Summary, "summary", "", "Content warning")
	cmd.Flags().StringVar(&draft.InReplyTo, "reply-to", "", "IRI of the note being answered")
	cmd.Flags().StringVar(&draft.Audience, "group", "", "IRI of the group to post into")
	cmd.Flags().StringVar(&draft.Visibility, "visibility", domain.VisibilityPublic, "public, unlisted, followers or direct")
	cmd.Flags().BoolVar(&draft.Sensitive, "sensitive", false, "Mark the note sensitive")
	return cmd
}

// requestsCmd lists, accepts or rejects pending follow requests. With
// --group the requests of a group the account moderates are handled.
func requestsCmd() *cobra.Command {
	var group string
	var accept, reject string
	cmd := accountCmd("requests", "List or answer pending follow requests", cobra.NoArgs,
		func(cmd *cobra.Command, s *session, args []string) error {
			ctx := cmd.Context()
			target := s.acc.IRI
			if group != "" {
				g, err := s.db.ReadGroupByName(ctx, group)
				if err != nil {
					return fmt.Errorf("group %s: %w", group, err)
				}
				m, err := s.db.ReadGroupMember(ctx, g.IRI, s.acc.IRI)
				if err != nil || !m.Role.AtLeast(domain.RoleModerator) {
					return fmt.Errorf("%s does not moderate %s: %w", s.acc.Username, group, activitypub.ErrNotAuthorized)
				}
				target = g.IRI
			}

			var results []activitypub.DeliveryResult
			var err error
			switch {
			case accept != "":
				results, err = s.engine.AcceptFollowRequest(ctx, target, accept)
			case reject != "":
				results, err = s.engine.RejectFollowRequest(ctx, target, reject)
			default:
				pending, err := s.db.ReadPendingFollows(ctx, target)
				if err != nil {
					return err
				}
				for _, f := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.CreatedAt.Format("2006-01-02 15:04"), f.FollowerIRI)
				}
				return nil
			}
			printResults(cmd.OutOrStdout(), results)
			return err
		})
	cmd.Flags().StringVar(&group, "group", "", "Answer requests for this group")
	cmd.Flags().StringVar(&accept, "accept", "", "Follower IRI to accept")
	cmd.Flags().StringVar(&reject, "reject", "", "Follower IRI to reject")
	cmd.MarkFlagsMutuallyExclusive("accept", "reject")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var limit int
	var markRead bool
	cmd := accountCmd("notifications", "Show the newest notifications", cobra.NoArgs,
		func(cmd *cobra.Command, s *session, args []string) error {
			ctx := cmd.Context()
			unread, err := s.db.CountUnreadNotifications(ctx, s.acc.IRI)
			if err != nil {
				return err
			}
			notes, err := s.db.ReadNotifications(ctx, s.acc.IRI, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d unread\n", unread)
			for _, n := range notes {
				mark := " "
				if !n.Read {
					mark = "*"
				}
				fmt.Fprintf(w, "%s %s %-8s %s %s\n", mark, n.CreatedAt.Format("2006-01-02 15:04"), n.Kind, n.ActorIRI, n.ObjectIRI)
			}
			if markRead {
				return s.db.MarkNotificationsRead(ctx, s.acc.IRI)
			}
			return nil
		})
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "How many to show")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "Mark every notification read")
	return cmd
}

func privacyCmd() *cobra.Command {
	var private bool
	cmd := accountCmd("privacy", "Choose whether follow requests need approval", cobra.NoArgs,
		func(cmd *cobra.Command, s *session, args []string) error {
			return s.db.UpdateAccountPrivacy(cmd.Context(), s.acc.Id, private)
		})
	cmd.Flags().BoolVar(&private, "private", true, "Review follow requests manually")
	return cmd
}

// inviteCmd lets a moderator invite an actor into an invite-only group,
// or promote an existing member.
func inviteCmd() *cobra.Command {
	var group, role string
	cmd := accountCmd("invite ACTOR", "Invite an actor into a group", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			ctx := cmd.Context()
			g, err := s.db.ReadGroupByName(ctx, group)
			if err != nil {
				return fmt.Errorf("group %s: %w", group, err)
			}
			m, err := s.db.ReadGroupMember(ctx, g.IRI, s.acc.IRI)
			if err != nil || !m.Role.AtLeast(domain.RoleModerator) {
				return fmt.Errorf("%s does not moderate %s: %w", s.acc.Username, group, activitypub.ErrNotAuthorized)
			}
			target, err := s.resolveTarget(ctx, args[0])
			if err != nil {
				return err
			}
			if role != "" {
				r := domain.MemberRole(role)
				if r != domain.RoleMember && r != domain.RoleModerator {
					return fmt.Errorf("unknown role %q", role)
				}
				if _, err := s.db.ReadGroupMember(ctx, g.IRI, target); err != nil {
					return fmt.Errorf("%s is not a member of %s: %w", target, group, err)
				}
				return s.db.SetGroupMember(ctx, g.IRI, target, r)
			}
			if err := s.db.CreateGroupInvite(ctx, g.IRI, target); err != nil {
				return err
			}
			members, err := s.db.CountGroupMembers(ctx, g.IRI)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invited %s to %s (%d members)\n", target, g.Name, members)
			return nil
		})
	cmd.Flags().StringVar(&group, "group", "", "Group name (required)")
	cmd.Flags().StringVar(&role, "role", "", "Set the role of an existing member instead (member or moderator)")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

// deliveriesCmd prints the recorded attempts for one outbound activity.
func deliveriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliveries ACTIVITY",
		Short: "Show delivery attempts for an outbound activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()
			attempts, err := database.ReadDeliveryAttempts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, a := range attempts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%t\t%s\n",
					a.AttemptedAt.Format("2006-01-02 15:04:05"), a.InboxURI, a.StatusCode, a.Success, a.Error)
			}
			return nil
		},
	}
}

// statsCmd prints the engagement counters of a stored object.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats OBJECT",
		Short: "Show likes, boosts, replies and story engagement for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, database, err := setup(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			o, err := database.ReadObjectByIRI(ctx, args[0])
			if err != nil {
				return fmt.Errorf("object %s: %w", args[0], err)
			}
			likes, err := database.CountInteractions(ctx, domain.InteractionLike, o.IRI)
			if err != nil {
				return err
			}
			boosts, err := database.CountInteractions(ctx, domain.InteractionAnnounce, o.IRI)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s by %s\nlikes %d, boosts %d, replies %d\n", o.Kind, o.IRI, o.AuthorIRI, likes, boosts, o.ReplyCount)
			if o.Kind == domain.KindStory {
				views, votes, err := database.CountStoryEngagement(ctx, o.IRI)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "views %d, votes %d\n", views, votes)
			}
			return nil
		},
	}
}
