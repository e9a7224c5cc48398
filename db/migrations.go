package db

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		iri TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		web_public_key TEXT NOT NULL,
		web_private_key TEXT NOT NULL,
		manually_approves_followers INTEGER NOT NULL DEFAULT 0,
		follower_count INTEGER NOT NULL DEFAULT 0,
		following_count INTEGER NOT NULL DEFAULT 0,
		post_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateGroupsTable = `CREATE TABLE IF NOT EXISTS communities (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		iri TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		join_policy TEXT NOT NULL DEFAULT 'open',
		post_policy TEXT NOT NULL DEFAULT 'members',
		web_public_key TEXT NOT NULL,
		web_private_key TEXT NOT NULL,
		follower_count INTEGER NOT NULL DEFAULT 0,
		post_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateGroupMembersTable = `CREATE TABLE IF NOT EXISTS community_members (
		group_iri TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (group_iri, actor_iri)
	)`

	sqlCreateGroupInvitesTable = `CREATE TABLE IF NOT EXISTS community_invites (
		group_iri TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (group_iri, actor_iri)
	)`

	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL DEFAULT 'Person',
		username TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		outbox_uri TEXT NOT NULL DEFAULT '',
		public_key_id TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_iri TEXT NOT NULL,
		following_iri TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		activity_uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		accepted_at TIMESTAMP,
		UNIQUE(follower_iri, following_iri)
	)`

	sqlCreateInteractionsTable = `CREATE TABLE IF NOT EXISTS interactions (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		object_iri TEXT NOT NULL,
		activity_uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(kind, actor_iri, object_iri)
	)`

	sqlCreateObjectsTable = `CREATE TABLE IF NOT EXISTS objects (
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL DEFAULT 'note',
		author_iri TEXT NOT NULL,
		audience_iri TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		in_reply_to TEXT NOT NULL DEFAULT '',
		sensitive INTEGER NOT NULL DEFAULT 0,
		attachments TEXT NOT NULL DEFAULT '[]',
		overlays TEXT NOT NULL DEFAULT '[]',
		like_count INTEGER NOT NULL DEFAULT 0,
		reply_count INTEGER NOT NULL DEFAULT 0,
		announce_count INTEGER NOT NULL DEFAULT 0,
		local INTEGER NOT NULL DEFAULT 0,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP,
		expires_at TIMESTAMP
	)`

	sqlCreateStoryViewsTable = `CREATE TABLE IF NOT EXISTS story_views (
		object_iri TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		viewed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (object_iri, actor_iri)
	)`

	sqlCreateStoryVotesTable = `CREATE TABLE IF NOT EXISTS story_votes (
		object_iri TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		choice TEXT NOT NULL,
		voted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (object_iri, actor_iri)
	)`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		public INTEGER NOT NULL DEFAULT 0,
		raw_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		recipient_iri TEXT NOT NULL,
		kind TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		object_iri TEXT NOT NULL DEFAULT '',
		activity_uri TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryAttemptsTable = `CREATE TABLE IF NOT EXISTS delivery_attempts (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT NOT NULL,
		recipient_iri TEXT NOT NULL,
		inbox_uri TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		status_code INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		attempted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_following ON follows(following_iri, status, accepted_at DESC);
		CREATE INDEX IF NOT EXISTS idx_follows_follower ON follows(follower_iri, status, accepted_at DESC);
		CREATE INDEX IF NOT EXISTS idx_follows_activity_uri ON follows(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_interactions_object ON interactions(object_iri);
		CREATE INDEX IF NOT EXISTS idx_interactions_activity_uri ON interactions(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_objects_author ON objects(author_iri);
		CREATE INDEX IF NOT EXISTS idx_objects_in_reply_to ON objects(in_reply_to);
		CREATE INDEX IF NOT EXISTS idx_activities_outbox ON activities(actor_uri, direction, public, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_iri, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_delivery_attempts_activity ON delivery_attempts(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`
)

var schema = []struct {
	name string
	sql  string
}{
	{"accounts", sqlCreateAccountsTable},
	{"communities", sqlCreateGroupsTable},
	{"community_members", sqlCreateGroupMembersTable},
	{"community_invites", sqlCreateGroupInvitesTable},
	{"remote_accounts", sqlCreateRemoteAccountsTable},
	{"follows", sqlCreateFollowsTable},
	{"interactions", sqlCreateInteractionsTable},
	{"objects", sqlCreateObjectsTable},
	{"story_views", sqlCreateStoryViewsTable},
	{"story_votes", sqlCreateStoryVotesTable},
	{"activities", sqlCreateActivitiesTable},
	{"notifications", sqlCreateNotificationsTable},
	{"delivery_attempts", sqlCreateDeliveryAttemptsTable},
}

// RunMigrations creates every table and index. It is safe to run on an
// existing database.
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, table := range schema {
			if err := createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(sqlCreateIndices); err != nil {
			log.Warn().Err(err).Msg("Failed to create indices")
		}
		return nil
	})
}

func createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		log.Error().Err(err).Str("table", tableName).Msg("Error creating table")
		return err
	}
	log.Debug().Str("table", tableName).Msg("Table created or already exists")
	return nil
}
