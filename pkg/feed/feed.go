// Package feed owns the Feed entity: a subscription definition either
// user-owned or, when user_id is absent, owned by the system on the admin's
// behalf (§3).
package feed

import "time"

// EncryptedInfo is the encrypted blob plus the key reference needed to
// decrypt it; the service never sees the plaintext (§1 non-goals).
type EncryptedInfo struct {
	Data  string `bson:"data" json:"data"`
	CleID string `bson:"cle_id" json:"cle_id"`
}

// Feed is the materialised row for one feed subscription.
type Feed struct {
	FeedID                    string        `bson:"feed_id" json:"feed_id"`
	FeedType                  string        `bson:"feed_type" json:"feed_type"`
	Domain                    string        `bson:"domain" json:"domain"`
	SecurityLevel             string        `bson:"security_level" json:"security_level"`
	PollRate                  *int          `bson:"poll_rate,omitempty" json:"poll_rate,omitempty"`
	Active                    *bool         `bson:"active,omitempty" json:"active,omitempty"`
	DecryptInDatabase         *bool         `bson:"decrypt_in_database,omitempty" json:"decrypt_in_database,omitempty"`
	EncryptedFeedInformation  EncryptedInfo `bson:"encrypted_feed_information" json:"encrypted_feed_information"`
	UserID                    string        `bson:"user_id,omitempty" json:"user_id,omitempty"`
	CreatedAt                 time.Time     `bson:"created_at" json:"created_at"`
	ModifiedAt                time.Time     `bson:"modified_at" json:"modified_at"`
	Deleted                   bool          `bson:"deleted" json:"deleted"`
	DeletedAt                 *time.Time    `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// IsSystemOwned reports whether the feed has no user owner (admin-managed).
func (f Feed) IsSystemOwned() bool { return f.UserID == "" }
