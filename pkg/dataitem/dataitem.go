// Package dataitem owns the two shapes a feed's captured content takes —
// DataItemV1 (encrypted content inline) and DataFileV2 (content out-of-line,
// referenced by a fuuid blob) — plus VolatileFile, the short-lived handle
// scrapers publish for files not yet persisted (§3).
package dataitem

import "time"

// FileRef is one attached file reference carried inline on a v1 data item.
type FileRef struct {
	Fuuid string `bson:"fuuid" json:"fuuid"`
	CleID string `bson:"cle_id" json:"cle_id"`
}

// DataItemV1 is the legacy inline form: the encrypted content lives directly
// on the row.
type DataItemV1 struct {
	FeedID        string    `bson:"feed_id" json:"feed_id"`
	DataID        string    `bson:"data_id" json:"data_id"`
	PubDate       time.Time `bson:"pub_date" json:"pub_date"`
	EncryptedData string    `bson:"encrypted_data" json:"encrypted_data"`
	Files         []FileRef `bson:"files,omitempty" json:"files,omitempty"`
}

// DataFileV2 is the out-of-line form: content lives as a blob referenced by
// DataFuuid; every fuuid mentioned must eventually be claimed with Topology
// (§3 invariant).
type DataFileV2 struct {
	FeedID         string     `bson:"feed_id" json:"feed_id"`
	DataID         string     `bson:"data_id" json:"data_id"`
	SaveDate       time.Time  `bson:"save_date" json:"save_date"`
	PubDateStart   *time.Time `bson:"pub_date_start,omitempty" json:"pub_date_start,omitempty"`
	PubDateEnd     *time.Time `bson:"pub_date_end,omitempty" json:"pub_date_end,omitempty"`
	DataFuuid      string     `bson:"data_fuuid" json:"data_fuuid"`
	KeyIDs         []string   `bson:"key_ids" json:"key_ids"`
	AttachedFuuids []string   `bson:"attached_fuuids,omitempty" json:"attached_fuuids,omitempty"`
}

// AllFuuids returns every fuuid this data file references: the primary blob
// plus any attached fuuids, used for the post-commit claim-and-visit call
// after a V2 save. The ticker's claim-all sweep does not use it; it reads
// the v1 collection through Store.AllFuuids.
func (d DataFileV2) AllFuuids() []string {
	out := make([]string, 0, 1+len(d.AttachedFuuids))
	if d.DataFuuid != "" {
		out = append(out, d.DataFuuid)
	}
	out = append(out, d.AttachedFuuids...)
	return out
}

// VolatileFile is a short-lived handle published by scrapers for files not
// yet persisted against a feed.
type VolatileFile struct {
	Correlation string    `bson:"correlation" json:"correlation"`
	Fuuid       string    `bson:"fuuid" json:"fuuid"`
	Format      string    `bson:"format" json:"format"`
	CleID       string    `bson:"cle_id" json:"cle_id"`
	Nonce       *string   `bson:"nonce,omitempty" json:"nonce,omitempty"`
	Compression *string   `bson:"compression,omitempty" json:"compression,omitempty"`
	Expiration  time.Time `bson:"expiration" json:"expiration"`
	Created     time.Time `bson:"created" json:"created"`
	Modified    time.Time `bson:"modified" json:"modified"`
}

// DefaultVolatileTTL is the expiration window applied when a command omits
// an explicit expiration (§3: "default now + 7 days").
const DefaultVolatileTTL = 7 * 24 * time.Hour
