// Package feedview owns FeedView (a projection definition over a feed) and
// FeedViewData, the rows an external Mapper worker materialises into one of
// two typed collections selected by ViewDataType (§3, §9 "polymorphism over
// data-type").
package feedview

import "time"

// ViewDataType is the tagged variant selecting the target collection and
// index for a feed view's materialised rows.
type ViewDataType string

const (
	ViewDataDated        ViewDataType = "Dated"
	ViewDataGroupedDated ViewDataType = "GroupedDated"
)

// ParseViewDataType parses the wire value of a feed view's data_type,
// defaulting to GroupedDated when absent (§4.3 insertViewData, §6). The
// original's matching arm tested the misspelt literal "GrouepdDated" for
// the grouped variant (§9 open question); this implementation accepts only
// the correctly spelled "GroupedDated" and treats anything else, including
// an empty string, as the default.
func ParseViewDataType(s string) ViewDataType {
	switch s {
	case string(ViewDataDated):
		return ViewDataDated
	case string(ViewDataGroupedDated):
		return ViewDataGroupedDated
	default:
		return ViewDataGroupedDated
	}
}

// FeedView is a projection definition over a feed.
type FeedView struct {
	FeedViewID          string       `bson:"feed_view_id" json:"feed_view_id"`
	FeedID              string       `bson:"feed_id" json:"feed_id"`
	EncryptedData       string       `bson:"encrypted_data" json:"encrypted_data"`
	Name                *string      `bson:"name,omitempty" json:"name,omitempty"`
	Active              bool         `bson:"active" json:"active"`
	Decrypted           bool         `bson:"decrypted" json:"decrypted"`
	Deleted             bool         `bson:"deleted" json:"deleted"`
	Ready               bool         `bson:"ready" json:"ready"`
	MappingCode         string       `bson:"mapping_code" json:"mapping_code"`
	DataType            ViewDataType `bson:"data_type" json:"data_type"`
	CreationDate        time.Time    `bson:"creation_date" json:"creation_date"`
	ModificationDate    time.Time    `bson:"modification_date" json:"modification_date"`
	ProcessingStartDate *time.Time   `bson:"processing_start_date,omitempty" json:"processing_start_date,omitempty"`
}

// DatedItem is one row of the Dated variant of FeedViewData.
type DatedItem struct {
	FeedViewID    string    `bson:"feed_view_id" json:"feed_view_id"`
	DataID        string    `bson:"data_id" json:"data_id"`
	PubDate       time.Time `bson:"pub_date" json:"pub_date"`
	EncryptedData string    `bson:"encrypted_data" json:"encrypted_data"`
	Files         []string  `bson:"files,omitempty" json:"files,omitempty"`
}

// GroupedDatedItem is one row of the GroupedDated variant: a DatedItem plus
// a group_id.
type GroupedDatedItem struct {
	DatedItem `bson:",inline"`
	GroupID   string `bson:"group_id" json:"group_id"`
}
