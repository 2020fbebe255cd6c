// Package envelope models the transaction envelope: the signed,
// content-addressed message that is both the wire form of a command and the
// durable log entry persisted to the transaction collection.
package envelope

import (
	"encoding/json"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Kind is the message kind extracted at ingress.
type Kind int

const (
	KindRequest Kind = iota
	KindCommand
	KindEvent
	KindTransaction
	KindTrigger
)

// Envelope is the parsed form of an inbound message: the action being
// invoked, its timestamp (estampille), the opaque content, any
// attached material (such as an escrowed key), and the envelope's own
// content-addressed id once computed.
type Envelope struct {
	ID          string            `json:"id,omitempty"`
	Action      string            `json:"action"`
	Estampille  time.Time         `json:"estampille"`
	Contenu     json.RawMessage   `json:"contenu"`
	Attachments map[string]string `json:"attachements,omitempty"`
}

// Attachment returns the named attachment and whether it was present. The
// command handlers use this to pull an escrowed key ("key") out of the
// envelope before forwarding it to KeyMaster.
func (e Envelope) Attachment(name string) (string, bool) {
	v, ok := e.Attachments[name]
	return v, ok
}

// ComputeID assigns the envelope's content-addressed id: a blake2b-256 hash
// over the action and content, hex-encoded. Transactions are addressed by
// this id, so it must be stable for identical (action, contenu) pairs and is
// computed once, before the id is used as feed_id/feed_view_id.
func ComputeID(action string, contenu json.RawMessage) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write(contenu)
	return hex.EncodeToString(h.Sum(nil)), nil
}
