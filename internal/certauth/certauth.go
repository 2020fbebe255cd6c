// Package certauth models the claims carried by a caller's certificate and
// the composed authorization predicate described for the ingress gate: a
// caller is admitted if any of a private-user check, an exchange assertion,
// or a global-owner delegation holds, and individual handlers layer a
// narrower role check or a resource-scoped ownership check on top.
package certauth

// Exchange is the security level a message was received on.
type Exchange string

const (
	ExchangePublic    Exchange = "1.public"
	ExchangePrivate   Exchange = "2.prive"
	ExchangeProtected Exchange = "3.protege"
	ExchangeSecret    Exchange = "4.secure"
)

// Role names asserted by a certificate, matching the roles the original
// domain checks for narrower command authorization.
const (
	RoleWebScraper      = "web_scraper"
	RoleDatasourceMapper = "datasource_mapper"
	RolePrivateUser      = "compte_prive"
)

// Identity is the set of claims the ingress gate extracts from a validated
// certificate before a handler runs. It never carries the certificate bytes
// themselves — only what authorization needs.
type Identity struct {
	UserID      string
	Roles       []string
	Exchange    Exchange
	GlobalOwner bool     // the "delegation globale proprietaire" claim
	CertChain   []string // caller's certificate chain, forwarded to KeyMaster for re-encryption
}

// HasRole reports whether the identity asserts the given role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Admitted implements the §4.2 composed predicate: the caller passes the
// ingress gate if it is a private user with a user id, asserts any of the
// four standard exchanges, or carries the global-owner delegation.
func Admitted(id Identity) bool {
	if id.HasRole(RolePrivateUser) && id.UserID != "" {
		return true
	}
	switch id.Exchange {
	case ExchangePublic, ExchangePrivate, ExchangeProtected, ExchangeSecret:
		return true
	}
	if id.GlobalOwner {
		return true
	}
	return false
}

// RequireRoleOnExchange implements the narrower per-handler checks: scraper
// writes require RoleWebScraper on ExchangePublic, mapper writes require
// RoleDatasourceMapper on ExchangeProtected.
func RequireRoleOnExchange(id Identity, role string, exchange Exchange) bool {
	return id.HasRole(role) && id.Exchange == exchange
}

// FeedOwnership decides whether id may act on a feed owned by feedUserID
// (empty feedUserID means a system feed). includeShared additionally allows
// a user to read system feeds at public/private security levels.
func FeedOwnership(id Identity, feedUserID string, feedSecurityLevel Exchange, includeShared bool) bool {
	if id.GlobalOwner && feedUserID == "" {
		return true // admin over a system feed
	}
	if feedUserID != "" && feedUserID == id.UserID {
		return true // user over their own feed
	}
	if includeShared && feedUserID == "" {
		switch feedSecurityLevel {
		case ExchangePublic, ExchangePrivate:
			return true
		}
	}
	if id.HasRole(RoleDatasourceMapper) && id.Exchange == ExchangeProtected {
		return true // mapper on protected may read any feed; the deleted flag is not checked here
	}
	return false
}
