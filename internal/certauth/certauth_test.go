package certauth

import "testing"

func TestAdmitted(t *testing.T) {
	cases := []struct {
		name string
		id   Identity
		want bool
	}{
		{"private user with user id", Identity{Roles: []string{RolePrivateUser}, UserID: "u1"}, true},
		{"private user without user id", Identity{Roles: []string{RolePrivateUser}}, false},
		{"public exchange", Identity{Exchange: ExchangePublic}, true},
		{"protected exchange", Identity{Exchange: ExchangeProtected}, true},
		{"no exchange no role no delegation", Identity{}, false},
		{"global owner", Identity{GlobalOwner: true}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Admitted(c.id); got != c.want {
				t.Errorf("Admitted(%+v) = %v, want %v", c.id, got, c.want)
			}
		})
	}
}

func TestRequireRoleOnExchange(t *testing.T) {
	scraper := Identity{Roles: []string{RoleWebScraper}, Exchange: ExchangePublic}
	if !RequireRoleOnExchange(scraper, RoleWebScraper, ExchangePublic) {
		t.Errorf("expected scraper on public exchange to pass")
	}
	if RequireRoleOnExchange(scraper, RoleWebScraper, ExchangeProtected) {
		t.Errorf("expected scraper on protected exchange to fail")
	}
	noRole := Identity{Exchange: ExchangePublic}
	if RequireRoleOnExchange(noRole, RoleWebScraper, ExchangePublic) {
		t.Errorf("expected identity without the role to fail")
	}
}

func TestFeedOwnership(t *testing.T) {
	cases := []struct {
		name          string
		id            Identity
		feedUserID    string
		securityLevel Exchange
		includeShared bool
		want          bool
	}{
		{"admin over system feed", Identity{GlobalOwner: true}, "", ExchangeProtected, false, true},
		{"admin over user feed denied", Identity{GlobalOwner: true}, "other-user", ExchangeProtected, false, false},
		{"user over own feed", Identity{UserID: "u1"}, "u1", ExchangePrivate, false, true},
		{"user over someone else's feed denied", Identity{UserID: "u1"}, "u2", ExchangePrivate, false, false},
		{"shared public system feed", Identity{UserID: "u1"}, "", ExchangePublic, true, true},
		{"shared protected system feed denied", Identity{UserID: "u1"}, "", ExchangeProtected, true, false},
		{"mapper on protected reads any feed", Identity{Roles: []string{RoleDatasourceMapper}, Exchange: ExchangeProtected}, "u2", ExchangePrivate, false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FeedOwnership(c.id, c.feedUserID, c.securityLevel, c.includeShared); got != c.want {
				t.Errorf("FeedOwnership(...) = %v, want %v", got, c.want)
			}
		})
	}
}
