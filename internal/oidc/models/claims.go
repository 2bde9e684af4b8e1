package models

// ScopeClaims maps each OIDC scope to the claim names it stands for. The
// userinfo aggregator expands a grant's scope through this table before
// merging in explicitly requested claims.
var ScopeClaims = map[string][]string{
	"openid": {"sub"},
	"profile": {
		"name", "given_name", "family_name", "middle_name", "nickname",
		"profile", "picture", "website", "gender", "birthdate", "zoneinfo",
		"locale", "updated_at", "preferred_username",
	},
	"email":   {"email", "email_verified"},
	"address": {"address"},
	"phone":   {"phone_number", "phone_number_verified"},
}

// SupportedClaims enumerates every claim name reachable through a scope.
func SupportedClaims() []string {
	var out []string
	for _, names := range ScopeClaims {
		out = append(out, names...)
	}
	return out
}
