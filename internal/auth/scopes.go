package auth

// OIDC scopes requested during login. Email is what resolves the actor.
const (
	ScopeOpenID = "openid"
	ScopeEmail  = "email"
)
