package auth

// Known OAuth scopes.
const (
	ScopeSamplesWrite = "samples:write"
	ScopeDaysRead     = "days:read"
	ScopeProfileWrite = "profile:write"
)
