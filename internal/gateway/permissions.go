package gateway

// Wildcard grants every permission and waives high-write confirmation.
const Wildcard = "*"

// User is the invoking identity as asserted by the agent-tool layer.
type User struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasWildcard reports whether the user holds the wildcard permission.
func (u User) HasWildcard() bool {
	for _, p := range u.Permissions {
		if p == Wildcard {
			return true
		}
	}
	return false
}

// Satisfies reports whether the user's permission set covers every required
// permission. An empty requirement set is always satisfied.
func (u User) Satisfies(required []string) bool {
	if len(required) == 0 || u.HasWildcard() {
		return true
	}
	held := make(map[string]struct{}, len(u.Permissions))
	for _, p := range u.Permissions {
		held[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[r]; !ok {
			return false
		}
	}
	return true
}
