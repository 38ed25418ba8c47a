package sales

const RoleAdmin = "admin"

// AuthContext is the identity the session collaborator resolved for a
// request. A zero value means unauthenticated.
type AuthContext struct {
	BuyerID string
	Role    string
}

func (a AuthContext) Authenticated() bool { return a.BuyerID != "" }

func (a AuthContext) IsAdmin() bool { return a.Authenticated() && a.Role == RoleAdmin }
