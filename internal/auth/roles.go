package auth

import "sync"

// RouteID identifies a registered route in the guard's requirement table.
type RouteID string

// Guard answers role checks against an explicit route-registration table.
// Routes with no registered requirement accept any authenticated caller.
// Pure lookup, no I/O.
type Guard struct {
	mu       sync.RWMutex
	required map[RouteID][]Role
}

// NewGuard constructs an empty guard.
func NewGuard() *Guard {
	return &Guard{required: make(map[RouteID][]Role)}
}

// Require registers the set of roles that may activate the route. An empty
// set is equivalent to no registration.
func (g *Guard) Require(route RouteID, roles ...Role) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(roles) == 0 {
		delete(g.required, route)
		return
	}
	g.required[route] = append([]Role(nil), roles...)
}

// CanActivate reports whether the principal may activate the route.
// A nil principal is rejected outright; a principal whose role is outside
// the required set gets ErrForbidden.
func (g *Guard) CanActivate(route RouteID, principal *Principal) error {
	g.mu.RLock()
	roles := g.required[route]
	g.mu.RUnlock()

	if len(roles) == 0 {
		return nil
	}
	if principal == nil {
		return ErrForbidden
	}
	for _, r := range roles {
		if principal.Role == r {
			return nil
		}
	}
	return ErrForbidden
}
