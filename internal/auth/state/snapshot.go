package state

import "github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"

// Snapshot is the reactive view of a tab's authorization state.
// Snapshots are values; a subscriber may keep one without synchronization.
type Snapshot struct {
	User                identity.User
	AccessTokenPresent  bool
	RefreshTokenPresent bool
	Permissions         Set
	Roles               Set
	IsAuthenticated     bool
}

// LoggedOut is the empty, unauthenticated snapshot.
func LoggedOut() Snapshot {
	return Snapshot{Permissions: NewSet(), Roles: NewSet()}
}
