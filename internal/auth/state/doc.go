// Package state is the per-tab Auth State Container.
//
// The container mirrors the authorization material kept in durable session
// storage. Tokens are never held in the snapshot; they are read from storage
// on demand. All mutations go through SetAuth and Logout, and subscribers are
// notified synchronously after each effective change.
package state
