// Package notify coordinates push traffic for one tab.
//
// It keeps the notification list (deduplicated by id, unread count derived
// from read flags), applies optimistic mutations with exact rollback, and
// turns permission and session updates into auth state changes, forced
// logouts or page-local refresh events.
package notify
