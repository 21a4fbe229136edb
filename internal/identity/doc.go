// Package identity holds the client's view of the authenticated principal
// and of the server-resident sessions it may inspect or revoke.
package identity
