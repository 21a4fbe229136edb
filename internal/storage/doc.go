// Package storage implements Durable Session Storage: a key/value store that
// survives restarts and is shared by every tab of the same origin.
//
// A Backend is the shared store. Each tab talks to it through an Area, which
// stamps writes with the tab's origin id and hides the tab's own writes from
// its watchers, so a tab only ever observes changes made by its siblings.
//
// Two backends exist: Memory for tabs living in one process, and Postgres for
// tabs spread over several processes (changes travel over LISTEN/NOTIFY).
package storage
