// Package devserver is an in-memory back-office server for local runs and
// end-to-end tests. It serves the REST API the client calls, a push gateway
// speaking push v1 over WebSocket, and unauthenticated /admin endpoints that
// trigger the server-side events a real deployment would emit.
//
// Nothing here is persistent and nothing here is meant for production.
package devserver
