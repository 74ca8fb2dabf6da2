// Package api implements the HTTP REST API and WebSocket server for meshlink.
//
// This package provides:
//   - REST endpoints for reading stored messages and contacts
//   - Sending messages over the mesh through the relay
//   - A Server-Sent Events stream of new messages
//   - WebSocket hub for real-time message broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, send rate limit)
//
// # Routes
//
// Every route is served under /api/v1. The same routes are also mounted under
// /api for clients written against the earlier unversioned paths.
//
// # Graceful Degradation
//
// Reads never touch the radio. While the relay is disconnected the message
// history, contacts and status endpoints keep working; only sends fail with
// 503.
package api
