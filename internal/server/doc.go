// Package server implements the chat WebSocket endpoint.
//
// Each upgraded connection runs a Session that authenticates the client,
// subscribes it to its room on the bus, replays the room history and then
// relays frames in both directions. Inbound messages are throttled per user,
// stamped, appended to the room history and published to every subscriber of
// the room, on this process or any other sharing the same bus.
//
// The implementation is split into files for session lifecycle, origin
// checks, routing, HTTP handlers and server startup.
package server
