// Package gateway terminates client WebSocket connections and bridges them
// to the event bus.
//
// # Overview
//
// Every connection runs a session state machine (Connecting, Authenticating,
// Active, Closing, Closed). Credentials arrive as a connection-time token,
// either a query parameter or an initial auth frame inside a grace period;
// anything else gets a connection_error with code 401 and a closed socket.
//
// Active sessions exchange JSON frames {id, type, payload, timestamp,
// metadata?}. Inbound frames are validated, rate-limited by a per-session
// token bucket and routed to registered collaborator handlers; subscribe and
// unsubscribe frames mutate the session's event-type set. Outbound, the
// gateway subscribes to the bus and pushes matching events to each session's
// bounded send queue, so one slow consumer never stalls the rest.
//
// Streaming responses go out as ordered chat_stream chunks sharing a stream
// id; a per-stream accumulator enforces the sequence invariant and drops
// violations without killing the session.
//
// # Related Packages
//
//   - pkg/bus: the event source for outbound pushes
//   - pkg/ratelimit: per-session token buckets
package gateway
