// Package realtime is the embeddable coordination layer that keeps a
// helpdesk client's notification feed and ticket-ownership state consistent.
//
// Two independent, unreliable update sources feed it: a push channel
// (websocket, reconnecting with capped backoff) and a periodic poll of the
// canonical feed. An idempotent, commutative reconciler merges both into one
// canonical store, so the final state never depends on which source delivered
// an item first. On top of the same transports runs the bounded-time
// offer/accept/reject protocol used when one agent hands a ticket to another.
//
// The host application owns authentication and rendering; it supplies a
// bearer token provider and an Alerter, and consumes the feed through a
// Session.
package realtime
