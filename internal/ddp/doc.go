// Package ddp implements a minimal client for the Distributed Data Protocol:
// the JSON-over-websocket protocol used by Meteor servers. It supports the
// connect handshake, heartbeats, method calls, subscriptions, and a local
// mirror of subscribed collections.
package ddp
