// Package conversation is the bridge's conversation runtime.
//
// # Overview
//
// A conversation is a store.Thread plus its ledger of events. The Service
// creates conversations for Asana tasks, relays follow-up messages to the
// agent through a coven-gateway, and records everything the agent streams
// back, including agent state changes:
//
//	running              message accepted by the gateway
//	awaiting_user_input  agent finished its turn
//	error                agent or stream failed
//	stopped              request was cancelled
//
// IsTerminal reports the states after which the agent makes no further
// progress without new input.
//
// # Events
//
// Each persisted event is published on an EventBroadcaster keyed by
// conversation id. Subscribers that fall behind lose events rather than
// blocking the stream, and can recover them with RecentEvents.
package conversation
