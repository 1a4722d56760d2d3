// Package agent is the client side of a coven-gateway's HTTP messaging API.
//
// # Overview
//
// The bridge never talks to agents directly. Each message is posted to the
// gateway's POST /api/send endpoint, which answers with a server-sent event
// stream:
//
//	event: started
//	data: {"thread_id":"..."}
//
//	event: text
//	data: {"text":"partial output"}
//
//	event: done
//	data: {"full_response":"..."}
//
// Client.SendMessage turns that stream into a channel of *Response values.
// The channel always ends with exactly one terminal event (done, error or
// cancelled). A stream that drops before completion, or that runs past the
// configured timeout, produces a synthetic EventError.
//
// The first started event carries the gateway thread id. Passing it back in
// SendRequest.ThreadID continues the same conversation.
package agent
