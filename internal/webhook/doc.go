// Package webhook is the boundary between Asana and the bridge.
//
// Asana first performs a handshake by POSTing an X-Hook-Secret header, which
// is echoed back and stored. Every later delivery carries X-Hook-Signature,
// the hex HMAC-SHA256 of the raw body under that secret. Verified payloads
// are decoded into Event variants and processed in background goroutines;
// the HTTP response never waits on the agent.
//
// Registrar manages the webhook registration itself.
package webhook
