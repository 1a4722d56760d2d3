// Package gateway wires the coven-asana components together and serves them
// over HTTP.
//
// # Overview
//
// The Gateway owns the sqlite store, the Asana client, the conversation
// runtime, the result reporters, the task reconciler and the webhook
// endpoint. New builds all of them from a config.Config; Run serves until
// its context is canceled and then shuts down in dependency order.
//
// # HTTP Surface
//
// Unauthenticated:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (database ping)
//   - POST /webhooks/asana - Asana handshake and event deliveries
//   - GET /webhooks/asana/status - Secret and dedupe counters
//   - GET /conversations/{id} - Read-only progress page
//
// Management, mounted only when auth.jwt_secret is set and guarded by an
// HS256 bearer token:
//
//   - GET /asana/webhook/status
//   - POST /asana/webhook/create
//   - DELETE /asana/webhook
//   - GET /asana/mappings
//   - DELETE /asana/mappings/{conversation_id}
//   - GET /asana/conversations
//
// # Listeners
//
// Asana must reach the webhook endpoint over public HTTPS. With tailscale
// enabled and funnel on, the gateway joins the tailnet via tsnet and
// listens on Funnel :443; otherwise it listens on server.http_addr and
// expects a reverse proxy in front.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	err = gw.Run(ctx)
package gateway
