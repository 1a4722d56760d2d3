// Package auth protects the management API with HS256 JWT bearer tokens.
//
// Tokens are signed with the configured jwt_secret and carry the caller's
// principal in the "sub" claim, which handlers read back with PrincipalID
// for audit logging:
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("ops@example.com", 24*time.Hour)
//	mux.Handle("/asana/", auth.HTTPAuthMiddleware(verifier, logger)(api))
//
// The webhook endpoint is not behind this middleware; Asana deliveries are
// authenticated by their HMAC signature instead.
package auth
