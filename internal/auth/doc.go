// Package auth provides authentication for the lectern gateway.
//
// # JWT Tokens
//
// Users authenticate with HS256 JWTs signed with the configured jwt_secret.
// The "sub" claim carries the user id issued by the identity provider.
// Tokens are minted out of band with `lectern-gateway token --user <id>`.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware reads the bearer token from the Authorization header
// (or the access_token query parameter for EventSource and browser
// WebSocket clients), verifies it and resolves the user's mirrored profile.
// Handlers read the result with FromContext:
//
//	authCtx := auth.FromContext(r.Context())
//	authCtx.UserID, authCtx.Email, authCtx.Role
//
// RequireStudentHTTP gates endpoints that only make sense for students,
// such as seeding conversations from enrollments.
package auth
