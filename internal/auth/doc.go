// Package auth protects the control API with HS256 bearer tokens.
//
// Tokens are minted with JWTVerifier.Generate (the CLI exposes this as
// "parley token") and carry the issuer "parley", a subject and an expiry.
// RequireBearer wraps handlers that change state, such as starting a
// conversation; read-only endpoints stay public. When no secret is
// configured the middleware is a no-op.
package auth
