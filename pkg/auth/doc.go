/*
Package auth verifies the bearer tokens carried on WebSocket handshakes.

The Authenticator interface keeps the token format opaque to the rest of
the control plane. HMACAuthenticator is the shipped implementation:
HMAC-SHA256 signed payloads carrying user id, email, plan, and expiry,
plus a process-scoped revocation list. Cross-process revocation is the
credential issuer's responsibility.
*/
package auth
