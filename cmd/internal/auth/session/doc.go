// Package session turns credentials into identities.
//
// A Resolver tries, in order: a signed access token (JWT, HS256), an account API token, a device
// token, then the configured bootstrap credentials. The first match wins. Resolution is read-only;
// the Authenticator wraps it and performs the one side effect the bootstrap path needs, writing the
// device token so later connections resolve through the regular device-token step.
//
// Transport glue (header parsing, request middleware) lives in http.go so HTTP and websocket
// entry points extract credentials the same way.
package session
