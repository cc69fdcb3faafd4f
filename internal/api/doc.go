// Package api hosts HTTP handlers that front the ClipVault REST API.
//
// The handlers assembled by Handler coordinate request validation, session
// awareness, and response shaping while delegating persistence to
// storage.Repository implementations and remote asset handling to media.Store
// implementations injected at construction time. Authentication and session
// lifecycle management are provided by auth.SessionManager instances passed
// into the handler; the package does not reach for globals or singletons and
// expects callers to supply fully configured dependencies.
//
// Every payload is wrapped in a common envelope carrying the status code, the
// response data, a human-readable message, and a success flag, so clients can
// treat successes and failures uniformly.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication, rate limiting, metrics, and logging
// concerns. New routes should preserve that contract by avoiding duplicate
// validation and by leaning on the middleware guarantees established in the
// server stack.
package api
