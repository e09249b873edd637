// Package cache allows clients to resume OAuth sessions without repeating the live session token
// handshake.
//
// Acquiring a live session token costs a round-trip and an RSA operation, and the server limits how
// often a consumer may request one. Tokens remain valid for about 24 hours, so command-line tools
// that run many short-lived processes benefit from storing them between runs. A cached token that
// the server no longer accepts causes a 401 response; callers should then delete the entry and
// request a new token.
//
// Cached tokens are bearer credentials for the account. If a SessionCache is exported using its
// [SessionCache.Export] or [SessionCache.ExportToFile] methods, access controls should be used to
// prevent third parties from reading or tampering with the data.
package cache
