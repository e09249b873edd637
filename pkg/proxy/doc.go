/*
Package proxy implements a local HTTP server that signs requests for the Client Portal Web API.

Clients send ordinary, unauthenticated requests to the proxy using the same paths as the API (for
example, GET /v1/api/iserver/accounts). The proxy obtains a live session token, signs each request
with it and forwards the request upstream. Responses are relayed unchanged, so existing Client
Portal Gateway clients can use OAuth credentials without modification.

If the API rejects a request with 401, the proxy discards its live session token, performs a new
handshake and sends the request once more. Other failures are returned to the client as-is.

The proxy does not authenticate its own clients. Only listen on localhost, or put the proxy behind
a server that does.
*/
package proxy
