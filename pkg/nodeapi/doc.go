// See nodeapi.go. Routing follows the go-chi idiom: a router built once at
// construction, auth as route-group middleware rather than per-handler
// checks, consistent with how the example pack wires chi elsewhere.
package nodeapi
