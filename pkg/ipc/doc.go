// See ipc.go. One connection, one request line, one response line — the
// server does not keep connections open across requests.
package ipc
