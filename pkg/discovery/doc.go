// See discovery.go.
package discovery
