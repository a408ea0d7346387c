// Package local dials the agent's local stream socket for socket-mode
// connections.
package local
