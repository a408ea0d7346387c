// Package agent is the client engine for the key agent protocol.
//
// A Conn owns one connection: the version handshake, the table of
// outstanding operations keyed by correlation id, fragmentation of large
// key operation payloads and routing of every inbound frame. The engine is
// single threaded and does no locking. In socket mode every entry point and
// callback runs on the Poster passed to Open; in external mode the host
// serializes calls itself.
package agent
