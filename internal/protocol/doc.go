// Package protocol owns the agent wire contract.
//
// Ownership boundary:
// - message type numbers and ranges
// - error code enumeration
// - protocol version and fragment bound
//
// Primitive encoding lives in protocol/wire, framing in protocol/frame and
// typed message shapes in protocol/message.
package protocol
