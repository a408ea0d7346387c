// Package message holds one typed builder per outbound frame shape and the
// decoders for inbound bodies. Builders never fail; decoders return a
// *DecodeError naming the frame type and the failing field.
package message
