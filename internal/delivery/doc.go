// Package delivery streams generator output to destinations.
//
// A Pipeline turns a GenerationRequest into a Run. Prepare resolves the
// destination and its secret before anything is acquired; Run.Stream then
// walks the state machine
//
//	IDLE -> VALIDATING -> CONNECTING (syslog only) -> STREAMING -> FINALIZING -> COMPLETED | FAILED
//
// forwarding each generator line through the destination's Transport and
// reporting progress to a Sink. FINALIZING always runs: the child is
// terminated and drained and the transport released. Every run ends with
// exactly one terminal status line.
//
// Two runs against the same destination are not serialized and may
// interleave on the wire.
package delivery
