// Package executor runs generator child processes.
//
// Streaming mode (Start) exposes stdout as a bounded channel of OutputLine
// values: one LOG line per stdout line, then the collected stderr as a single
// ERROR block, then a terminal status line carrying the exit code. The
// channel closes after the terminal line. An Execution is not restartable.
//
// Ad-hoc mode (Execute) runs a generator to completion under a hard timeout
// and returns the combined output with its detected log format.
//
// Secrets reach a child only through Invocation.Env.
package executor
