// Package monitor renders a live terminal dashboard for one generation run.
//
// The dashboard consumes the plain-text progress stream returned by
// POST /api/v1/generate, one "LOG: ", "INFO: " or "ERROR: " line at a time,
// and shows delivered events, the delivery rate over time and the most
// recent lines. Closing the dashboard early stops reading the stream, which
// lets the caller close the request and cancel the run.
package monitor
