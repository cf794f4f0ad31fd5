// Package logx wraps zerolog behind a small stable API so components never
// depend on the logging backend directly.
//
// The Service owns output sinks (console, optional JSON file) and supports
// live reconfiguration via Apply(); Loggers derived from it stay valid across
// Apply() calls.
package logx
