// Package logx is caseobserver's structured logger.
//
// Logger wraps zerolog with typed Field helpers. A Service owns the outputs
// (console, JSON file and an operator alert chat) and can swap them at
// runtime without invalidating Loggers derived from it.
package logx
