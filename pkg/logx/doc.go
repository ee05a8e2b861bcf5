// Package logx wraps zerolog behind a small structured-logging API whose
// sinks and level can be swapped at runtime via Service.Apply.
//
// The zero Logger value is a safe no-op, so components may hold a Logger
// field without nil checks.
package logx
