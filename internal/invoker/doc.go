// Package invoker runs external cluster-management commands (kubectl, helm)
// to completion and reports their output. Each call is a black box: the
// invoker never retries, and the only deadline is the caller's context plus
// an optional per-command timeout.
package invoker
