//go:build !burstdebug

package burst

// panicOnAlignmentViolation is a no-op in production builds: §7 says
// production "trusts the planner but fails fast on any detected
// invariant breach," which here means returning the error rather than
// crashing the process.
func panicOnAlignmentViolation(err error) {}

const debugBuild = false
