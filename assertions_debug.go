//go:build burstdebug

package burst

// panicOnAlignmentViolation turns an internal alignment bug into a
// panic in debug builds (go build -tags burstdebug), matching §7's
// policy that AlignmentViolation "aborts the process in debug builds."
func panicOnAlignmentViolation(err error) {
	panic(err)
}

const debugBuild = true
