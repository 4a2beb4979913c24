package security

import (
	"regexp"
	"strings"
)

var (
	goroutinePattern = regexp.MustCompile(`goroutine \d+ \[[^\]]+\]:[\s\S]*?(?:\n\n|\z)`)
	fileLinePattern  = regexp.MustCompile(`\S+\.go:\d+`)
	addrPattern      = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	// Two or more segments, so "main.lua" and "a/b" are kept.
	unixPathPattern    = regexp.MustCompile(`(?:^|[\s"'(=])(/[\w.\-]+(?:/[\w.\-]+)+)`)
	windowsPathPattern = regexp.MustCompile(`[A-Za-z]:\\[^\s"':]+`)
)

// PublicMessage returns err's message with host file paths and Go stack
// details removed, for internal errors that reach API clients. Interpreter
// diagnostics are shown verbatim elsewhere and must not pass through here.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage applies the PublicMessage redactions to msg.
func SanitizeMessage(msg string) string {
	msg = goroutinePattern.ReplaceAllString(msg, "[STACK_TRACE_REMOVED]")
	msg = fileLinePattern.ReplaceAllString(msg, "[FILE:LINE]")
	msg = addrPattern.ReplaceAllString(msg, "[ADDR]")
	msg = unixPathPattern.ReplaceAllStringFunc(msg, func(m string) string {
		// Keep the delimiter the pattern consumed.
		if i := strings.IndexByte(m, '/'); i > 0 {
			return m[:i] + "[PATH]"
		}
		return "[PATH]"
	})
	msg = windowsPathPattern.ReplaceAllString(msg, "[PATH]")
	return strings.TrimSpace(msg)
}
