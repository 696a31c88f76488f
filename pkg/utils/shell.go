// Package utils provides small helpers shared across the orchestrator:
// shell quoting, process liveness checks, and short id generation.
package utils

import "strings"

// ShellQuote wraps s in single quotes so it is safe to embed in a shell
// command line. Embedded single quotes are closed, escaped, and reopened
// ('\''), which is the only escape the POSIX single-quote context needs.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellQuoteAll quotes every argument and joins them with spaces.
func ShellQuoteAll(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = ShellQuote(arg)
	}
	return strings.Join(quoted, " ")
}
