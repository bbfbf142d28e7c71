package audit

import (
	"strings"
)

// RemediationScript returns a shell script that moves each broken source
// out of the build set by renaming it to <file>.disabled.
func RemediationScript(broken []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Disable grammar sources that fail to compile.\n")
	b.WriteString("# Rename a file back to re-enable it.\n")
	b.WriteString("set -e\n")
	for _, f := range broken {
		b.WriteString("mv -- ")
		b.WriteString(shellQuote(f))
		b.WriteString(" ")
		b.WriteString(shellQuote(f + ".disabled"))
		b.WriteString("\n")
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
