// Package env expands ${VAR} references inside environment variable
// values against a set of already-resolved variables, so an app's fleet
// file can reference one env var's value from another (e.g. building a
// DSN out of already-declared host/port/user variables).
package env

import "strings"

// Expand replaces every ${KEY} occurrence in s with vars[KEY]. A
// reference to a key absent from vars is left untouched rather than
// collapsed to an empty string, so a typo'd reference is visible in the
// child's environment instead of silently disappearing.
func Expand(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start
		key := s[start+2 : end]
		b.WriteString(s[:start])
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return b.String()
}
