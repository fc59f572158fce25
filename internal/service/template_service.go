// internal/service/template_service.go
package service

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate substitutes {{ name }} placeholders from vars. Placeholders
// with no matching variable are left verbatim, never an error: a typo in a
// template must not fail a whole broadcast.
func RenderTemplate(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[strings.ToLower(name)]; ok {
			return value
		}
		return match
	})
}
