package filter

import "strings"

// Parse autodetects the grammar of a single FILTER token the way the
// command adapter encounters it: a token containing `{` or composed of
// only a bare identifier is Prometheus-style; anything else (an explicit
// `label=value`/`label!=(v1,v2)` form, which the Prometheus grammar never
// produces without braces) is basic."
func Parse(token string) (Groups, error) {
	trimmed := strings.TrimSpace(token)
	if looksPrometheusStyle(trimmed) {
		return ParsePromSelector(trimmed)
	}
	m, err := ParseBasic(trimmed)
	if err != nil {
		return nil, err
	}
	return Groups{{m}}, nil
}

func looksPrometheusStyle(s string) bool {
	if strings.ContainsRune(s, '{') {
		return true
	}
	// a bare identifier with no '=' is only valid as a Prometheus metric
	// name selector; the basic grammar always requires '='.
	return !strings.ContainsAny(s, "=!")
}
