package engine

import (
	"fmt"

	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/metricsql"
)

func toIndexMatchType(t metricsql.MatchType) index.MatchType {
	switch t {
	case metricsql.MatchEqual:
		return index.MatchEqual
	case metricsql.MatchNotEqual:
		return index.MatchNotEqual
	case metricsql.MatchRegexp:
		return index.MatchRegexp
	case metricsql.MatchNotRegexp:
		return index.MatchNotRegexp
	default:
		return index.MatchEqual
	}
}

// toIndexMatchers converts a Selector's matcher list (a single implicit
// AND group, per metricsql's grammar) to index.Matcher.
func toIndexMatchers(ms []*metricsql.Matcher) ([]*index.Matcher, error) {
	out := make([]*index.Matcher, 0, len(ms))
	for _, m := range ms {
		im, err := index.NewMatcher(toIndexMatchType(m.Type), m.Name, m.Value)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		out = append(out, im)
	}
	return out, nil
}
