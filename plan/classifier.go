package plan

import (
	"regexp"
	"strings"

	"github.com/braidsearch/braid/schema"
)

// classifierRule pairs a query type with the pattern that recognizes it.
type classifierRule struct {
	qtype   schema.QueryType
	pattern *regexp.Regexp
}

// Rules are evaluated in order and the first match wins. Comparative and
// aggregation markers are the most distinctive, so they run first; the
// multi-hop rule runs last because its markers (connectives, sentence
// boundaries) are the most generic.
var classifierRules = []classifierRule{
	{schema.QueryComparative, regexp.MustCompile(`(?i)\b(compare|compared|comparing|comparison|versus|vs|difference|differences|differ|better than|worse than|pros and cons)\b`)},
	{schema.QueryAggregation, regexp.MustCompile(`(?i)\b(how many|how much|count|total|sum|average|number of|list all|all of the|across all)\b`)},
	{schema.QueryTemporal, regexp.MustCompile(`(?i)\b(when|before|after|during|since|until|timeline|history|over time|first released|most recent)\b`)},
	{schema.QueryConditional, regexp.MustCompile(`(?i)\b(if|unless|in case|provided that|assuming|depends on|depending on|what happens)\b`)},
	{schema.QueryMultiHop, regexp.MustCompile(`(?i)\b(then|after that|based on|which in turn|followed by|step by step)\b|[.!?;]\s+\S`)},
}

// Classifier assigns exactly one QueryType to a raw query. It is stateless,
// deterministic and never calls out of process.
type Classifier struct {
	simpleMaxWords int
}

func NewClassifier(simpleMaxWords int) *Classifier {
	if simpleMaxWords <= 0 {
		simpleMaxWords = 12
	}
	return &Classifier{simpleMaxWords: simpleMaxWords}
}

// Classify is total: every input, including empty and whitespace-only
// strings, maps to exactly one type. When no rule matches, short queries
// without terminal punctuation are Simple and everything else is MultiHop.
func (c *Classifier) Classify(query string) schema.QueryType {
	for _, rule := range classifierRules {
		if rule.pattern.MatchString(query) {
			return rule.qtype
		}
	}
	if len(strings.Fields(query)) <= c.simpleMaxWords && !strings.ContainsAny(query, ".!?") {
		return schema.QuerySimple
	}
	return schema.QueryMultiHop
}
