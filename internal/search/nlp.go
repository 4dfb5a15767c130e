package search

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"memoryhub/internal/store"
)

// parsedQuery is the lexical pre-parse result described in §4.5's NLP mode:
// temporal range, tags, content-type hint, an entity hint, and the
// remaining keyword/semantic query.
type parsedQuery struct {
	dateFrom   *time.Time
	dateTo     *time.Time
	tags       []string
	typeHint   string
	entityHint string
	remainder  string
}

var tagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`#(\w+)`),
	regexp.MustCompile(`(?i)\btag:(\w+)`),
	regexp.MustCompile(`(?i)\btagged?\s+(?:as|with)\s+(\w+)`),
}

var typePatterns = map[string]*regexp.Regexp{
	"note":    regexp.MustCompile(`(?i)\bnotes?\b`),
	"task":    regexp.MustCompile(`(?i)\btasks?\b|\bto-?do\b`),
	"idea":    regexp.MustCompile(`(?i)\bideas?\b|\bthoughts?\b`),
	"meeting": regexp.MustCompile(`(?i)\bmeetings?\b`),
	"code":    regexp.MustCompile(`(?i)\bcode\b|\bsnippet\b|\bscript\b`),
}

var personPattern = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)

var dateISOPattern = regexp.MustCompile(`\bon\s+(\d{4}-\d{2}-\d{2})\b`)
var dateSlashPattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
var thisWeekPattern = regexp.MustCompile(`(?i)\b(?:this|current)\s+week\b`)
var thisMonthPattern = regexp.MustCompile(`(?i)\b(?:this|current)\s+month\b`)
var lastNDaysPattern = regexp.MustCompile(`(?i)\blast\s+(\d+)\s+days?\b`)
var lastNHoursPattern = regexp.MustCompile(`(?i)\blast\s+(\d+)\s+hours?\b`)
var nDaysAgoPattern = regexp.MustCompile(`(?i)\b(\d+)\s+days?\s+ago\b`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "about": true, "as": true,
	"is": true, "was": true, "are": true, "were": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "should": true,
	"could": true, "may": true, "might": true, "must": true, "can": true,
	"find": true, "search": true, "show": true, "get": true, "list": true,
	"memories": true, "memory": true, "today": true, "yesterday": true,
	"last": true, "week": true, "month": true,
}

// parseNLP implements §4.5's lexical pre-parse. now is injected so the
// result is deterministic under test.
func parseNLP(query string, now time.Time) parsedQuery {
	var pq parsedQuery
	remainder := query

	if from, to, matched := extractTemporal(query, now); matched {
		pq.dateFrom, pq.dateTo = from, to
	}

	seen := map[string]bool{}
	for _, pat := range tagPatterns {
		for _, m := range pat.FindAllStringSubmatch(query, -1) {
			tag := strings.ToLower(m[1])
			if !seen[tag] {
				seen[tag] = true
				pq.tags = append(pq.tags, tag)
			}
		}
		remainder = pat.ReplaceAllString(remainder, "")
	}

	for typeName, pat := range typePatterns {
		if pat.MatchString(query) {
			pq.typeHint = typeName
			break
		}
	}

	if m := personPattern.FindStringSubmatch(query); m != nil {
		pq.entityHint = m[1]
	}

	remainder = stripTemporalTokens(remainder)
	pq.remainder = strings.TrimSpace(joinKeywords(remainder))
	return pq
}

func extractTemporal(query string, now time.Time) (*time.Time, *time.Time, bool) {
	lower := strings.ToLower(query)

	if strings.Contains(lower, "today") || strings.Contains(lower, "tonight") {
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		to := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
		return &from, &to, true
	}
	if strings.Contains(lower, "yesterday") {
		y := now.AddDate(0, 0, -1)
		from := time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, now.Location())
		to := time.Date(y.Year(), y.Month(), y.Day(), 23, 59, 59, 0, now.Location())
		return &from, &to, true
	}
	if m := lastNDaysPattern.FindStringSubmatch(query); m != nil {
		n, _ := strconv.Atoi(m[1])
		from := now.AddDate(0, 0, -n)
		return &from, &now, true
	}
	if m := lastNHoursPattern.FindStringSubmatch(query); m != nil {
		n, _ := strconv.Atoi(m[1])
		from := now.Add(-time.Duration(n) * time.Hour)
		return &from, &now, true
	}
	if m := nDaysAgoPattern.FindStringSubmatch(query); m != nil {
		n, _ := strconv.Atoi(m[1])
		d := now.AddDate(0, 0, -n)
		from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
		to := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, now.Location())
		return &from, &to, true
	}
	if thisWeekPattern.MatchString(lower) {
		from := now.AddDate(0, 0, -int(now.Weekday()))
		return &from, &now, true
	}
	if strings.Contains(lower, "last week") {
		from := now.AddDate(0, 0, -int(now.Weekday())-7)
		to := now.AddDate(0, 0, -int(now.Weekday()))
		return &from, &to, true
	}
	if thisMonthPattern.MatchString(lower) {
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &from, &now, true
	}
	if strings.Contains(lower, "last month") {
		firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		from := firstOfMonth.AddDate(0, -1, 0)
		to := firstOfMonth.Add(-time.Second)
		return &from, &to, true
	}
	if m := dateISOPattern.FindStringSubmatch(query); m != nil {
		if d, err := time.Parse("2006-01-02", m[1]); err == nil {
			from := d
			to := d.Add(24*time.Hour - time.Second)
			return &from, &to, true
		}
	}
	if m := dateSlashPattern.FindStringSubmatch(query); m != nil {
		mm, _ := strconv.Atoi(m[1])
		dd, _ := strconv.Atoi(m[2])
		yy, _ := strconv.Atoi(m[3])
		d := time.Date(yy, time.Month(mm), dd, 0, 0, 0, 0, now.Location())
		from := d
		to := d.Add(24*time.Hour - time.Second)
		return &from, &to, true
	}
	return nil, nil, false
}

func stripTemporalTokens(s string) string {
	for _, pat := range []*regexp.Regexp{dateISOPattern, dateSlashPattern, thisWeekPattern, thisMonthPattern, lastNDaysPattern, lastNHoursPattern, nDaysAgoPattern} {
		s = pat.ReplaceAllString(s, "")
	}
	return s
}

func joinKeywords(s string) string {
	words := strings.Fields(s)
	out := make([]string, 0, len(words))
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,!?;:()[]\"'"))
		if len(clean) <= 2 || stopWords[clean] {
			continue
		}
		out = append(out, clean)
	}
	return strings.Join(out, " ")
}

// nlpSearch implements §4.5 NLP mode: pre-parse, then dispatch to entity
// (if a person-like hint was found) or semantic, post-filtering by the
// remaining extracted filters.
func (p *Planner) nlpSearch(ctx context.Context, rc store.RequestContext, params Params) (*Result, error) {
	pq := parseNLP(params.Query, time.Now().UTC())

	filters := params.Filters
	if pq.dateFrom != nil {
		filters.DateFrom = pq.dateFrom
	}
	if pq.dateTo != nil {
		filters.DateTo = pq.dateTo
	}
	if len(pq.tags) > 0 {
		filters.Tags = pq.tags
	}

	inner := params
	inner.Filters = filters
	inner.Query = pq.remainder

	var result *Result
	var err error
	if pq.entityHint != "" {
		inner.Query = pq.entityHint
		result, err = p.entitySearch(ctx, rc, inner)
	} else {
		result, err = p.semanticSearch(ctx, rc, inner)
	}
	if err != nil {
		return nil, err
	}
	result.SearchType = "nlp:" + result.SearchType
	result.Query = params.Query
	return result, nil
}
