package signal

import (
	"regexp"
	"strings"
)

// Fallback extraction from answer text. The agent does not always surface
// a run_sql invocation even when it executed one, so the response prose is
// scanned as a last resort. Strategies run in decreasing confidence order:
// a fenced code block, then a line that is itself a statement, then
// statement-shaped fragments embedded in prose.

var (
	// Fenced SQL code block, the highest-confidence marker.
	sqlCodeBlockRe = regexp.MustCompile("(?is)```sql\\s*(.+?)```")

	// Statement-shaped fragments embedded in prose.
	sqlStatementRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(SHOW\s+CREATE\s+TABLE\s+\w+)`),
		regexp.MustCompile(`(?i)\b(DESCRIBE\s+\w+)`),
		regexp.MustCompile(`(?is)\b(SELECT\s+.+?)(?:;|\n\s*\n|$)`),
		regexp.MustCompile(`(?i)\b(SHOW\s+\w+(?:\s+\w+)*)`),
	}

	// Statement keywords for the line scan.
	sqlKeywords = []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH"}
)

// ExtractSQLFromText recovers a SQL statement from response prose. Returns
// "" when no plausible statement is found.
func ExtractSQLFromText(text string) string {
	if text == "" {
		return ""
	}

	if m := sqlCodeBlockRe.FindStringSubmatch(text); m != nil {
		if sql := strings.TrimSpace(m[1]); sql != "" {
			return sql
		}
	}

	// Line scan: a line starting with a statement keyword counts only when
	// it has enough words to be a statement rather than a mention.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		for _, kw := range sqlKeywords {
			if strings.HasPrefix(upper, kw+" ") && len(strings.Fields(line)) >= 3 {
				return strings.TrimSuffix(line, ";")
			}
		}
	}

	for _, re := range sqlStatementRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		sql := strings.TrimSpace(m[1])
		if sql == "" {
			continue
		}
		// A SELECT fragment captured out of prose needs enough words to be
		// a statement rather than a keyword mention.
		if strings.HasPrefix(strings.ToUpper(sql), "SELECT ") && len(strings.Fields(sql)) < 3 {
			continue
		}
		return sql
	}

	return ""
}

var (
	savedToFileRe   = regexp.MustCompile(`(?i)saved to file:\s*([^\s]+\.csv)`)
	resultPatternRe = regexp.MustCompile(`(query_results_[\w.-]*\.csv)`)
)

// ExtractResultFilename recovers a result file name mentioned in response
// prose, either after a "saved to file:" marker or matching the result
// file naming scheme. Returns "" when none is mentioned.
func ExtractResultFilename(text string) string {
	if m := savedToFileRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := resultPatternRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
