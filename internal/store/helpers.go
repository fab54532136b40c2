package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

// summaryColumns lists the per-category columns of chat_summaries in
// models.SummaryCategories order, summary before quotes.
var summaryColumns = func() []string {
	cols := make([]string, 0, 2*len(models.SummaryCategories))
	for _, c := range models.SummaryCategories {
		cols = append(cols, string(c)+"_summary", string(c)+"_quotes")
	}
	return cols
}()

// upsertSummaryQuery builds the summary upsert with the driver's placeholder style.
func upsertSummaryQuery(placeholder func(i int) string) string {
	cols := append([]string{"subject_key", "subject_name"}, summaryColumns...)
	cols = append(cols, "updated_at")

	params := make([]string, len(cols))
	for i := range cols {
		params[i] = placeholder(i + 1)
	}
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO chat_summaries (%s) VALUES (%s) ON CONFLICT (subject_key) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(sets, ", "))
}

// selectSummaryQuery builds the summary lookup by subject key.
func selectSummaryQuery(placeholder string) string {
	return fmt.Sprintf("SELECT subject_name, %s, updated_at FROM chat_summaries WHERE subject_key = %s",
		strings.Join(summaryColumns, ", "), placeholder)
}

// summaryArgs returns the upsert arguments in column order.
func summaryArgs(s models.SubjectSummary) []any {
	args := []any{subjectKey(s.SubjectName), s.SubjectName}
	for _, c := range models.SummaryCategories {
		args = append(args, s.Summaries[c], s.Quotes[c])
	}
	return append(args, s.UpdatedAt.UTC())
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSummary scans a row produced by selectSummaryQuery.
func scanSummary(row rowScanner) (*models.SubjectSummary, error) {
	sum := models.SubjectSummary{
		Summaries: make(map[models.SummaryCategory]string, len(models.SummaryCategories)),
		Quotes:    make(map[models.SummaryCategory]string, len(models.SummaryCategories)),
	}
	texts := make([]string, len(summaryColumns))
	dest := []any{&sum.SubjectName}
	for i := range texts {
		dest = append(dest, &texts[i])
	}
	dest = append(dest, &sum.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	for i, c := range models.SummaryCategories {
		sum.Summaries[c] = texts[2*i]
		sum.Quotes[c] = texts[2*i+1]
	}
	return &sum, nil
}

// scanMessages scans rows of (id, user_id, subject_name, role, message, version, created_at).
func scanMessages(rows *sql.Rows) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var role, mode string
		if err := rows.Scan(&m.ID, &m.UserID, &m.SubjectName, &role, &m.Content, &mode, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		m.Role = models.Role(role)
		m.Mode = models.Mode(mode)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat message rows: %w", err)
	}
	return out, nil
}
