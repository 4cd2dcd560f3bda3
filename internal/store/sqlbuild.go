package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/model"
)

type dialectKind int

const (
	dialectSQLite dialectKind = iota
	dialectPostgres
)

const entryColumns = "id, agency, organization, first_name, middle_name, last_name, " +
	"request_date, completion_date, entry_date, fee, is_amended, subject, details, resolution, response"

// sqlBuilder renders dialect-correct SQL for the queries both stores share.
// Per-entry date corrections are baked into CASE expressions at construction;
// the override dates are validated as ISO at overlay load, so inlining them
// as literals is safe.
type sqlBuilder struct {
	kind dialectKind
	req  string // corrected request_date expression
	comp string // corrected completion_date expression
}

func newSQLBuilder(kind dialectKind, overlay *corrections.Overlay) sqlBuilder {
	return sqlBuilder{
		kind: kind,
		req:  correctedDateExpr("request_date", overlay.DateOverrides("request_date")),
		comp: correctedDateExpr("completion_date", overlay.DateOverrides("completion_date")),
	}
}

func correctedDateExpr(column string, overrides []corrections.DateOverride) string {
	if len(overrides) == 0 {
		return column
	}
	var b strings.Builder
	b.WriteString("CASE id")
	for _, ov := range overrides {
		fmt.Fprintf(&b, " WHEN %d THEN '%s'", ov.ID, ov.Date)
	}
	fmt.Fprintf(&b, " ELSE %s END", column)
	return b.String()
}

// bind rewrites ? placeholders to $n for Postgres. Queries are written with
// ? only; no literal question marks appear in any statement.
func (b sqlBuilder) bind(query string) string {
	if b.kind != dialectPostgres {
		return query
	}
	var out strings.Builder
	out.Grow(len(query))
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteString("$" + strconv.Itoa(n))
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// dayDiff is the response time of one entry in days, from corrected dates.
func (b sqlBuilder) dayDiff() string {
	if b.kind == dialectPostgres {
		return fmt.Sprintf("((%s)::date - (%s)::date)", b.comp, b.req)
	}
	return fmt.Sprintf("(julianday(%s) - julianday(%s))", b.comp, b.req)
}

func (b sqlBuilder) toFloat(expr string) string {
	if b.kind == dialectPostgres {
		return "(" + expr + ")::float8"
	}
	return expr
}

// feeNumeric extracts a sortable number from the free-text fee column.
func (b sqlBuilder) feeNumeric() string {
	if b.kind == dialectPostgres {
		return "NULLIF(regexp_replace(coalesce(fee, ''), '[^0-9.]', '', 'g'), '')::numeric"
	}
	return "NULLIF(CAST(replace(replace(coalesce(fee, ''), '$', ''), ',', '') AS REAL), 0)"
}

func (b sqlBuilder) upsertEntry() string {
	set := make([]string, 0, 14)
	for _, col := range strings.Split(entryColumns, ", ")[1:] {
		set = append(set, col+" = excluded."+col)
	}
	return b.bind(`INSERT INTO entries (` + entryColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET ` + strings.Join(set, ", "))
}

// entryPredicate builds the WHERE clause for a listing filter. Search terms
// are whitespace-tokenized; every token must appear somewhere in the entry
// text, order irrelevant.
func (b sqlBuilder) entryPredicate(filter EntryFilter) (string, []any) {
	var conds []string
	var args []any

	haystack := "lower(agency || ' ' || coalesce(organization, '') || ' ' || coalesce(first_name, '') || ' ' || " +
		"coalesce(last_name, '') || ' ' || coalesce(subject, '') || ' ' || coalesce(details, '') || ' ' || coalesce(response, ''))"
	for _, token := range strings.Fields(strings.ToLower(filter.Search)) {
		conds = append(conds, haystack+" LIKE ?")
		args = append(args, "%"+token+"%")
	}

	if len(filter.AgencyNames) > 0 {
		marks := make([]string, len(filter.AgencyNames))
		for i, name := range filter.AgencyNames {
			marks[i] = "?"
			args = append(args, strings.ToLower(name))
		}
		conds = append(conds, "lower(agency) IN ("+strings.Join(marks, ", ")+")")
	}

	if len(filter.Resolutions) > 0 {
		norm := "lower(trim(coalesce(resolution, '')))"
		var group []string
		for _, bucket := range filter.Resolutions {
			switch model.ResolutionBucket(bucket) {
			case model.ResolutionGranted:
				group = append(group, norm+" = 'granted'")
			case model.ResolutionGrantedInPart:
				group = append(group, norm+" = 'granted in part'")
			case model.ResolutionExempted:
				group = append(group, norm+" = 'exempted'")
			case model.ResolutionRejected:
				group = append(group, norm+" = 'rejected'")
			case model.ResolutionOther:
				group = append(group, norm+" NOT IN ('granted', 'granted in part', 'exempted', 'rejected')")
			}
		}
		if len(group) > 0 {
			conds = append(conds, "("+strings.Join(group, " OR ")+")")
		}
	}

	for _, bound := range []struct {
		expr, op, value string
	}{
		{b.req, ">=", filter.RequestDateFrom},
		{b.req, "<=", filter.RequestDateTo},
		{b.comp, ">=", filter.CompletionDateFrom},
		{b.comp, "<=", filter.CompletionDateTo},
	} {
		if bound.value != "" {
			conds = append(conds, bound.expr+" "+bound.op+" ?")
			args = append(args, bound.value)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (b sqlBuilder) entryOrder(sort string) string {
	switch sort {
	case model.SortNewestRequest:
		return " ORDER BY " + b.req + " DESC NULLS LAST, id DESC"
	case model.SortOldestRequest:
		return " ORDER BY " + b.req + " ASC NULLS LAST, id ASC"
	case model.SortNewestCompletion:
		return " ORDER BY " + b.comp + " DESC NULLS LAST, id DESC"
	case model.SortHighestFee:
		return " ORDER BY " + b.feeNumeric() + " DESC NULLS LAST, id DESC"
	default:
		return " ORDER BY entry_date DESC NULLS LAST, id DESC"
	}
}

// listEntries returns the page query, the match-count query, and their
// argument lists.
func (b sqlBuilder) listEntries(filter EntryFilter) (query, countQuery string, args, countArgs []any) {
	where, whereArgs := b.entryPredicate(filter)

	countQuery = b.bind("SELECT COUNT(*) FROM entries" + where)
	countArgs = whereArgs

	query = "SELECT " + entryColumns + " FROM entries" + where + b.entryOrder(filter.Sort) + " LIMIT ? OFFSET ?"
	args = append(append([]any{}, whereArgs...),
		filter.Cursor.PageSize, (filter.Cursor.Page-1)*filter.Cursor.PageSize)
	return b.bind(query), countQuery, args, countArgs
}

// agencyMetrics aggregates counts and response-time sums per raw agency in
// one pass. Window membership is by corrected request date; response time
// contributes only when both corrected dates exist and completion is not
// earlier than request. Arguments are the three cutoffs repeated three times.
func (b sqlBuilder) agencyMetrics() string {
	diff := b.dayDiff()
	completed := fmt.Sprintf("(%[1]s IS NOT NULL AND %[2]s IS NOT NULL AND %[1]s >= %[2]s)", b.comp, b.req)

	q := fmt.Sprintf(`SELECT agency,
	COUNT(*),
	COUNT(*) FILTER (WHERE %[1]s >= ?),
	COUNT(*) FILTER (WHERE %[1]s >= ?),
	COUNT(*) FILTER (WHERE %[1]s >= ?),
	%[4]s,
	%[5]s,
	%[6]s,
	%[7]s,
	COUNT(*) FILTER (WHERE %[3]s),
	COUNT(*) FILTER (WHERE %[3]s AND %[1]s >= ?),
	COUNT(*) FILTER (WHERE %[3]s AND %[1]s >= ?),
	COUNT(*) FILTER (WHERE %[3]s AND %[1]s >= ?)
FROM entries
GROUP BY agency`,
		b.req, diff, completed,
		b.toFloat(fmt.Sprintf("COALESCE(SUM(%s) FILTER (WHERE %s), 0)", diff, completed)),
		b.toFloat(fmt.Sprintf("COALESCE(SUM(%s) FILTER (WHERE %s AND %s >= ?), 0)", diff, completed, b.req)),
		b.toFloat(fmt.Sprintf("COALESCE(SUM(%s) FILTER (WHERE %s AND %s >= ?), 0)", diff, completed, b.req)),
		b.toFloat(fmt.Sprintf("COALESCE(SUM(%s) FILTER (WHERE %s AND %s >= ?), 0)", diff, completed, b.req)))
	return b.bind(q)
}

func metricArgs(cutoffs WindowCutoffs) []any {
	return []any{
		cutoffs.D30, cutoffs.D90, cutoffs.D365,
		cutoffs.D30, cutoffs.D90, cutoffs.D365,
		cutoffs.D30, cutoffs.D90, cutoffs.D365,
	}
}

func (b sqlBuilder) agencyResolutions() string {
	return "SELECT agency, resolution, COUNT(*) FROM entries GROUP BY agency, resolution"
}

// timeline groups completed entries by raw agency, corrected completion date,
// and raw resolution. An empty start means no lower bound.
func (b sqlBuilder) timeline(start, end string) (string, []any) {
	conds := []string{b.comp + " IS NOT NULL", b.comp + " <= ?"}
	args := []any{end}
	if start != "" {
		conds = append(conds, b.comp+" >= ?")
		args = append(args, start)
	}
	q := fmt.Sprintf(`SELECT agency, %[1]s, resolution, COUNT(*)
FROM entries
WHERE %[2]s
GROUP BY agency, %[1]s, resolution
ORDER BY 2 ASC`, b.comp, strings.Join(conds, " AND "))
	return b.bind(q), args
}

// rowScanner is satisfied by pgx.Rows, pgx.Row, *sql.Rows, and *sql.Row, so
// scan helpers serve both stores.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (model.Entry, error) {
	var e model.Entry
	err := row.Scan(&e.ID, &e.Agency, &e.Organization, &e.FirstName, &e.MiddleName, &e.LastName,
		&e.RequestDate, &e.CompletionDate, &e.EntryDate, &e.Fee, &e.IsAmended,
		&e.Subject, &e.Details, &e.Resolution, &e.Response)
	return e, err
}

func scanMetricRow(row rowScanner) (AgencyMetricRow, error) {
	var m AgencyMetricRow
	err := row.Scan(&m.Agency,
		&m.Requests, &m.Requests30d, &m.Requests90d, &m.Requests365d,
		&m.ResponseDays, &m.ResponseDays30d, &m.ResponseDays90d, &m.ResponseDays365d,
		&m.Completed, &m.Completed30d, &m.Completed90d, &m.Completed365d)
	return m, err
}

func scanSyncRun(row rowScanner) (model.SyncRun, error) {
	var r model.SyncRun
	var errText *string
	err := row.Scan(&r.ID, &r.Status, &r.StartedAt, &r.CompletedAt, &r.Added, &r.Checked, &r.StartFrom, &errText)
	if errText != nil {
		r.Error = *errText
	}
	return r, err
}
