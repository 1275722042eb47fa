package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/AIResearch/internal/research"
)

const timeLayout = time.RFC3339Nano

// SaveSession stores a session and all of its records, replacing any earlier
// copy with the same id.
func (db *DB) SaveSession(rec *SessionRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s := rec.Session
	var diag *string
	if s.Diagnostic != nil {
		data, err := json.Marshal(s.Diagnostic)
		if err != nil {
			return err
		}
		diag = ptr(string(data))
	}

	if err := deleteSession(tx, s.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO sessions
		(id, query, status, iteration_limited, iterations, max_iterations, final_version,
		 report_markdown, report_path, diagnostic, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Query, s.Status, boolInt(s.IterationLimited), s.Iterations, s.MaxIterations, s.FinalVersion,
		s.ReportMarkdown, s.ReportPath, diag, s.StartedAt.UTC().Format(timeLayout), s.FinishedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	for _, p := range rec.Plans {
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO plans (session_id, version, body) VALUES (?, ?, ?)", s.ID, p.Version, string(body)); err != nil {
			return fmt.Errorf("inserting plan v%d: %w", p.Version, err)
		}
	}

	for _, sum := range rec.Summaries {
		if _, err := tx.Exec(
			`INSERT INTO summaries (session_id, subtopic_id, subtopic, key_findings, citations, fallback)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, sum.SubtopicID, sum.Subtopic, jsonText(sum.KeyFindings), jsonText(sum.Citations), boolInt(sum.Fallback),
		); err != nil {
			return fmt.Errorf("inserting summary %s: %w", sum.SubtopicID, err)
		}
	}

	for _, d := range rec.Drafts {
		if _, err := tx.Exec(
			`INSERT INTO report_drafts
			(session_id, version, parent_version, text, bibliography, identified_gaps, repaired, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, d.Version, d.ParentVersion, d.Text, jsonText(d.Bibliography), jsonText(d.IdentifiedGaps),
			boolInt(d.Repaired), d.CreatedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting draft v%d: %w", d.Version, err)
		}
	}

	for _, v := range rec.Verdicts {
		if _, err := tx.Exec(
			`INSERT INTO review_verdicts
			(session_id, draft_version, verdict, feedback, deficiencies, strengths, additional_queries, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, v.DraftVersion, string(v.Verdict), v.Feedback, jsonText(v.Deficiencies), jsonText(v.Strengths),
			jsonText(v.AdditionalQueries), v.Details, v.CreatedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting verdict for draft v%d: %w", v.DraftVersion, err)
		}
	}

	for i, t := range rec.Transitions {
		if _, err := tx.Exec(
			`INSERT INTO transitions (session_id, seq, from_stage, to_stage, iteration, at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, i+1, t.From, t.To, t.Iteration, t.At.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting transition %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

const sessionColumns = `id, query, status, iteration_limited, iterations, max_iterations, final_version,
	report_markdown, report_path, diagnostic, started_at, finished_at`

// ListSessions returns the most recent sessions, newest first. The report
// body is not loaded.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		s.ReportMarkdown = nil
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ErrAmbiguousID is returned when an id prefix matches several sessions.
var ErrAmbiguousID = errors.New("session id prefix is ambiguous")

// GetSession returns the session with the given id or unique id prefix.
// Returns nil if nothing matches.
func (db *DB) GetSession(id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	rows, err := db.conn.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`,
		id, id+"%", id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, nil
	case found[0].ID == id, len(found) == 1:
		return found[0], nil
	}
	return nil, ErrAmbiguousID
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s                   Session
		limited             int
		finalVersion        sql.NullInt64
		diag                sql.NullString
		started, finished   string
		markdown, reportPth sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Query, &s.Status, &limited, &s.Iterations, &s.MaxIterations, &finalVersion,
		&markdown, &reportPth, &diag, &started, &finished); err != nil {
		return nil, err
	}
	s.IterationLimited = limited != 0
	if finalVersion.Valid {
		v := int(finalVersion.Int64)
		s.FinalVersion = &v
	}
	if markdown.Valid {
		s.ReportMarkdown = ptr(markdown.String)
	}
	if reportPth.Valid {
		s.ReportPath = ptr(reportPth.String)
	}
	if diag.Valid && diag.String != "" {
		var d Diagnostic
		if err := json.Unmarshal([]byte(diag.String), &d); err == nil {
			s.Diagnostic = &d
		}
	}
	s.StartedAt = parseTime(started)
	s.FinishedAt = parseTime(finished)
	return &s, nil
}

// GetPlans returns every plan version of a session in order.
func (db *DB) GetPlans(sessionID string) ([]research.Plan, error) {
	rows, err := db.conn.Query("SELECT body FROM plans WHERE session_id = ? ORDER BY version", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []research.Plan
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p research.Plan
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decoding plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetSummaries returns the subtopic summaries of a session.
func (db *DB) GetSummaries(sessionID string) ([]research.Summary, error) {
	rows, err := db.conn.Query(
		`SELECT subtopic_id, subtopic, key_findings, citations, fallback
		FROM summaries WHERE session_id = ? ORDER BY subtopic_id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []research.Summary
	for rows.Next() {
		var (
			sum                 research.Summary
			findings, citations sql.NullString
			fallback            int
		)
		if err := rows.Scan(&sum.SubtopicID, &sum.Subtopic, &findings, &citations, &fallback); err != nil {
			return nil, err
		}
		decodeJSON(findings, &sum.KeyFindings)
		decodeJSON(citations, &sum.Citations)
		sum.Fallback = fallback != 0
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// GetDrafts returns all report drafts of a session, oldest first.
func (db *DB) GetDrafts(sessionID string) ([]research.ReportDraft, error) {
	rows, err := db.conn.Query(
		`SELECT version, parent_version, text, bibliography, identified_gaps, repaired, created_at
		FROM report_drafts WHERE session_id = ? ORDER BY version`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []research.ReportDraft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

// GetDraft returns one draft version. Returns nil if it does not exist.
func (db *DB) GetDraft(sessionID string, version int) (*research.ReportDraft, error) {
	row := db.conn.QueryRow(
		`SELECT version, parent_version, text, bibliography, identified_gaps, repaired, created_at
		FROM report_drafts WHERE session_id = ? AND version = ?`, sessionID, version,
	)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func scanDraft(row scanner) (*research.ReportDraft, error) {
	var (
		d          research.ReportDraft
		bib, gaps  sql.NullString
		repaired   int
		createdStr string
	)
	if err := row.Scan(&d.Version, &d.ParentVersion, &d.Text, &bib, &gaps, &repaired, &createdStr); err != nil {
		return nil, err
	}
	decodeJSON(bib, &d.Bibliography)
	decodeJSON(gaps, &d.IdentifiedGaps)
	d.Repaired = repaired != 0
	d.CreatedAt = parseTime(createdStr)
	return &d, nil
}

// GetVerdicts returns the review history of a session in order.
func (db *DB) GetVerdicts(sessionID string) ([]research.ReviewVerdict, error) {
	rows, err := db.conn.Query(
		`SELECT draft_version, verdict, feedback, deficiencies, strengths, additional_queries, details, created_at
		FROM review_verdicts WHERE session_id = ? ORDER BY draft_version`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []research.ReviewVerdict
	for rows.Next() {
		var (
			v                       research.ReviewVerdict
			verdict                 string
			feedback, details       sql.NullString
			deficiencies, strengths sql.NullString
			additional              sql.NullString
			createdStr              string
		)
		if err := rows.Scan(&v.DraftVersion, &verdict, &feedback, &deficiencies, &strengths,
			&additional, &details, &createdStr); err != nil {
			return nil, err
		}
		v.Verdict = research.Verdict(verdict)
		v.Feedback = feedback.String
		v.Details = details.String
		decodeJSON(deficiencies, &v.Deficiencies)
		decodeJSON(strengths, &v.Strengths)
		decodeJSON(additional, &v.AdditionalQueries)
		v.CreatedAt = parseTime(createdStr)
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

// GetTransitions returns the router transitions of a session in order.
func (db *DB) GetTransitions(sessionID string) ([]Transition, error) {
	rows, err := db.conn.Query(
		`SELECT seq, from_stage, to_stage, iteration, at
		FROM transitions WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t  Transition
			at string
		)
		if err := rows.Scan(&t.Seq, &t.From, &t.To, &t.Iteration, &at); err != nil {
			return nil, err
		}
		t.At = parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its records.
func (db *DB) DeleteSession(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteSession(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteSession removes child rows explicitly: foreign_keys is a
// per-connection pragma and pooled connections may not have it set.
func deleteSession(tx *sql.Tx, id string) error {
	for _, table := range []string{"transitions", "review_verdicts", "report_drafts", "summaries", "plans", "sessions"} {
		col := "session_id"
		if table == "sessions" {
			col = "id"
		}
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE "+col+" = ?", id); err != nil {
			return fmt.Errorf("deleting from %s: %w", table, err)
		}
	}
	return nil
}

// GetStats returns aggregate statistics over all stored sessions.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{Verdicts: make(map[string]int)}
	var avg sql.NullFloat64
	err := db.conn.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(status = 'DONE'), 0),
		COALESCE(SUM(status = 'ABORTED'), 0),
		COALESCE(SUM(iteration_limited), 0),
		AVG(iterations)
		FROM sessions`).Scan(&s.Sessions, &s.Done, &s.Aborted, &s.IterationLimited, &avg)
	if err != nil {
		return nil, err
	}
	s.AvgIterations = avg.Float64

	if err := db.conn.QueryRow("SELECT COUNT(*) FROM report_drafts").Scan(&s.Drafts); err != nil {
		return nil, err
	}

	rows, err := db.conn.Query("SELECT verdict, COUNT(*) FROM review_verdicts GROUP BY verdict")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			verdict string
			n       int
		)
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, err
		}
		s.Verdicts[verdict] = n
	}
	return s, rows.Err()
}

func ptr[T any](v T) *T { return &v }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// jsonText encodes v for a TEXT column. Empty slices are stored as NULL.
func jsonText(v any) *string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" || string(data) == "[]" {
		return nil
	}
	return ptr(string(data))
}

func decodeJSON(s sql.NullString, v any) {
	if s.Valid && s.String != "" {
		json.Unmarshal([]byte(s.String), v)
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
