package merge

import (
	"context"
	"database/sql"

	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
)

// Finding is a redirect that does not point at a canonical vertex.
type Finding struct {
	ID     string
	Target string
	// Next is the target's own redirect when the finding is a chain.
	Next    string
	Problem string
}

const (
	ProblemDangling = "dangling"
	ProblemChain    = "chain"
)

const auditSQL = `
SELECT g.id, g.redirect_to, t.id, t.redirect_to
FROM word_grams g
LEFT JOIN word_grams t ON t.id = g.redirect_to
WHERE g.redirect_to IS NOT NULL
  AND (t.id IS NULL OR t.redirect_to IS NOT NULL)
ORDER BY g.id
`

// Audit reports every redirect whose target is missing or is itself
// redirected. It never changes a redirect; findings are left to an operator.
func (e *Engine) Audit(ctx context.Context, r *txstore.Result) ([]Finding, error) {
	var findings []Finding
	err := e.store.ExecuteSelect(ctx, r, auditSQL, nil, func(row txstore.Scanner) error {
		var (
			id, target  string
			found, next sql.NullString
		)
		if err := row.Scan(&id, &target, &found, &next); err != nil {
			return err
		}
		f := Finding{ID: id, Target: target, Problem: ProblemChain, Next: next.String}
		if !found.Valid {
			f.Problem = ProblemDangling
		}
		findings = append(findings, f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, f := range findings {
		logger.Warn("[Audit] redirect does not point at a canonical vertex",
			"id", f.ID, "target", f.Target, "next", f.Next, "problem", f.Problem)
	}
	logger.Info("[Audit] redirect audit finished", "findings", len(findings))
	return findings, nil
}
