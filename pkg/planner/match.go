package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

// Match lists distinct values of the first KeyPart that begin with
// prefix, from the Index Table, bounded by cfg.MatchLimit and returned
// in lexicographic order.
func (p *Planner) Match(ctx context.Context, indexName, prefix string) ([]string, error) {
	spec, indexSpec, err := p.resolveIndex(ctx, indexName)
	if err != nil {
		return nil, err
	}
	if len(spec.KeyParts) == 0 {
		return nil, bioerr.New(bioerr.ArityMismatch, "Match", "index has no key parts to match against")
	}

	query := fmt.Sprintf(
		"SELECT DISTINCT k1 FROM %s WHERE k1 LIKE ? ESCAPE '\\' ORDER BY k1 LIMIT ?",
		quoteIdent(indexSpec.TableName),
	)
	rows, err := p.cat.DB().QueryContext(ctx, query, escapeLikePrefix(prefix)+"%", p.cfg.MatchLimit)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "Match", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, bioerr.Wrap(bioerr.DBError, "Match", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "Match", err)
	}
	// SQLite's default BINARY collation already sorts lexicographically,
	// but keep this explicit so behavior doesn't depend on collation.
	sort.Strings(out)
	return out, nil
}
