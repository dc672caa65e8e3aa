package source

import (
	"context"
	"fmt"
	"strings"
)

// systemDatabases are never synced.
var systemDatabases = map[string]bool{
	"master":             true,
	"tempdb":             true,
	"model":              true,
	"msdb":               true,
	"distribution":       true,
	"ssisdb":             true,
	"reportserver":       true,
	"reportservertempdb": true,
}

// ListDatabases returns the online user databases on the instance this
// pool is connected to, minus system databases and the configured skip
// list. Call it on a pool connected to master.
func (p *Pool) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM sys.databases WHERE state = 0 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing databases on %s: %w", p.cfg.Name, err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		all = append(all, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return FilterDatabases(all, p.cfg.SkipDatabases), nil
}

// FilterDatabases removes system databases and skip-listed names.
// Matching is case-insensitive on both lists.
func FilterDatabases(all, skip []string) []string {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[strings.ToLower(s)] = true
	}

	var kept []string
	for _, name := range all {
		lower := strings.ToLower(name)
		if systemDatabases[lower] || skipSet[lower] {
			continue
		}
		kept = append(kept, name)
	}
	return kept
}
