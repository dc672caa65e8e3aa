package target

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/saadactin/Nitin-sir/internal/schema"
)

// Shadow table names for full-replace loads. The live table keeps serving
// reads while the shadow fills; the swap at the end is a single rename.

const shadowSuffix = "__sync_new"

// ShadowName returns the shadow table name for a target table.
func ShadowName(table string) string {
	name := SanitizePGIdentifier(table) + shadowSuffix
	if len(name) > maxPGIdentLen {
		digest := sha256.Sum256([]byte(name))
		name = name[:maxPGIdentLen-17] + "_" + hex.EncodeToString(digest[:8])
	}
	return name
}

// CreateShadowTable drops any leftover shadow from a failed run and
// creates a fresh, empty one without constraints. Constraints are added
// after the load so the bulk copy stays fast.
func (p *Pool) CreateShadowTable(ctx context.Context, t *schema.Table, schemaName string) (string, error) {
	shadow := ShadowName(t.Name)
	if err := p.DropTable(ctx, schemaName, shadow); err != nil {
		return "", fmt.Errorf("dropping stale shadow table: %w", err)
	}
	ddl := BuildCreateTable(t, schemaName, shadow, false)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("creating shadow table %s: %w", shadow, err)
	}
	return shadow, nil
}

// SwapShadowTable atomically replaces the live table with the fully
// loaded shadow. The primary key is added to the shadow first, then the
// drop and rename run in one transaction so readers never see a missing
// table.
func (p *Pool) SwapShadowTable(ctx context.Context, t *schema.Table, schemaName, shadow string) error {
	if t.HasPK() {
		if err := p.CreatePrimaryKey(ctx, t, schemaName, shadow); err != nil {
			return fmt.Errorf("adding primary key to shadow table: %w", err)
		}
	}

	live := SanitizePGIdentifier(t.Name)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning swap transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualifyPGTable(schemaName, live))
	if _, err := tx.Exec(ctx, dropSQL); err != nil {
		return fmt.Errorf("dropping live table: %w", err)
	}

	renameSQL := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		qualifyPGTable(schemaName, shadow), quotePGIdent(live))
	if _, err := tx.Exec(ctx, renameSQL); err != nil {
		return fmt.Errorf("renaming shadow table: %w", err)
	}

	return tx.Commit(ctx)
}

// safePGStagingName builds a staging table name that fits within the
// PostgreSQL identifier limit, hashing the suffix when it would not.
func safePGStagingName(schemaName, table string) string {
	name := fmt.Sprintf("_stg_%s_%s", schemaName, table)
	if len(name) <= maxPGIdentLen {
		return name
	}
	digest := sha256.Sum256([]byte(name))
	return "_stg_" + hex.EncodeToString(digest[:8])
}
