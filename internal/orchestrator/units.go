package orchestrator

import (
	"context"
	"fmt"

	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/engine"
	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/saadactin/Nitin-sir/internal/schema"
	"github.com/saadactin/Nitin-sir/internal/source"
	"github.com/saadactin/Nitin-sir/internal/target"
)

// dbPlan is the set of sync units for one source database, plus what
// dispatch needs to reopen the database's pool.
type dbPlan struct {
	Instance     *config.SourceConfig
	Database     string
	TargetSchema string
	Units        []engine.Unit
}

// instancePlan groups one server's database plans. Databases run
// sequentially within an instance; instances run in parallel.
type instancePlan struct {
	Instance  *config.SourceConfig
	Databases []dbPlan

	// Err is set when discovery could not reach the instance. The run
	// proceeds without its tables and reports the instance as failed.
	Err error
}

func (p *instancePlan) unitCount() int {
	n := 0
	for i := range p.Databases {
		n += len(p.Databases[i].Units)
	}
	return n
}

// discover walks every configured instance, lists its online user
// databases and extracts table metadata into sync units. Discovery is
// sequential and uses short-lived two-connection pools; dispatch reopens
// per-database pools with the instance's full connection budget.
//
// An unreachable instance does not abort discovery: its plan carries the
// error and zero units, and the remaining instances still sync.
func (o *Orchestrator) discover(ctx context.Context) ([]instancePlan, int, error) {
	plans := make([]instancePlan, 0, len(o.cfg.Sources))
	total := 0
	for i := range o.cfg.Sources {
		inst := &o.cfg.Sources[i]
		plan := o.discoverInstance(ctx, inst)
		if plan.Err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			logging.Error("Instance %s: discovery failed: %v", inst.Name, plan.Err)
		}
		total += plan.unitCount()
		plans = append(plans, plan)
	}
	return plans, total, nil
}

func (o *Orchestrator) discoverInstance(ctx context.Context, inst *config.SourceConfig) instancePlan {
	plan := instancePlan{Instance: inst}

	master, err := source.NewPool(ctx, inst, "master", 2)
	if err != nil {
		plan.Err = err
		return plan
	}
	all, err := master.ListDatabases(ctx)
	master.Close()
	if err != nil {
		plan.Err = err
		return plan
	}

	databases := source.FilterDatabases(all, inst.SkipDatabases)
	logging.Info("Instance %s: %d of %d databases selected", inst.Name, len(databases), len(all))

	for _, db := range databases {
		p, err := o.discoverDatabase(ctx, inst, db)
		if err != nil {
			plan.Err = fmt.Errorf("%s: %w", db, err)
			return plan
		}
		if len(p.Units) == 0 {
			logging.Debug("Database %s/%s: no tables matched, skipping", inst.Name, db)
			continue
		}
		plan.Databases = append(plan.Databases, p)
	}
	return plan
}

func (o *Orchestrator) discoverDatabase(ctx context.Context, inst *config.SourceConfig, db string) (dbPlan, error) {
	plan := dbPlan{
		Instance:     inst,
		Database:     db,
		TargetSchema: target.SchemaFor(inst.Name, db),
	}

	pool, err := source.NewPool(ctx, inst, db, 2)
	if err != nil {
		return plan, err
	}
	defer pool.Close()

	tables, err := pool.ExtractTables(ctx)
	if err != nil {
		return plan, fmt.Errorf("extracting tables: %w", err)
	}

	units, sum := buildUnits(inst.Name, db, plan.TargetSchema, tables, &o.cfg.Sync)
	plan.Units = units
	sum.log(inst.Name, db)
	return plan, nil
}

// buildUnits filters the extracted tables and assigns each survivor a
// strategy. Delete tracking is only honored on pk_incremental tables;
// the other strategies have no key set to diff against.
func buildUnits(instance, database, targetSchema string, tables []schema.Table, sc *config.SyncConfig) ([]engine.Unit, unitSummary) {
	var units []engine.Unit
	var sum unitSummary

	for i := range tables {
		t := &tables[i]
		if len(sc.IncludeTables) > 0 && !engine.MatchTable(sc.IncludeTables, t) {
			sum.excluded++
			continue
		}
		if engine.MatchTable(sc.ExcludeTables, t) {
			sum.excluded++
			continue
		}

		strat := engine.Select(t, sc.FullReplace)
		units = append(units, engine.Unit{
			Instance:     instance,
			Database:     database,
			Table:        t,
			TargetSchema: targetSchema,
			Strategy:     strat,
			DeleteTracking: strat.Kind == engine.PrimaryKeyIncremental &&
				engine.MatchTable(sc.DeleteTracking, t),
		})
		sum.count(strat.Kind)
	}
	return units, sum
}

type unitSummary struct {
	pk, ts, hash, full int
	excluded           int
}

func (s *unitSummary) count(k engine.Kind) {
	switch k {
	case engine.PrimaryKeyIncremental:
		s.pk++
	case engine.TimestampIncremental:
		s.ts++
	case engine.HashDedup:
		s.hash++
	default:
		s.full++
	}
}

func (s *unitSummary) log(instance, database string) {
	total := s.pk + s.ts + s.hash + s.full
	logging.Info("Database %s/%s: %d tables (%d pk_incremental, %d timestamp_incremental, %d hash_dedup, %d full_replace), %d excluded",
		instance, database, total, s.pk, s.ts, s.hash, s.full, s.excluded)
}
