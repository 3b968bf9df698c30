package backup

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

const schemaVersion = "1"

// CreateBackupRequest selects what CreateBackup exports, spec §4.H.
// A zero-value Modules with Full=false backs up nothing; set Full to
// export every table allTables names.
type CreateBackupRequest struct {
	Full    bool
	Modules []string
}

// Metadata is the envelope header spec §4.H names: version, timestamp,
// which modules were asked for vs. actually included (after transitive
// dependency expansion), per-table row counts, and the checksum.
type Metadata struct {
	Version                  string         `json:"version"`
	Timestamp                time.Time      `json:"timestamp"`
	BackupType               string         `json:"backup_type"`
	SelectedModules          []string       `json:"selected_modules,omitempty"`
	IncludedModules          []string       `json:"included_modules"`
	AutoIncludedDependencies []string       `json:"auto_included_dependencies,omitempty"`
	Tables                   map[string]int `json:"tables"`
	TotalRecords             int            `json:"total_records"`
	Checksum                 string         `json:"checksum"`
}

// Envelope is the full backup artifact: metadata plus the table→rows
// data it describes.
type Envelope struct {
	Metadata Metadata                            `json:"metadata"`
	Data     map[string][]map[string]interface{} `json:"data"`
}

// RestoreOptions controls how Restore applies an Envelope, spec §4.H
// steps 2-5.
type RestoreOptions struct {
	// Mode is "overwrite" (delete existing rows first) or "merge"
	// (INSERT OR IGNORE, leaving conflicting existing rows alone).
	Mode string
	// AdminID, if non-empty, is written into every owner column named
	// in ownerColumns, except on neverRemapTables.
	AdminID string
	// PreserveTimestamps keeps created_at/updated_at as recorded in the
	// backup; otherwise updated_at (when present) is stamped with the
	// restore time.
	PreserveTimestamps bool
	// Strict turns a failed integrity check into a hard error instead
	// of a warning.
	Strict bool
}

const (
	RestoreModeOverwrite = "overwrite"
	RestoreModeMerge     = "merge"
)

// TableRestoreStats counts per-statement outcomes for one table, spec
// §4.H's per-statement result-count analysis.
type TableRestoreStats struct {
	Inserted int
	Ignored  int
	Failed   int
}

// RestoreResult is what Restore returns: per-table outcome counts plus
// any non-fatal integrity warnings collected along the way.
type RestoreResult struct {
	TablesRestored map[string]TableRestoreStats
	Warnings       []string
}

// Engine implements the Backup/Restore operations of spec §4.H over a
// generic, introspected set of tables rather than this codebase's
// concrete model structs: the envelope format spec.md describes
// operates at the JSON-row level across an open-ended table list, so
// the engine reads and writes database/sql rows directly. Grounded on
// the teacher's backend/sqlite/sqlite_utils.go database/sql usage.
type Engine struct {
	db *sql.DB
}

// NewEngine builds an Engine over db.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// CreateBackup exports the tables named by req, spec §4.H step 1.
func (e *Engine) CreateBackup(ctx context.Context, req CreateBackupRequest) (*Envelope, error) {
	var included, auto []string
	var selected []string
	backupType := "modules"
	if req.Full {
		backupType = "full"
		for m := range moduleTables {
			included = append(included, m)
		}
		sort.Strings(included)
	} else {
		selected = append(selected, req.Modules...)
		included, auto = expandModules(selected)
	}
	sort.Strings(included)
	sort.Strings(auto)

	var tables []string
	if req.Full {
		tables = allTables()
	} else {
		tables = tablesForModules(included)
	}
	sort.Strings(tables)

	data := make(map[string][]map[string]interface{}, len(tables))
	counts := make(map[string]int, len(tables))
	total := 0
	for _, table := range tables {
		rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
		if err != nil {
			return nil, fmt.Errorf("backup: reading table %s: %w", table, err)
		}
		scanned, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("backup: scanning table %s: %w", table, err)
		}
		data[table] = scanned
		counts[table] = len(scanned)
		total += len(scanned)
	}

	sum, err := checksum(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Metadata: Metadata{
			Version:                  schemaVersion,
			Timestamp:                time.Now().UTC(),
			BackupType:               backupType,
			SelectedModules:          selected,
			IncludedModules:          included,
			AutoIncludedDependencies: auto,
			Tables:                   counts,
			TotalRecords:             total,
			Checksum:                 sum,
		},
		Data: data,
	}, nil
}

// Restore applies env to the database per opts, spec §4.H steps 2-5:
// checksum verification, admin-id remap, integrity checks (always run;
// reported as warnings, or as an error when Strict is set),
// dependency-ordered processing, and an atomic transactional write.
func (e *Engine) Restore(ctx context.Context, env *Envelope, opts RestoreOptions) (*RestoreResult, error) {
	if env == nil || env.Data == nil {
		return nil, fmt.Errorf("backup: restore requires a non-empty envelope")
	}
	if opts.Mode != RestoreModeOverwrite && opts.Mode != RestoreModeMerge {
		return nil, fmt.Errorf("backup: unknown restore mode %q", opts.Mode)
	}

	recomputed, err := checksum(env.Data)
	if err != nil {
		return nil, err
	}
	if recomputed != env.Metadata.Checksum {
		return nil, fmt.Errorf("backup: checksum mismatch, expected %s got %s", env.Metadata.Checksum, recomputed)
	}

	data := cloneData(env.Data)
	remapOwners(data, opts.AdminID)

	result := &RestoreResult{TablesRestored: map[string]TableRestoreStats{}}
	result.Warnings = append(result.Warnings, checkIntegrity(data)...)
	if opts.Strict && len(result.Warnings) > 0 {
		return nil, fmt.Errorf("backup: integrity check failed: %s", result.Warnings[0])
	}

	var tables []string
	for t := range data {
		tables = append(tables, t)
	}
	order := orderTables(tables)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("backup: beginning restore transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("backup: deferring foreign keys: %w", err)
	}

	if opts.Mode == RestoreModeOverwrite {
		for i := len(order) - 1; i >= 0; i-- {
			table := order[i]
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return nil, fmt.Errorf("backup: clearing table %s: %w", table, err)
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, table := range order {
		stats := TableRestoreStats{}
		for _, row := range data[table] {
			if !opts.PreserveTimestamps {
				if _, ok := row["updated_at"]; ok {
					row["updated_at"] = now
				}
			}
			stmt, args := buildInsert(table, row, opts.Mode == RestoreModeMerge)
			res, err := tx.ExecContext(ctx, stmt, args...)
			if err != nil {
				stats.Failed++
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", table, err))
				continue
			}
			affected, _ := res.RowsAffected()
			if affected == 0 && opts.Mode == RestoreModeMerge {
				stats.Ignored++
			} else {
				stats.Inserted++
			}
		}
		result.TablesRestored[table] = stats
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("backup: committing restore: %w", err)
	}
	return result, nil
}

func cloneData(data map[string][]map[string]interface{}) map[string][]map[string]interface{} {
	out := make(map[string][]map[string]interface{}, len(data))
	for table, rows := range data {
		cloned := make([]map[string]interface{}, len(rows))
		for i, row := range rows {
			r := make(map[string]interface{}, len(row))
			for k, v := range row {
				r[k] = v
			}
			cloned[i] = r
		}
		out[table] = cloned
	}
	return out
}

func remapOwners(data map[string][]map[string]interface{}, adminID string) {
	if adminID == "" {
		return
	}
	for table, col := range ownerColumns {
		if neverRemapTables[table] {
			continue
		}
		rows, ok := data[table]
		if !ok {
			continue
		}
		for _, row := range rows {
			row[col] = adminID
		}
	}
}

// checkIntegrity verifies, for every pair named in integrityForeignKeys
// whose both tables are present in data, that each child row's foreign
// key value matches some row's id in the referenced table. A table
// absent from data is out of scope for this backup and isn't checked.
func checkIntegrity(data map[string][]map[string]interface{}) []string {
	var warnings []string
	for table, ref := range integrityForeignKeys {
		children, ok := data[table]
		if !ok {
			continue
		}
		parents, ok := data[ref.referencedTable]
		if !ok {
			continue
		}
		ids := map[interface{}]bool{}
		for _, p := range parents {
			ids[fmt.Sprintf("%v", p["id"])] = true
		}
		for _, c := range children {
			fk := fmt.Sprintf("%v", c[ref.foreignKey])
			if !ids[fk] {
				warnings = append(warnings, fmt.Sprintf("%s.%s references missing %s.id=%v", table, ref.foreignKey, ref.referencedTable, c[ref.foreignKey]))
			}
		}
	}
	sort.Strings(warnings)
	return warnings
}

// orderTables returns tables in dependency order (parent before
// child), per tableDependencies restricted to the given set. A cycle
// (impossible with the current fixed map, but handled generically)
// falls back to appending whatever remains in its original order.
func orderTables(tables []string) []string {
	present := map[string]bool{}
	for _, t := range tables {
		present[t] = true
	}
	children := map[string][]string{}
	indegree := map[string]int{}
	for _, t := range tables {
		indegree[t] = 0
	}
	for child, parent := range tableDependencies {
		if !present[child] || !present[parent] {
			continue
		}
		children[parent] = append(children[parent], child)
		indegree[child]++
	}

	var queue []string
	for _, t := range tables {
		if indegree[t] == 0 {
			queue = append(queue, t)
		}
	}
	sort.Strings(queue)

	visited := map[string]bool{}
	var order []string
	for len(queue) > 0 {
		sort.Strings(queue)
		t := queue[0]
		queue = queue[1:]
		if visited[t] {
			continue
		}
		visited[t] = true
		order = append(order, t)
		for _, c := range children[t] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(order) != len(tables) {
		for _, t := range tables {
			if !visited[t] {
				order = append(order, t)
			}
		}
	}
	return order
}
