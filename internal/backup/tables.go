// Package backup implements the Backup/Restore Engine of spec §4.H:
// fixed module→table-set mapping, dependency-ordered export/import,
// a stable recursive-key-sort checksum, and an atomic transactional
// restore. Grounded on the teacher's backend/sqlite/sqlite_utils.go
// for the plain database/sql-over-mattn/go-sqlite3 persistence style;
// the dynamic per-table column introspection is this component's own
// addition, since no example repo ships a generic table dump/restore.
package backup

// moduleTables is the fixed module→table-set mapping named in spec
// §4.H, extended with every table spec §6 lists so a full backup
// covers the whole persisted schema.
var moduleTables = map[string][]string{
	"auth_management":   {"admins", "admin_tokens", "api_keys"},
	"storage_config":    {"s3_configs"},
	"mount_management":  {"storage_mounts", "fs_meta", "principal_storage_acl"},
	"file_management":   {"files", "file_passwords"},
	"paste_management":  {"pastes", "paste_passwords"},
	"task_management":   {"tasks"},
	"upload_management": {"upload_sessions"},
	"scheduling":        {"scheduled_jobs", "scheduled_job_runs"},
	"system_settings":   {"system_settings"},
}

// moduleDependencies expands a selected module with the modules spec
// §4.H step 1 says it transitively depends on.
var moduleDependencies = map[string][]string{
	"mount_management": {"storage_config"},
	"file_management":  {"storage_config"},
}

// tableDependencies is the child→parent dependency DAG of spec §4.H
// step 4, used both to order restore INSERTs and (reversed) to order
// overwrite-mode DELETEs.
var tableDependencies = map[string]string{
	"paste_passwords": "pastes",
	"file_passwords":  "files",
	"admin_tokens":    "admins",
	"s3_configs":      "admins",
	"storage_mounts":  "s3_configs",
}

// ownerColumns names the column on each table that admin-id remap
// rewrites, spec §4.H step 2.
var ownerColumns = map[string]string{
	"s3_configs":     "admin_id",
	"storage_mounts": "created_by",
	"files":          "created_by",
	"pastes":         "created_by",
}

// neverRemapTables are the two tables spec §4.H step 2 explicitly
// excludes from admin-id remap even though they reference an admin.
var neverRemapTables = map[string]bool{
	"api_keys":     true,
	"admin_tokens": true,
}

// integrityForeignKeys is the subset of tableDependencies spec §4.H
// step 3 actually subjects to the optional integrity check, paired
// with the column on the child table that carries the reference.
var integrityForeignKeys = map[string]struct {
	referencedTable string
	foreignKey      string
}{
	"storage_mounts":  {referencedTable: "s3_configs", foreignKey: "storage_config_id"},
	"file_passwords":  {referencedTable: "files", foreignKey: "file_id"},
	"paste_passwords": {referencedTable: "pastes", foreignKey: "paste_id"},
}

// allTables is every table moduleTables names, used by a full backup.
func allTables() []string {
	seen := map[string]bool{}
	var out []string
	for _, tables := range moduleTables {
		for _, t := range tables {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// expandModules adds every transitive dependency of selected, spec
// §4.H step 1, returning (included, autoIncludedDependencies).
func expandModules(selected []string) (included []string, autoIncluded []string) {
	have := map[string]bool{}
	for _, m := range selected {
		have[m] = true
	}
	auto := map[string]bool{}
	queue := append([]string{}, selected...)
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		for _, dep := range moduleDependencies[m] {
			if !have[dep] {
				have[dep] = true
				auto[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	for m := range have {
		included = append(included, m)
	}
	for m := range auto {
		autoIncluded = append(autoIncluded, m)
	}
	return included, autoIncluded
}

// tablesForModules unions moduleTables[m] for every m in modules.
func tablesForModules(modules []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range modules {
		for _, t := range moduleTables[m] {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
