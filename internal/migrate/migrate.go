// Package migrate upgrades on-disk documents from older schema versions one
// step at a time.
package migrate

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Migration upgrades a document from the previous version to Version.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a short human-readable label for log output.
	Description string
	// Upgrade transforms data from the prior version to [Migration.Version].
	Upgrade func(data []byte) ([]byte, error)
}

// Registry holds the current version and the migrations for one document
// type. Migrations are kept sorted by version.
type Registry struct {
	// Name labels log lines, e.g. "config".
	Name string
	// CurrentVersion is the latest schema version.
	CurrentVersion int
	// Migrations is the ordered list of upgrades. Exported so tests can
	// substitute their own.
	Migrations []Migration
}

// Config is the registry for config.toml.
var Config = &Registry{Name: "config", CurrentVersion: 2}

// ///////////////////////////////////////////////
// Registry
// ///////////////////////////////////////////////

// Register adds m. It panics if m.Version is already registered or is newer
// than CurrentVersion, both of which are programming errors.
func (r *Registry) Register(m Migration) {
	if m.Version > r.CurrentVersion {
		panic(fmt.Sprintf("migrate: %s migration v%d is newer than current version %d", r.Name, m.Version, r.CurrentVersion))
	}
	for _, existing := range r.Migrations {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrate: duplicate %s migration version %d (description: %q)", r.Name, m.Version, m.Description))
		}
	}
	r.Migrations = append(r.Migrations, m)
	slices.SortFunc(r.Migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
}

// NeedsMigration reports whether a document at fileVersion would be changed
// by [Registry.Run]. With force, any registered migration counts.
func (r *Registry) NeedsMigration(fileVersion int, force bool) bool {
	if fileVersion < r.CurrentVersion {
		return true
	}
	return force && len(r.Migrations) > 0
}

// Run applies every migration with a version above fromVersion, in order.
// It returns the transformed data and the version reached. On error the
// version is the last one successfully reached.
func (r *Registry) Run(data []byte, fromVersion int) ([]byte, int, error) {
	version := fromVersion
	for _, m := range r.Migrations {
		if m.Version <= version {
			continue
		}
		slog.Info("applying migration", "target", r.Name, "version", m.Version, "description", m.Description)
		next, err := m.Upgrade(data)
		if err != nil {
			return nil, version, fmt.Errorf("migration to v%d failed: %w", m.Version, err)
		}
		data, version = next, m.Version
	}
	return data, version, nil
}
