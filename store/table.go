package store

import (
	"fmt"
	"regexp"

	"github.com/xraph/conveyor"
)

// Default table (or collection) names used by the SQL and document backends.
const (
	DefaultItemTable      = "conveyor_items"
	DefaultStepTable      = "conveyor_steps"
	DefaultMigrationTable = "conveyor_migrations"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTableName checks that name can be interpolated into SQL as an
// unquoted identifier. Table names are never bound as parameters, so every
// backend that accepts a custom name must call this first.
func ValidateTableName(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", conveyor.ErrInvalidTable, name)
	}
	return nil
}
