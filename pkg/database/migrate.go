package database

import (
	"gorm.io/gorm"

	"github.com/iac-studio/dbstack/internal/models"
)

// registerModels returns all models that need migration
func registerModels() []any {
	return []any{
		&models.Deployment{},
	}
}

// Migrate runs AutoMigrate for every model and then the statements
// AutoMigrate cannot express.
func Migrate(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		enableUUIDExtension,
		func(db *gorm.DB) error { return db.AutoMigrate(registerModels()...) },
		addDeploymentIndexes,
	}
	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}
	return nil
}

// enableUUIDExtension ensures gen_random_uuid is available
func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addDeploymentIndexes serves the latest-by-stack lookup and guards against
// two runs owning the same stack at once.
func addDeploymentIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_deployments_stack_created
		ON deployments(stack_name, created_at DESC)
		WHERE deleted_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_deployments_one_active_per_stack
		ON deployments(stack_name)
		WHERE deleted_at IS NULL AND status IN ('pending', 'planning', 'applying', 'destroying')`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
