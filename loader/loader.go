package loader

import (
	_ "embed"
	"fmt"

	"atende/database"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// 採番対象: シーケンス名 → (テーブル, カラム)
var sequenceTargets = []struct {
	name, table, column string
}{
	{database.SequenceTicket, "tickets", "protocol"},
	{database.SequenceOrder, "orders", "number"},
}

// InitDatabase はデータベーススキーマを適用し、採番を既存データに合わせます。
func InitDatabase(db *sqlx.DB) error {
	log.Println("Applying database schema...")
	if err := applySchema(db); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Println("Schema applied successfully.")

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for sequence initialization: %w", err)
	}
	defer tx.Rollback()

	for _, s := range sequenceTargets {
		if err := database.InitializeSequenceFromMax(tx, s.name, s.table, s.column); err != nil {
			log.Printf("WARN: Failed to initialize %s sequence: %v", s.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sequence initialization: %w", err)
	}
	log.Println("Code sequences initialized.")
	return nil
}

func applySchema(db *sqlx.DB) error {
	schema := sqliteSchema
	if db.DriverName() == "postgres" {
		schema = postgresSchema
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}
