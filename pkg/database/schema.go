package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies a deployed database against the structure the
// store expects. Separate from the migration runner so deployment checks
// can run without mutating anything.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"rooms":             "Room records",
		"messages":          "Message history",
		"room_presence":     "Presence reference counts",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := tableExists(v.db, table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column names and types match the Go
// structs that scan them.
func (v *SchemaValidator) ValidateTableStructure() error {
	roomColumns := map[string]string{
		"id":         "TEXT",
		"name":       "TEXT",
		"key":        "TEXT",
		"created_at": "DATETIME",
	}
	if err := v.validateColumns("rooms", roomColumns); err != nil {
		return fmt.Errorf("rooms table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":        "TEXT",
		"room_id":   "TEXT",
		"username":  "TEXT",
		"content":   "TEXT",
		"timestamp": "DATETIME",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}

	presenceColumns := map[string]string{
		"room_id":  "TEXT",
		"username": "TEXT",
		"refs":     "INTEGER",
	}
	if err := v.validateColumns("room_presence", presenceColumns); err != nil {
		return fmt.Errorf("room_presence table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies the indexes the hot queries rely on.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_messages_room_time": "Message history retrieval",
		"idx_presence_room":      "Presence list lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := indexExists(v.db, index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// validateColumns checks that a table has the expected columns and types.
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return rows.Err()
}
