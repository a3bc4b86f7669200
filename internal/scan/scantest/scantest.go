// Package scantest writes sqlite scan files for tests.
package scantest

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Column is a physical column of a scan file.
type Column struct {
	Name string
	Type string // SQLite type: INTEGER, REAL, TEXT or BLOB
}

// WriteFile creates a scan file at path holding rows in its data table.
func WriteFile(path string, columns []Column, rows [][]interface{}) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	defs := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%q %s", c.Name, c.Type)
		marks[i] = "?"
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE data (%s)", strings.Join(defs, ", "))); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO data VALUES (%s)", strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(row...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PositionDeleteColumns is the physical layout of a position delete file.
var PositionDeleteColumns = []Column{
	{Name: "file_path", Type: "TEXT"},
	{Name: "pos", Type: "INTEGER"},
}
