// Package testutil はテスト用のインメモリ SQLite を用意します。
package testutil

import (
	"testing"

	"atende/database"
	"atende/loader"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// NewDB はスキーマ適用済みのインメモリDBを返し、テスト終了時に閉じます。
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()
	log.SetLevel(log.WarnLevel)

	db, err := database.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := loader.InitDatabase(db); err != nil {
		t.Fatalf("init test db: %v", err)
	}
	return db
}
