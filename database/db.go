package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound は ID 指定の検索で行が見つからない場合に返します。
var ErrNotFound = errors.New("record not found")

// TimeLayout は全テーブル共通の日時書式 (UTC) です。
const TimeLayout = "2006-01-02T15:04:05Z"

var nowFunc = func() time.Time { return time.Now().UTC() }

// Now は現在時刻を保存用の文字列で返します。
func Now() string {
	return nowFunc().Format(TimeLayout)
}

// CurrentTime は Now と同じ時刻源の time.Time です。
func CurrentTime() time.Time {
	return nowFunc()
}

// SetClock はテスト用に時刻源を差し替え、元に戻す関数を返します。
func SetClock(f func() time.Time) (restore func()) {
	prev := nowFunc
	nowFunc = func() time.Time { return f().UTC() }
	return func() { nowFunc = prev }
}

// ParseTime は保存用文字列を time.Time に戻します。空文字はゼロ値。
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeLayout, s)
}

// Open はドライバ (sqlite3 / postgres) を指定して接続し、疎通を確認します。
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if driver == "sqlite3" {
		// SQLite は単一ライタのため接続を1本に絞る (:memory: もこれで1つのDBを共有できる)
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// forUpdate は Postgres のときだけ行ロック句を返します。
func forUpdate(q sqlx.Ext) string {
	if q.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}
