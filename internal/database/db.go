package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteParams はローカルDBの接続パラメータ。
// WALモードとbusy_timeoutで、HTTPハンドラからの同時アクセスを許容する。
const sqliteParams = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// Open はローカルのSQLiteデータベースを開く。
// pathはファイルパスを指定する。":memory:" を指定するとインメモリDBになる。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLiteの書き込みは直列化されるため接続は1本に制限する
	db.SetMaxOpenConns(1)

	return db, nil
}

// DSN はファイルパスに接続パラメータを付与したDSNを返す。
func DSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + sqliteParams
}
