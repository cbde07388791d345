// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package sqlstore

// Dialect holds what differs between the supported databases.
type Dialect struct {
	Name string
	// Schema is executed in order when a store is opened.
	Schema []string
	// LockRows appends FOR UPDATE to key lookups inside transactions.
	LockRows bool
}

const (
	mysqlKeysSchema = `CREATE TABLE IF NOT EXISTS jobconsole_keys (
k varchar(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin primary key,
kind varchar(8) not null,
val longtext CHARACTER SET utf8mb4 COLLATE utf8mb4_bin,
expires bigint not null default 0,
index ix_keys_expires (expires)) DEFAULT CHARSET=utf8mb4;`

	mysqlItemsSchema = `CREATE TABLE IF NOT EXISTS jobconsole_items (
k varchar(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin not null,
pos bigint not null default 0,
member longtext CHARACTER SET utf8mb4 COLLATE utf8mb4_bin,
score double not null default 0,
index ix_items_k_pos (k, pos),
index ix_items_k_score (k, score)) DEFAULT CHARSET=utf8mb4;`

	sqliteKeysSchema = `CREATE TABLE IF NOT EXISTS jobconsole_keys (
k TEXT PRIMARY KEY,
kind TEXT NOT NULL,
val TEXT,
expires INTEGER NOT NULL DEFAULT 0);`

	sqliteItemsSchema = `CREATE TABLE IF NOT EXISTS jobconsole_items (
k TEXT NOT NULL,
pos INTEGER NOT NULL DEFAULT 0,
member TEXT,
score REAL NOT NULL DEFAULT 0);`
)

var (
	// MySQL is the dialect for MySQL 5.7 and later.
	MySQL = Dialect{
		Name:     "mysql",
		Schema:   []string{mysqlKeysSchema, mysqlItemsSchema},
		LockRows: true,
	}

	// SQLite is the dialect for modernc.org/sqlite.
	SQLite = Dialect{
		Name: "sqlite",
		Schema: []string{
			sqliteKeysSchema,
			sqliteItemsSchema,
			`CREATE INDEX IF NOT EXISTS ix_items_k_pos ON jobconsole_items (k, pos);`,
			`CREATE INDEX IF NOT EXISTS ix_items_k_score ON jobconsole_items (k, score);`,
		},
	}
)
