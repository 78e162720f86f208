package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Account rows carry the fields every role shares; role specific columns
// live in one extension table per role keyed by account_id.  Certification
// back-references are materialized in the two link tables so profile reads
// stay a single lookup per list.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                 VARCHAR(26)  NOT NULL PRIMARY KEY,
		role               VARCHAR(16)  NOT NULL,
		name               VARCHAR(255) NOT NULL,
		name_fold          VARCHAR(255) NOT NULL,
		login_key          VARCHAR(255) NOT NULL,
		password_hash      VARCHAR(255) NOT NULL,
		refresh_token_hash VARCHAR(64)  NULL,
		created_at         BIGINT       NOT NULL,
		updated_at         BIGINT       NOT NULL,
		UNIQUE KEY uq_accounts_role_login (role, login_key),
		KEY idx_accounts_role_name (role, name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS students (
		account_id       VARCHAR(26)  NOT NULL PRIMARY KEY,
		institution_id   VARCHAR(26)  NOT NULL,
		roll             VARCHAR(64)  NOT NULL,
		programme        VARCHAR(255) NOT NULL,
		department       VARCHAR(255) NOT NULL,
		portal_data      MEDIUMTEXT   NULL,
		portal_synced_at BIGINT       NULL,
		UNIQUE KEY uq_students_roll (roll),
		KEY idx_students_institution (institution_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS faculty (
		account_id     VARCHAR(26)  NOT NULL PRIMARY KEY,
		institution_id VARCHAR(26)  NOT NULL,
		department     VARCHAR(255) NOT NULL,
		position       VARCHAR(255) NOT NULL DEFAULT '',
		KEY idx_faculty_institution (institution_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS institutions (
		account_id        VARCHAR(26)   NOT NULL PRIMARY KEY,
		location          VARCHAR(255)  NOT NULL,
		api_url           VARCHAR(1024) NULL,
		encrypted_api_key VARCHAR(1024) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS certifications (
		id                VARCHAR(26)   NOT NULL PRIMARY KEY,
		title             VARCHAR(255)  NOT NULL,
		student_id        VARCHAR(26)   NOT NULL,
		routed_to_faculty BOOLEAN       NOT NULL,
		faculty_id        VARCHAR(26)   NULL,
		approved          BOOLEAN       NOT NULL DEFAULT FALSE,
		certificate_url   VARCHAR(1024) NOT NULL,
		created_at        BIGINT        NOT NULL,
		updated_at        BIGINT        NOT NULL,
		approved_at       BIGINT        NULL,
		KEY idx_certifications_student (student_id),
		KEY idx_certifications_faculty (faculty_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS student_certifications (
		student_id       VARCHAR(26) NOT NULL,
		certification_id VARCHAR(26) NOT NULL,
		added_at         BIGINT      NOT NULL,
		PRIMARY KEY (student_id, certification_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS faculty_certifications (
		faculty_id       VARCHAR(26) NOT NULL,
		certification_id VARCHAR(26) NOT NULL,
		state            VARCHAR(16) NOT NULL,
		updated_at       BIGINT      NOT NULL,
		PRIMARY KEY (faculty_id, certification_id),
		KEY idx_faculty_certifications_cert (certification_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                 TEXT    NOT NULL PRIMARY KEY,
		role               TEXT    NOT NULL,
		name               TEXT    NOT NULL,
		name_fold          TEXT    NOT NULL,
		login_key          TEXT    NOT NULL,
		password_hash      TEXT    NOT NULL,
		refresh_token_hash TEXT    NULL,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL,
		UNIQUE (role, login_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_role_name ON accounts (role, name)`,
	`CREATE TABLE IF NOT EXISTS students (
		account_id       TEXT    NOT NULL PRIMARY KEY,
		institution_id   TEXT    NOT NULL,
		roll             TEXT    NOT NULL UNIQUE,
		programme        TEXT    NOT NULL,
		department       TEXT    NOT NULL,
		portal_data      TEXT    NULL,
		portal_synced_at INTEGER NULL
	)`,
	`CREATE TABLE IF NOT EXISTS faculty (
		account_id     TEXT NOT NULL PRIMARY KEY,
		institution_id TEXT NOT NULL,
		department     TEXT NOT NULL,
		position       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_faculty_institution ON faculty (institution_id)`,
	`CREATE TABLE IF NOT EXISTS institutions (
		account_id        TEXT NOT NULL PRIMARY KEY,
		location          TEXT NOT NULL,
		api_url           TEXT NULL,
		encrypted_api_key TEXT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS certifications (
		id                TEXT    NOT NULL PRIMARY KEY,
		title             TEXT    NOT NULL,
		student_id        TEXT    NOT NULL,
		routed_to_faculty INTEGER NOT NULL,
		faculty_id        TEXT    NULL,
		approved          INTEGER NOT NULL DEFAULT 0,
		certificate_url   TEXT    NOT NULL,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		approved_at       INTEGER NULL
	)`,
	`CREATE TABLE IF NOT EXISTS student_certifications (
		student_id       TEXT    NOT NULL,
		certification_id TEXT    NOT NULL,
		added_at         INTEGER NOT NULL,
		PRIMARY KEY (student_id, certification_id)
	)`,
	`CREATE TABLE IF NOT EXISTS faculty_certifications (
		faculty_id       TEXT    NOT NULL,
		certification_id TEXT    NOT NULL,
		state            TEXT    NOT NULL,
		updated_at       INTEGER NOT NULL,
		PRIMARY KEY (faculty_id, certification_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_faculty_certifications_cert ON faculty_certifications (certification_id)`,
}

// Migrate creates the tables for the given driver.  Statements are
// idempotent so it runs on every start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch driver {
	case DriverMySQL:
		stmts = mysqlSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: statement %d: %w", i+1, err)
		}
	}
	return nil
}
