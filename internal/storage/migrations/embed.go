// Package migrations embeds and applies the SQL schema for the optional
// PostgreSQL checkpoint store and ClickHouse action/flow stores.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// execFunc runs one SQL text against a database.
type execFunc func(ctx context.Context, sql string) error

// runner applies the .sql files of one embedded directory in lexical order.
type runner struct {
	fsys fs.FS
	dir  string
	// perStatement splits files on ';' for drivers that reject multi-statement
	// texts.
	perStatement bool
	exec         execFunc
	log          *zap.SugaredLogger
}

// files lists the .sql files of the runner's directory in lexical order.
func (r *runner) files() ([]string, error) {
	entries, err := fs.ReadDir(r.fsys, r.dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", r.dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// apply runs every file. Files are idempotent DDL, so a rerun is harmless.
func (r *runner) apply(ctx context.Context) error {
	log := r.log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	files, err := r.files()
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(r.fsys, path.Join(r.dir, file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		text := string(data)

		stmts := []string{strings.TrimSpace(text)}
		if r.perStatement {
			if err := validateNoSemicolonInStrings(text); err != nil {
				return fmt.Errorf("validate migration %s: %w", file, err)
			}
			stmts = splitStatements(text)
		}

		for _, stmt := range stmts {
			if stmt == "" {
				continue
			}
			if err := r.exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
		log.Debugw("migration applied", "dir", r.dir, "file", file, "statements", len(stmts))
	}

	log.Infow("schema ready", "dir", r.dir, "files", len(files))
	return nil
}
