package migrate

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	markerUp         = "-- +goose Up"
	markerDown       = "-- +goose Down"
	markerStmtBegin  = "-- +goose StatementBegin"
	markerStmtEnd    = "-- +goose StatementEnd"
	migrationFileExt = ".sql"
)

var migrationFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks every .sql file in dir: the name must be
// <14 digit version>_<slug>.sql with a unique version, and the body must hold
// an Up section followed by a Down section with balanced statement blocks.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("migration dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migration dir: %w", err)
	}

	versions := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, migrationFileExt) {
			continue
		}
		match := migrationFileRe.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("migration %q: name must be YYYYMMDDHHMMSS_slug.sql", name)
		}
		if other, dup := versions[match[1]]; dup {
			return fmt.Errorf("migration %q: version %s already used by %q", name, match[1], other)
		}
		versions[match[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %q: %w", name, err)
		}
		if err := checkSections(body); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func checkSections(body []byte) error {
	var sawUp, sawDown, inStmt bool
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case markerUp:
			if sawUp || sawDown {
				return errors.New("unexpected up marker")
			}
			sawUp = true
		case markerDown:
			if !sawUp || sawDown || inStmt {
				return errors.New("down marker must follow a closed up section")
			}
			sawDown = true
		case markerStmtBegin:
			if inStmt {
				return errors.New("nested statement block")
			}
			inStmt = true
		case markerStmtEnd:
			if !inStmt {
				return errors.New("statement end without begin")
			}
			inStmt = false
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	switch {
	case !sawUp:
		return fmt.Errorf("missing %q", markerUp)
	case !sawDown:
		return fmt.Errorf("missing %q", markerDown)
	case inStmt:
		return errors.New("unterminated statement block")
	}
	return nil
}
