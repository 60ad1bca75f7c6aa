package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// Validate checks every .sql file in fsys: the version_name.sql naming, unique
// versions, both goose sections, and balanced StatementBegin/End markers.
func Validate(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var problems []error
	owners := map[int64]string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := parseVersion(name)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if prev, dup := owners[version]; dup {
			problems = append(problems, fmt.Errorf("version %d used by %s and %s", version, prev, name))
		}
		owners[version] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		problems = append(problems, checkBody(name, string(body))...)
	}
	return errors.Join(problems...)
}

func parseVersion(name string) (int64, error) {
	m := migrationName.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name)
	}
	return strconv.ParseInt(m[1], 10, 64)
}

func checkBody(name, body string) []error {
	var problems []error
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		problems = append(problems, fmt.Errorf("%s: missing -- +goose Up", name))
	case down < 0:
		problems = append(problems, fmt.Errorf("%s: missing -- +goose Down", name))
	case down < up:
		problems = append(problems, fmt.Errorf("%s: Down section precedes Up", name))
	}
	begins := strings.Count(body, "-- +goose StatementBegin")
	ends := strings.Count(body, "-- +goose StatementEnd")
	if begins != ends {
		problems = append(problems, fmt.Errorf("%s: %d StatementBegin vs %d StatementEnd", name, begins, ends))
	}
	return problems
}
