package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnosis flattens an error chain for logs. Postgres fields are filled from
// whichever driver produced the error (pgx under gorm, lib/pq under goose).
type Diagnosis struct {
	Message    string
	Code       Code
	Chain      []string
	SQLState   string
	Constraint string
	Table      string
	Column     string
	Detail     string
}

func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	d := Diagnosis{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.code
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		d.SQLState, d.Constraint, d.Table, d.Column, d.Detail =
			pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName, pgxErr.Detail
	case stdErrors.As(err, &pqErr):
		d.SQLState, d.Constraint, d.Table, d.Column, d.Detail =
			string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Column, pqErr.Detail
	}
	return d
}

// Fields returns only the populated attributes, ready for logger.WithFields.
func (d Diagnosis) Fields() map[string]any {
	fields := map[string]any{"error_chain": d.Chain}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	for key, value := range map[string]string{
		"pg_code":       d.SQLState,
		"pg_constraint": d.Constraint,
		"pg_table":      d.Table,
		"pg_column":     d.Column,
		"pg_detail":     d.Detail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
