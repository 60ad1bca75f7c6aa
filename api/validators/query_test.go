package validators

import (
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders?limit=30", nil)
	got, err := ParseQueryInt(req, "limit", 25, 1, 100)
	if err != nil || got != 30 {
		t.Fatalf("expected 30, got %d (%v)", got, err)
	}

	req = httptest.NewRequest("GET", "/orders", nil)
	if got, _ := ParseQueryInt(req, "limit", 25, 1, 100); got != 25 {
		t.Fatalf("expected default 25, got %d", got)
	}

	for _, raw := range []string{"abc", "0", "101"} {
		req = httptest.NewRequest("GET", "/orders?limit="+raw, nil)
		if _, err := ParseQueryInt(req, "limit", 25, 1, 100); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("limit=%s: expected validation error, got %v", raw, err)
		}
	}
}

func TestParseQueryUUID(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders", nil)
	id, err := ParseQueryUUID(req, "customerId")
	if err != nil || id != nil {
		t.Fatalf("expected nil for missing param, got %v (%v)", id, err)
	}

	req = httptest.NewRequest("GET", "/orders?customerId=nope", nil)
	if _, err := ParseQueryUUID(req, "customerId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	req = httptest.NewRequest("GET", "/orders?customerId=7c9e6679-7425-40de-944b-e07fc1f90ae7", nil)
	id, err = ParseQueryUUID(req, "customerId")
	if err != nil || id == nil || id.String() != "7c9e6679-7425-40de-944b-e07fc1f90ae7" {
		t.Fatalf("unexpected parse result %v (%v)", id, err)
	}
}
