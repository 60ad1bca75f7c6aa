package bigquery

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
)

func TestConfiguredTables(t *testing.T) {
	require.Equal(t, []string{"order_status_events"}, configuredTables(config.BigQueryConfig{OrderEventsTable: " order_status_events "}))
	require.Empty(t, configuredTables(config.BigQueryConfig{OrderEventsTable: "  "}))
}

func TestClientOptions(t *testing.T) {
	require.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"x"}`, ApplicationCredentials: "/tmp/creds"}), 1)
	require.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds"}), 1)
	require.Empty(t, clientOptions(config.GCPConfig{}))
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "d", OrderEventsTable: "t"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{OrderEventsTable: "t"}, nil)
	require.ErrorIs(t, err, errDatasetRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "d"}, nil)
	require.ErrorIs(t, err, errTableRequired)
}

func TestLookupError(t *testing.T) {
	missing := lookupError("table", "order_status_events", &googleapi.Error{Code: http.StatusNotFound})
	require.EqualError(t, missing, `table "order_status_events" does not exist`)

	denied := &googleapi.Error{Code: http.StatusForbidden}
	require.ErrorIs(t, lookupError("dataset", "orderflow", denied), denied)
}

func TestInsertErrorSummarizesRowFailures(t *testing.T) {
	err := insertError(bigquery.PutMultiError{
		{RowIndex: 2, Errors: bigquery.MultiError{errors.New("no such field: foo")}},
		{RowIndex: 5, Errors: bigquery.MultiError{errors.New("no such field: foo")}},
	})
	require.ErrorContains(t, err, "2 of the rows rejected, row 2")

	plain := errors.New("unavailable")
	require.Equal(t, plain, insertError(plain))
	require.NoError(t, insertError(nil))
}

func TestNilClient(t *testing.T) {
	var c *Client
	require.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	require.ErrorIs(t, c.InsertRows(context.Background(), "t", []Row{{InsertID: "1"}}), errNotInitialized)
	require.NoError(t, c.Close())
}
