package dig_container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/gradebook/apps/api/echo"
	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/tests"
)

func TestNew(t *testing.T) {
	conf := testutil.Config()
	hash, err := echoapi.HashAPIKey("key")
	require.NoError(t, err)
	conf.Server.APIKeyHash = hash

	c := New(context.Background(), conf, echoapi.Options{DisableReqLogs: true})

	err = c.Invoke(func(app *shared.App, server *echoapi.Server) {
		t.Cleanup(func() {
			_ = server.Close()
			_ = app.Close()
		})
		assert.Same(t, conf, app.Conf)
		assert.NotNil(t, app.Mapping)
		assert.NotNil(t, app.Batches)

		req := httptest.NewRequest(http.MethodGet, "/v1/courses", nil)
		req.Header.Set(echoapi.APIKeyHeader, "key")
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
	require.NoError(t, err)
}
