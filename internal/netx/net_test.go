package netx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		var gotBody, gotCT, gotMethod, gotHeader string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotHeader = r.Header.Get("X-Test")
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			_, _ = io.WriteString(w, `{"ok":true}`)
		}))
		defer ts.Close()

		var out struct{ OK bool }
		err := DoJSON(context.Background(), nil, http.MethodPut, ts.URL, http.Header{"X-Test": {"v"}},
			map[string]int{"a": 1}, &out)
		require.NoError(t, err)

		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, "application/json", gotCT)
		assert.Equal(t, "v", gotHeader)
		assert.Equal(t, `{"a":1}`, gotBody)
		assert.True(t, out.OK)
	})

	t.Run("non-2xx -> status error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, "denied")
		}))
		defer ts.Close()

		err := DoJSON(context.Background(), nil, http.MethodGet, ts.URL, nil, nil, nil)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusForbidden, se.Code)
		assert.Equal(t, "denied", se.Body)
		assert.False(t, IsNetworkError(err))
	})

	t.Run("network error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		err := DoJSON(context.Background(), nil, http.MethodGet, ts.URL, nil, nil, nil)
		require.Error(t, err)
		assert.True(t, IsNetworkError(err))
	})
}
