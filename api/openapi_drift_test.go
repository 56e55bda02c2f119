package api

import (
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths map[string]map[string]any `yaml:"paths"`
}

var openAPIMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// TestOpenAPIDrift fails when Router() and openapi.yaml disagree about the
// set of documented routes.
func TestOpenAPIDrift(t *testing.T) {
	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc), "parsing openapi.yaml")

	var documented []string
	for path, ops := range doc.Paths {
		for method := range ops {
			method = strings.ToUpper(method)
			if openAPIMethods[method] {
				documented = append(documented, method+" "+path)
			}
		}
	}

	// Router only registers handlers, so a zero API is enough to walk it.
	a := &API{}
	var registered []string
	err := chi.Walk(a.Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if route == "/openapi.yaml" ||
			strings.HasPrefix(route, "/docs") ||
			strings.HasPrefix(route, "/redoc") {
			return nil
		}
		registered = append(registered, method+" "+route)
		return nil
	})
	require.NoError(t, err)

	sort.Strings(documented)
	sort.Strings(registered)
	assert.Equal(t, documented, registered, "openapi.yaml is out of sync with Router()")
}

func TestOpenAPIServed(t *testing.T) {
	a := New(nil, nil, nil, WithLogger(discardLogger()))
	rec := serve(a, mustRequest(t, http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/yaml", rec.Header().Get("Content-Type"))
	assert.Equal(t, openapiSpec, rec.Body.Bytes())
}
