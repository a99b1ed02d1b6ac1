package api

import (
	"net/http"
	"sort"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// Middleware wraps a handler.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization;
// adminMiddleware wraps handlers of endpoints that implement AdminEndpoint.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware, adminMiddleware Middleware) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if path == "" {
			continue // client-only command
		}
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		if a, ok := ep.(AdminEndpoint); ok && a.RequiresAdmin() && adminMiddleware != nil {
			handler = adminMiddleware(handler)
		}
		pattern := path
		if method != "" {
			pattern = method + " " + path
		}
		mux.HandleFunc(pattern, handler)
	}
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Commands are organized by their Group, if any.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running Tabula server via HTTP.

These commands require a running server (tabula serve).
Use --server to specify a custom server URL and --token (or TABULA_TOKEN)
for admin endpoints.

Examples:
  tabula api health                  # Check server health
  tabula api extract menu.pdf        # Extract a table from a document
  tabula api users list              # List the allow-list
  tabula api usage stats             # Show token usage`,
	}

	groups := map[string]*cobra.Command{}
	for _, ep := range r.endpoints {
		cmd := ep.Command(getServerURL)
		g, ok := ep.(Grouped)
		if !ok {
			apiCmd.AddCommand(cmd)
			continue
		}
		name, short := g.Group()
		parent, exists := groups[name]
		if !exists {
			parent = &cobra.Command{Use: name, Short: short}
			groups[name] = parent
			apiCmd.AddCommand(parent)
		}
		parent.AddCommand(cmd)
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}

// Routes returns "METHOD path" for every endpoint, sorted.
func (r *Registry) Routes() []string {
	out := make([]string, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		method, path, _ := ep.Route()
		if path == "" {
			continue
		}
		if method == "" {
			method = "*"
		}
		out = append(out, method+" "+path)
	}
	sort.Strings(out)
	return out
}
