// Package webapi implements the admin/debug REST surface (spec.md §6):
// read-only introspection (GET /definitions/:type, GET /machines/:type,
// GET /machines/:type/:id) and one operator action (POST
// /machines/:type/:id/degraded/clear). Grounded on pkg/web/fast_router.go's
// path-pattern router over valyala/fasthttp — the same `:param` matching
// scheme, trimmed down to this package's handful of routes.
package webapi

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/fsm"
	"github.com/quadgate/statekeep/pkg/registry"
)

// RegistryLookup resolves a machine type name to its live Registry, so
// one webapi.Server can front several machine types.
type RegistryLookup func(machineType string) (*registry.Registry, bool)

type route struct {
	method  string
	path    string
	handler func(ctx *fasthttp.RequestCtx, params map[string]string)
}

// Server is the admin/debug REST API. Call Handler to get a
// fasthttp.RequestHandler suitable for fasthttp.Server.Handler.
type Server struct {
	lookup RegistryLookup
	logger corelog.Logger
	routes []route
}

// New constructs a Server. lookup is consulted by every route that needs
// to resolve a machine type to a live registry.
func New(lookup RegistryLookup, logger corelog.Logger) *Server {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	s := &Server{lookup: lookup, logger: logger}
	s.routes = []route{
		{"GET", "/definitions/:type", s.getDefinition},
		{"GET", "/machines/:type", s.listMachines},
		{"GET", "/machines/:type/:id", s.getMachine},
		{"POST", "/machines/:type/:id/degraded/clear", s.clearDegraded},
	}
	return s
}

// Handler returns the fasthttp.RequestHandler to register with a
// fasthttp.Server.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())
	for _, r := range s.routes {
		if r.method != method {
			continue
		}
		if params, ok := match(r.path, path); ok {
			r.handler(ctx, params)
			return
		}
	}
	ctx.Error("not found", fasthttp.StatusNotFound)
}

func match(pattern, path string) (map[string]string, bool) {
	pp := strings.Split(strings.Trim(pattern, "/"), "/")
	ap := strings.Split(strings.Trim(path, "/"), "/")
	if len(pp) != len(ap) {
		return nil, false
	}
	params := make(map[string]string)
	for i, part := range pp {
		if strings.HasPrefix(part, ":") {
			params[strings.TrimPrefix(part, ":")] = ap[i]
			continue
		}
		if part != ap[i] {
			return nil, false
		}
	}
	return params, true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	enc := json.NewEncoder(ctx)
	enc.Encode(v)
}

type machineView struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Version   uint64 `json:"version"`
	Complete  bool   `json:"complete"`
	Degraded  bool   `json:"degraded"`
	DegradedErr string `json:"degradedError,omitempty"`
}

func toMachineView(m *fsm.Machine) machineView {
	degraded, err := m.Degraded()
	view := machineView{
		ID:       m.ID(),
		State:    string(m.CurrentState()),
		Version:  m.Version(),
		Complete: m.Complete(),
		Degraded: degraded,
	}
	if err != nil {
		view.DegradedErr = err.Error()
	}
	return view
}

func (s *Server) getMachine(ctx *fasthttp.RequestCtx, params map[string]string) {
	reg, ok := s.lookup(params["type"])
	if !ok {
		ctx.Error("unknown machine type", fasthttp.StatusNotFound)
		return
	}
	m, ok := reg.Get(params["id"])
	if !ok {
		ctx.Error("machine not found", fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, toMachineView(m))
}

func (s *Server) listMachines(ctx *fasthttp.RequestCtx, params map[string]string) {
	reg, ok := s.lookup(params["type"])
	if !ok {
		ctx.Error("unknown machine type", fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"size": reg.Size()})
}

func (s *Server) getDefinition(ctx *fasthttp.RequestCtx, params map[string]string) {
	reg, ok := s.lookup(params["type"])
	if !ok {
		ctx.Error("unknown machine type", fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"machineType": params["type"], "size": reg.Size()})
}

// clearDegraded is the operator-intervention action of Design Notes §9:
// a degraded machine stops accepting events until an operator clears it.
func (s *Server) clearDegraded(ctx *fasthttp.RequestCtx, params map[string]string) {
	reg, ok := s.lookup(params["type"])
	if !ok {
		ctx.Error("unknown machine type", fasthttp.StatusNotFound)
		return
	}
	m, ok := reg.Get(params["id"])
	if !ok {
		ctx.Error("machine not found", fasthttp.StatusNotFound)
		return
	}
	m.ClearDegraded()
	writeJSON(ctx, fasthttp.StatusOK, toMachineView(m))
}
