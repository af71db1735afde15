/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package xrpc

import (
	"net/http"
	"strings"

	"github.com/xrpc-go/xrpc/routing"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// Handler handles a routed request. A returned error is converted to a response by the ExceptionHandler. A nil
// response with a nil error is sent as 204 No Content.
type Handler func(req *Request) (*Response, error)

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodDelete:  {},
	http.MethodHead:    {},
	http.MethodOptions: {},
	http.MethodPatch:   {},
	http.MethodTrace:   {},
	http.MethodConnect: {},
}

// Route binds a method and a compiled path pattern to a Handler. Routes are immutable once created.
type Route struct {
	method  string
	path    *routing.RoutePath
	handler Handler
	service string
}

// NewRoute validates and compiles a route.
func NewRoute(method, pattern string, handler Handler) (*Route, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return nil, xrpcerr.InvalidArgument("route method must not be empty")
	}

	if _, ok := knownMethods[method]; !ok {
		return nil, xrpcerr.Newf(xrpcerr.KindInvalidArgument, "unknown route method [%s]", method)
	}

	if pattern == "" {
		return nil, xrpcerr.InvalidArgument("route pattern must not be empty")
	}

	if handler == nil {
		return nil, xrpcerr.Newf(xrpcerr.KindInvalidArgument, "route [%s %s] has no handler", method, pattern)
	}

	path, err := routing.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return &Route{
		method:  method,
		path:    path,
		handler: handler,
	}, nil
}

func (route *Route) Method() string {
	return route.method
}

func (route *Route) Pattern() string {
	return route.path.Pattern()
}

func (route *Route) Path() *routing.RoutePath {
	return route.path
}

func (route *Route) Handler() Handler {
	return route.handler
}

// Service is the name of the Service the route was registered through, "" otherwise.
func (route *Route) Service() string {
	return route.service
}

// Key identifies a route by method and raw pattern.
func (route *Route) Key() string {
	return route.method + " " + route.path.Pattern()
}

func (route *Route) String() string {
	if route.service != "" {
		return route.Key() + " (" + route.service + ")"
	}
	return route.Key()
}

func (route *Route) withService(service string) *Route {
	clone := *route
	clone.service = service
	return &clone
}

// Routes is a collection routes can be added to. Per-method helpers such as Get and Post are free functions built
// on AddRoute.
type Routes interface {
	AddRoute(route *Route) error
	Routes() []*Route
}

// routeSet is the ordered, duplicate-free storage shared by RouteBuilder and Service.
type routeSet struct {
	routes []*Route
	keys   map[string]struct{}
}

func (set *routeSet) add(route *Route) error {
	if route == nil {
		return xrpcerr.InvalidArgument("route must not be nil")
	}

	if set.keys == nil {
		set.keys = map[string]struct{}{}
	}

	if _, ok := set.keys[route.Key()]; ok {
		return xrpcerr.Newf(xrpcerr.KindDuplicateRoute, "route [%s] already registered", route.Key())
	}

	set.keys[route.Key()] = struct{}{}
	set.routes = append(set.routes, route)
	return nil
}

func (set *routeSet) list() []*Route {
	return append([]*Route(nil), set.routes...)
}

// Service is a named bundle of routes. Routes added to a Service are tagged with its name, which also selects their
// rate limit group.
type Service struct {
	name string
	set  routeSet
}

var _ Routes = (*Service)(nil)

func NewService(name string) *Service {
	return &Service{name: name}
}

func (service *Service) Name() string {
	return service.name
}

func (service *Service) AddRoute(route *Route) error {
	if route == nil {
		return xrpcerr.InvalidArgument("route must not be nil")
	}
	return service.set.add(route.withService(service.name))
}

func (service *Service) Routes() []*Route {
	return service.set.list()
}

// AddRoute compiles and adds a route for method and pattern.
func AddRoute(routes Routes, method, pattern string, handler Handler) error {
	route, err := NewRoute(method, pattern, handler)
	if err != nil {
		return err
	}
	return routes.AddRoute(route)
}

func Get(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodGet, pattern, handler)
}

func Post(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodPost, pattern, handler)
}

func Put(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodPut, pattern, handler)
}

func Delete(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodDelete, pattern, handler)
}

func Head(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodHead, pattern, handler)
}

func Options(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodOptions, pattern, handler)
}

func Patch(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodPatch, pattern, handler)
}

func Trace(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodTrace, pattern, handler)
}

func Connect(routes Routes, pattern string, handler Handler) error {
	return AddRoute(routes, http.MethodConnect, pattern, handler)
}

// AddRoutes merges every route of src into dst. Nothing is added if any route would be a duplicate.
func AddRoutes(dst Routes, src Routes) error {
	if dst == nil || src == nil {
		return xrpcerr.InvalidArgument("routes must not be nil")
	}

	existing := map[string]struct{}{}
	for _, route := range dst.Routes() {
		existing[route.Key()] = struct{}{}
	}

	incoming := src.Routes()
	for _, route := range incoming {
		if _, ok := existing[route.Key()]; ok {
			return xrpcerr.Newf(xrpcerr.KindDuplicateRoute, "route [%s] already registered", route.Key())
		}
		existing[route.Key()] = struct{}{}
	}

	for _, route := range incoming {
		if err := dst.AddRoute(route); err != nil {
			return err
		}
	}
	return nil
}

// AddService merges a Service into dst with the same duplicate checks as AddRoutes.
func AddService(dst Routes, service *Service) error {
	if service == nil {
		return xrpcerr.InvalidArgument("service must not be nil")
	}
	return AddRoutes(dst, service)
}
