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
	"github.com/michaelquigley/pfxlog"
	"github.com/xrpc-go/xrpc/routing"
)

// RouteBuilder collects routes during startup. Compile freezes it into a RouteTable.
type RouteBuilder struct {
	set routeSet
}

var _ Routes = (*RouteBuilder)(nil)

func NewRouteBuilder() *RouteBuilder {
	return &RouteBuilder{}
}

// AddRoute adds a route. Errors with a DuplicateRoute kind if the method and pattern are already present, leaving
// the builder unchanged.
func (builder *RouteBuilder) AddRoute(route *Route) error {
	return builder.set.add(route)
}

func (builder *RouteBuilder) Routes() []*Route {
	return builder.set.list()
}

// Compile produces an immutable RouteTable from the routes added so far.
func (builder *RouteBuilder) Compile() *RouteTable {
	table := &RouteTable{
		byMethod: map[string][]*Route{},
		all:      builder.set.list(),
	}

	for _, route := range table.all {
		table.byMethod[route.Method()] = append(table.byMethod[route.Method()], route)
	}

	pfxlog.Logger().Debugf("compiled route table with %d routes", len(table.all))
	return table
}

// RouteTable resolves requests to routes. It is immutable and safe for concurrent use.
type RouteTable struct {
	byMethod map[string][]*Route
	all      []*Route
}

// Resolve returns the first route, in registration order, whose method and pattern match. An unregistered method
// is reported the same way as an unmatched path.
func (table *RouteTable) Resolve(method, path string) (*Route, routing.Params, bool) {
	for _, route := range table.byMethod[method] {
		if params, ok := route.Path().Match(path); ok {
			return route, params, true
		}
	}
	return nil, nil, false
}

// Routes lists every route in registration order.
func (table *RouteTable) Routes() []*Route {
	return append([]*Route(nil), table.all...)
}

func (table *RouteTable) Len() int {
	return len(table.all)
}
