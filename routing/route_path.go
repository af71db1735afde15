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

// Package routing compiles route patterns such as "/users/{id}" or "/files/*" into RoutePath values that can be
// matched against request paths.
package routing

import (
	"strings"

	"github.com/xrpc-go/xrpc/xrpcerr"
)

// WildcardParam is the Params key under which a trailing wildcard capture is stored.
const WildcardParam = "*"

type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentParam
	segmentWildcard
)

type segment struct {
	kind  segmentKind
	value string // literal text or parameter name
}

// Params maps path parameter names to the values matched in a request path.
type Params map[string]string

// Get returns the named parameter or an empty string.
func (p Params) Get(name string) string {
	return p[name]
}

// RoutePath is a compiled, immutable route pattern.
type RoutePath struct {
	pattern  string
	segments []segment
	wildcard bool
}

// Compile parses a pattern into a RoutePath. Patterns are "/" delimited; a segment "{name}" binds a parameter and
// a final segment "*" captures the remainder of the path.
func Compile(pattern string) (*RoutePath, error) {
	if pattern == "" {
		return nil, xrpcerr.New(xrpcerr.KindInvalidPattern, "route pattern must not be empty")
	}

	if !strings.HasPrefix(pattern, "/") {
		return nil, xrpcerr.Newf(xrpcerr.KindInvalidPattern, "route pattern [%s] must start with /", pattern)
	}

	parts := strings.Split(pattern[1:], "/")
	routePath := &RoutePath{
		pattern:  pattern,
		segments: make([]segment, 0, len(parts)),
	}
	names := map[string]struct{}{}

	for i, part := range parts {
		switch {
		case part == WildcardParam:
			if i != len(parts)-1 {
				return nil, xrpcerr.Newf(xrpcerr.KindInvalidPattern, "route pattern [%s] has a wildcard that is not the final segment", pattern)
			}
			routePath.segments = append(routePath.segments, segment{kind: segmentWildcard})
			routePath.wildcard = true

		case strings.HasPrefix(part, "{"):
			if !strings.HasSuffix(part, "}") {
				return nil, xrpcerr.Newf(xrpcerr.KindInvalidPattern, "route pattern [%s] has an unterminated parameter [%s]", pattern, part)
			}
			name := part[1 : len(part)-1]
			if name == "" || strings.ContainsAny(name, "{}*") {
				return nil, xrpcerr.Newf(xrpcerr.KindInvalidPattern, "route pattern [%s] has an invalid parameter name [%s]", pattern, part)
			}
			if _, dup := names[name]; dup {
				return nil, xrpcerr.Newf(xrpcerr.KindInvalidPattern, "route pattern [%s] declares parameter [%s] twice", pattern, name)
			}
			names[name] = struct{}{}
			routePath.segments = append(routePath.segments, segment{kind: segmentParam, value: name})

		default:
			if strings.ContainsAny(part, "{}*") {
				return nil, xrpcerr.Newf(xrpcerr.KindInvalidPattern, "route pattern [%s] has an invalid segment [%s]", pattern, part)
			}
			routePath.segments = append(routePath.segments, segment{kind: segmentLiteral, value: part})
		}
	}

	return routePath, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(pattern string) *RoutePath {
	routePath, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return routePath
}

// Pattern returns the raw pattern the RoutePath was compiled from.
func (routePath *RoutePath) Pattern() string {
	return routePath.pattern
}

// HasWildcard reports whether the pattern ends in a wildcard.
func (routePath *RoutePath) HasWildcard() bool {
	return routePath.wildcard
}

// ParamNames returns the parameter names in declaration order, including WildcardParam when present.
func (routePath *RoutePath) ParamNames() []string {
	var names []string
	for _, seg := range routePath.segments {
		switch seg.kind {
		case segmentParam:
			names = append(names, seg.value)
		case segmentWildcard:
			names = append(names, WildcardParam)
		}
	}
	return names
}

// Match matches a request path. On success the returned Params holds every bound parameter; a wildcard capture
// is stored under WildcardParam and may be empty.
func (routePath *RoutePath) Match(path string) (Params, bool) {
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}

	parts := strings.Split(path[1:], "/")
	fixed := len(routePath.segments)
	if routePath.wildcard {
		fixed--
		if len(parts) < fixed {
			return nil, false
		}
	} else if len(parts) != fixed {
		return nil, false
	}

	var params Params
	for i := 0; i < fixed; i++ {
		seg := routePath.segments[i]
		switch seg.kind {
		case segmentLiteral:
			if parts[i] != seg.value {
				return nil, false
			}
		case segmentParam:
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = Params{}
			}
			params[seg.value] = parts[i]
		}
	}

	if params == nil {
		params = Params{}
	}

	if routePath.wildcard {
		params[WildcardParam] = strings.Join(parts[fixed:], "/")
	}

	return params, true
}

func (routePath *RoutePath) String() string {
	return routePath.pattern
}
