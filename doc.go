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

/*
Package xrpc provides a TLS terminated HTTP/1.1 and HTTP/2 server for request/response services.

Basics

A Server is created from a Config, which can be parsed from a map of interface{}-to-interface{} values (see
LoadConfigMap for YAML). Routes are registered with the free functions Get, Post, Put and friends against anything
implementing Routes: the Server itself or a Service, which groups routes under a name used for rate limiting.

	server, err := xrpc.NewServer(config)
	...
	err = xrpc.Get(server, "/widgets/{id}", func(req *xrpc.Request) (*xrpc.Response, error) {
		return xrpc.Ok(lookup(req.Variable("id"))), nil
	})

Route patterns are made of literal segments, {name} parameters and an optional trailing * wildcard. Routes are
matched in registration order and the first match wins. A request whose method has no matching route is answered
404, the same as an unknown path.

Serving

ListenAndServe freezes routes and codecs into an immutable ServerContext and binds the configured address. Each
accepted connection is handed to the Negotiator, which performs the TLS handshake and serves the connection as
HTTP/2 when ALPN selected "h2", or as HTTP/1.1 otherwise. Every request then passes through the Pipeline:

	admission chain: connection limiter, rate limiter, allow list, deny list, firewall
	routing
	codec negotiation (Content-Type selects the decoder, Accept the encoder)
	handler
	exception handler

Errors returned by handlers are converted to responses by the ExceptionHandler. The default maps the kinds of
package xrpcerr to status codes.

Admin routes (route listing, configuration, metrics, health, liveness and readiness) are registered under the
"admin" service when enabled in configuration.
*/
package xrpc
