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

package main

import (
	"strings"

	"github.com/xrpc-go/xrpc"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

type greeting struct {
	Name    string `json:"name" yaml:"name" msgpack:"name"`
	Message string `json:"message,omitempty" yaml:"message,omitempty" msgpack:"message,omitempty"`
}

// newGreeterService is a small service that exercises parameters, body decoding and content negotiation.
func newGreeterService() *xrpc.Service {
	service := xrpc.NewService("greeter")

	mustRegister(xrpc.Get(service, "/greet/{name}", func(req *xrpc.Request) (*xrpc.Response, error) {
		name := req.Variable("name")
		return xrpc.Ok(&greeting{Name: name, Message: "hello, " + name}), nil
	}))

	mustRegister(xrpc.Post(service, "/greet", func(req *xrpc.Request) (*xrpc.Response, error) {
		in := &greeting{}
		if err := req.Bind(in); err != nil {
			return nil, err
		}

		if strings.TrimSpace(in.Name) == "" {
			return nil, xrpcerr.BadRequest("name is required")
		}

		in.Message = "hello, " + in.Name
		return xrpc.Created(in), nil
	}))

	return service
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}
