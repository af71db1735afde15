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

	"github.com/michaelquigley/pfxlog"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// ExceptionHandler converts an error into a response. It receives handler errors, admission rejections and
// routing misses.
type ExceptionHandler func(req *Request, err error) *Response

// ErrorBody is the response body written by DefaultExceptionHandler.
type ErrorBody struct {
	Code    string `json:"code" yaml:"code" msgpack:"code"`
	Message string `json:"message" yaml:"message" msgpack:"message"`
}

// DefaultExceptionHandler maps errors by kind. Errors without a kind are internal faults: they are logged with
// their cause and answered with a generic 500 body.
func DefaultExceptionHandler(req *Request, err error) *Response {
	xe, ok := xrpcerr.As(err)
	if !ok {
		logFault(req, err)
		xe = xrpcerr.Internal(err, "internal server error")
	} else if xe.Status >= http.StatusInternalServerError && xe.Kind != xrpcerr.KindServiceUnavailable {
		logFault(req, err)
	}

	status := xe.Status
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}

	return NewResponse(status, &ErrorBody{
		Code:    xe.Code,
		Message: xe.Message,
	})
}

func logFault(req *Request, err error) {
	log := pfxlog.Logger().WithError(err)
	if req != nil && req.HTTP() != nil {
		log = log.WithField("method", req.HTTP().Method).WithField("path", req.HTTP().URL.Path)
	}
	log.Error("internal fault handling request")
}
