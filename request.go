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
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/xrpc-go/xrpc/admission"
	"github.com/xrpc-go/xrpc/encoding"
	"github.com/xrpc-go/xrpc/routing"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// Request is the view of an inbound request given to a Handler.
type Request struct {
	http    *http.Request
	route   *Route
	params  routing.Params
	conn    *admission.ConnectionInfo
	decoder encoding.Decoder
	encoder encoding.Encoder

	body     []byte
	bodyErr  error
	bodyRead bool
}

func (req *Request) HTTP() *http.Request {
	return req.http
}

func (req *Request) Context() context.Context {
	return req.http.Context()
}

func (req *Request) Header() http.Header {
	return req.http.Header
}

// Route is nil for requests that did not resolve to a route.
func (req *Request) Route() *Route {
	return req.route
}

// Variable returns the path parameter bound to name, "" if absent. The wildcard capture is under routing.WildcardParam.
func (req *Request) Variable(name string) string {
	return req.params.Get(name)
}

func (req *Request) Params() routing.Params {
	return req.params
}

func (req *Request) Connection() *admission.ConnectionInfo {
	return req.conn
}

func (req *Request) Decoder() encoding.Decoder {
	return req.decoder
}

func (req *Request) Encoder() encoding.Encoder {
	return req.encoder
}

// Body reads the full request body once. Bodies over the configured payload limit fail with a PayloadTooLarge kind.
func (req *Request) Body() ([]byte, error) {
	if req.bodyRead {
		return req.body, req.bodyErr
	}
	req.bodyRead = true

	if req.http.Body == nil || req.http.Body == http.NoBody {
		return nil, nil
	}

	req.body, req.bodyErr = io.ReadAll(req.http.Body)
	if req.bodyErr != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(req.bodyErr, &tooLarge) {
			req.bodyErr = xrpcerr.Newf(xrpcerr.KindPayloadTooLarge, "payload exceeds limit of %d bytes", tooLarge.Limit)
		} else {
			req.bodyErr = xrpcerr.Wrap(xrpcerr.KindBadRequest, req.bodyErr, "unable to read request body")
		}
	}
	return req.body, req.bodyErr
}

// Bind decodes the request body into v with the decoder selected by Content-Type.
func (req *Request) Bind(v interface{}) error {
	body, err := req.Body()
	if err != nil {
		return err
	}

	if len(body) == 0 {
		return xrpcerr.MalformedPayload(nil, "request body is empty")
	}

	return req.decoder.Decode(body, v)
}

// Response is what a Handler returns. Body is encoded with the encoder selected by Accept unless Raw is set.
type Response struct {
	Status int
	Header http.Header
	Body   interface{}

	Raw         []byte
	ContentType string
}

func NewResponse(status int, body interface{}) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: body}
}

func Ok(body interface{}) *Response {
	return NewResponse(http.StatusOK, body)
}

func Created(body interface{}) *Response {
	return NewResponse(http.StatusCreated, body)
}

func Accepted(body interface{}) *Response {
	return NewResponse(http.StatusAccepted, body)
}

func NoContent() *Response {
	return NewResponse(http.StatusNoContent, nil)
}

// RawResponse sends data as is with the given content type.
func RawResponse(status int, contentType string, data []byte) *Response {
	return &Response{Status: status, Header: http.Header{}, Raw: data, ContentType: contentType}
}

// WithHeader sets a response header and returns the response.
func (resp *Response) WithHeader(name, value string) *Response {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(name, value)
	return resp
}
