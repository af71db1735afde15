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

// Package encoding selects request decoders and response encoders by content type. A RegistryBuilder collects
// codecs during startup and is frozen into an immutable Registry that is safe for concurrent lookups.
package encoding

import (
	"mime"
	"strings"

	"github.com/michaelquigley/pfxlog"
	"github.com/munnerz/goautoneg"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// Decoder turns a request body into a value.
type Decoder interface {
	ContentType() string
	Decode(data []byte, v interface{}) error
}

// Encoder turns a value into a response body.
type Encoder interface {
	ContentType() string
	Encode(v interface{}) ([]byte, error)
}

// Codec is both a Decoder and an Encoder for the same content type.
type Codec interface {
	Decoder
	Encoder
}

// RegistryBuilder accumulates decoders and encoders. The default content type must have both a decoder and an
// encoder registered by the time Build is called.
type RegistryBuilder struct {
	defaultContentType string
	decoders           map[string]Decoder
	encoders           map[string]Encoder
	encoderOrder       []string
}

func NewRegistryBuilder(defaultContentType string) *RegistryBuilder {
	return &RegistryBuilder{
		defaultContentType: NormalizeContentType(defaultContentType),
		decoders:           map[string]Decoder{},
		encoders:           map[string]Encoder{},
	}
}

// AddDecoder registers a decoder. Errors if a decoder for the same content type is already registered.
func (builder *RegistryBuilder) AddDecoder(decoder Decoder) error {
	if decoder == nil {
		return xrpcerr.InvalidArgument("decoder must not be nil")
	}

	token := NormalizeContentType(decoder.ContentType())
	if err := validateContentType(token); err != nil {
		return err
	}

	if _, ok := builder.decoders[token]; ok {
		return xrpcerr.Newf(xrpcerr.KindDuplicateContentType, "decoder for content type [%s] already registered", token)
	}

	builder.decoders[token] = decoder
	return nil
}

// AddEncoder registers an encoder. Errors if an encoder for the same content type is already registered.
func (builder *RegistryBuilder) AddEncoder(encoder Encoder) error {
	if encoder == nil {
		return xrpcerr.InvalidArgument("encoder must not be nil")
	}

	token := NormalizeContentType(encoder.ContentType())
	if err := validateContentType(token); err != nil {
		return err
	}

	if _, ok := builder.encoders[token]; ok {
		return xrpcerr.Newf(xrpcerr.KindDuplicateContentType, "encoder for content type [%s] already registered", token)
	}

	builder.encoders[token] = encoder
	builder.encoderOrder = append(builder.encoderOrder, token)
	return nil
}

// validateContentType requires a concrete type/subtype media type. Negotiation cannot handle anything else.
func validateContentType(token string) error {
	if token == "" {
		return xrpcerr.InvalidArgument("content type must not be empty")
	}

	mediaType, _, err := mime.ParseMediaType(token)
	if err != nil {
		return xrpcerr.Wrap(xrpcerr.KindInvalidArgument, err, "content type ["+token+"] is not a valid media type")
	}

	mainType, subType, found := strings.Cut(mediaType, "/")
	if !found || mainType == "" || subType == "" || mainType == "*" || subType == "*" {
		return xrpcerr.Newf(xrpcerr.KindInvalidArgument, "content type [%s] must be of the form type/subtype", token)
	}
	return nil
}

// AddCodec registers codec as both decoder and encoder.
func (builder *RegistryBuilder) AddCodec(codec Codec) error {
	if err := builder.AddDecoder(codec); err != nil {
		return err
	}
	return builder.AddEncoder(codec)
}

// Build freezes the builder into a Registry.
func (builder *RegistryBuilder) Build() (*Registry, error) {
	if builder.defaultContentType == "" {
		return nil, xrpcerr.New(xrpcerr.KindMissingDefault, "no default content type configured")
	}

	defaultDecoder, ok := builder.decoders[builder.defaultContentType]
	if !ok {
		return nil, xrpcerr.Newf(xrpcerr.KindMissingDefault, "no decoder registered for default content type [%s]", builder.defaultContentType)
	}

	defaultEncoder, ok := builder.encoders[builder.defaultContentType]
	if !ok {
		return nil, xrpcerr.Newf(xrpcerr.KindMissingDefault, "no encoder registered for default content type [%s]", builder.defaultContentType)
	}

	registry := &Registry{
		defaultContentType: builder.defaultContentType,
		defaultDecoder:     defaultDecoder,
		defaultEncoder:     defaultEncoder,
		decoders:           make(map[string]Decoder, len(builder.decoders)),
		encoders:           make(map[string]Encoder, len(builder.encoders)),
		offers:             []string{builder.defaultContentType},
	}

	for token, decoder := range builder.decoders {
		registry.decoders[token] = decoder
	}

	for _, token := range builder.encoderOrder {
		registry.encoders[token] = builder.encoders[token]
		if token != builder.defaultContentType {
			registry.offers = append(registry.offers, token)
		}
	}

	pfxlog.Logger().Debugf("codec registry built with default [%s] and encoders %v", registry.defaultContentType, registry.offers)

	return registry, nil
}

// Registry is the immutable result of RegistryBuilder.Build.
type Registry struct {
	defaultContentType string
	defaultDecoder     Decoder
	defaultEncoder     Encoder
	decoders           map[string]Decoder
	encoders           map[string]Encoder
	offers             []string // default first, then registration order
}

// DefaultContentType returns the normalized default content type.
func (registry *Registry) DefaultContentType() string {
	return registry.defaultContentType
}

// ResolveDecoder selects a decoder from a Content-Type header value. An absent or unknown content type resolves the
// default decoder.
func (registry *Registry) ResolveDecoder(contentType string) Decoder {
	if decoder, ok := registry.decoders[NormalizeContentType(contentType)]; ok {
		return decoder
	}
	return registry.defaultDecoder
}

// ResolveEncoder selects an encoder from an Accept header value, honoring quality values. An absent, wildcard or
// unsatisfiable header resolves the default encoder.
func (registry *Registry) ResolveEncoder(accept string) Encoder {
	accept = strings.TrimSpace(accept)
	if accept == "" {
		return registry.defaultEncoder
	}

	if best := goautoneg.Negotiate(strings.ToLower(accept), registry.offers); best != "" {
		if encoder, ok := registry.encoders[best]; ok {
			return encoder
		}
	}

	return registry.defaultEncoder
}

// ContentTypes lists the encodable content types, default first.
func (registry *Registry) ContentTypes() []string {
	return append([]string(nil), registry.offers...)
}

// NormalizeContentType strips parameters and lower cases a media type: "Application/JSON; charset=utf-8" becomes
// "application/json".
func NormalizeContentType(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
