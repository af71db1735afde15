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

package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xrpc-go/xrpc/xrpcerr"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type widget struct {
	Name  string `json:"name" yaml:"name" msgpack:"name"`
	Count int    `json:"count" yaml:"count" msgpack:"count"`
}

func newTestRegistry(t *testing.T, defaultContentType string) *Registry {
	builder, err := NewDefaultRegistryBuilder(defaultContentType)
	require.NoError(t, err)
	registry, err := builder.Build()
	require.NoError(t, err)
	return registry
}

func TestRegistryBuilder(t *testing.T) {
	t.Run("duplicate decoders are rejected", func(t *testing.T) {
		builder := NewRegistryBuilder(ContentTypeJSON)
		require.NoError(t, builder.AddDecoder(NewJSONCodec()))
		err := builder.AddDecoder(NewJSONCodec())
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindDuplicateContentType))
	})

	t.Run("duplicate encoders are rejected regardless of case", func(t *testing.T) {
		builder := NewRegistryBuilder(ContentTypeJSON)
		require.NoError(t, builder.AddEncoder(NewJSONCodec()))
		err := builder.AddEncoder(upperJSON{NewJSONCodec()})
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindDuplicateContentType))
	})

	t.Run("build fails without a default decoder", func(t *testing.T) {
		builder := NewRegistryBuilder(ContentTypeJSON)
		require.NoError(t, builder.AddEncoder(NewJSONCodec()))
		_, err := builder.Build()
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindMissingDefault))
	})

	t.Run("build fails without a default encoder", func(t *testing.T) {
		builder := NewRegistryBuilder(ContentTypeYAML)
		require.NoError(t, builder.AddDecoder(YAMLCodec{}))
		require.NoError(t, builder.AddCodec(NewJSONCodec()))
		_, err := builder.Build()
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindMissingDefault))
	})

	t.Run("content types without a subtype are rejected", func(t *testing.T) {
		builder := NewRegistryBuilder(ContentTypeJSON)
		for _, contentType := range []string{"text", "text/", "/json", "*/*", "application/*", "not a type"} {
			err := builder.AddEncoder(namedJSON{NewJSONCodec(), contentType})
			require.True(t, xrpcerr.IsKind(err, xrpcerr.KindInvalidArgument), contentType)

			err = builder.AddDecoder(namedJSON{NewJSONCodec(), contentType})
			require.True(t, xrpcerr.IsKind(err, xrpcerr.KindInvalidArgument), contentType)
		}

		require.NoError(t, builder.AddCodec(NewJSONCodec()))
		registry, err := builder.Build()
		require.NoError(t, err)
		require.NotPanics(t, func() {
			require.Equal(t, ContentTypeJSON, registry.ResolveEncoder("text, */*").ContentType())
		})
	})

	t.Run("build fails with no default content type", func(t *testing.T) {
		builder := NewRegistryBuilder("")
		require.NoError(t, builder.AddCodec(NewJSONCodec()))
		_, err := builder.Build()
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindMissingDefault))
	})
}

type upperJSON struct {
	*JSONCodec
}

func (upperJSON) ContentType() string {
	return "Application/JSON"
}

type namedJSON struct {
	*JSONCodec
	contentType string
}

func (codec namedJSON) ContentType() string {
	return codec.contentType
}

func TestResolveDecoder(t *testing.T) {
	registry := newTestRegistry(t, ContentTypeJSON)

	t.Run("parameters and case are ignored", func(t *testing.T) {
		require.Equal(t, ContentTypeYAML, registry.ResolveDecoder("Application/YAML; charset=utf-8").ContentType())
	})

	t.Run("missing content type resolves the default", func(t *testing.T) {
		require.Equal(t, ContentTypeJSON, registry.ResolveDecoder("").ContentType())
	})

	t.Run("unknown content type resolves the default", func(t *testing.T) {
		require.Equal(t, ContentTypeJSON, registry.ResolveDecoder("text/csv").ContentType())
	})
}

func TestResolveEncoder(t *testing.T) {
	registry := newTestRegistry(t, ContentTypeJSON)

	t.Run("missing accept resolves the default", func(t *testing.T) {
		require.Equal(t, ContentTypeJSON, registry.ResolveEncoder("").ContentType())
	})

	t.Run("wildcard resolves the default", func(t *testing.T) {
		require.Equal(t, ContentTypeJSON, registry.ResolveEncoder("*/*").ContentType())
	})

	t.Run("exact match is selected", func(t *testing.T) {
		require.Equal(t, ContentTypeMsgPack, registry.ResolveEncoder("application/msgpack").ContentType())
	})

	t.Run("quality values are honored", func(t *testing.T) {
		accept := "application/yaml;q=0.5, application/protobuf;q=0.9"
		require.Equal(t, ContentTypeProtobuf, registry.ResolveEncoder(accept).ContentType())
	})

	t.Run("unsatisfiable accept resolves the default", func(t *testing.T) {
		require.Equal(t, ContentTypeJSON, registry.ResolveEncoder("text/html").ContentType())
	})

	t.Run("default is listed first", func(t *testing.T) {
		yamlRegistry := newTestRegistry(t, ContentTypeYAML)
		require.Equal(t, ContentTypeYAML, yamlRegistry.ContentTypes()[0])
		require.Equal(t, ContentTypeYAML, yamlRegistry.ResolveEncoder("*/*").ContentType())
	})
}

func TestCodecs(t *testing.T) {
	for _, codec := range []Codec{NewJSONCodec(), MsgPackCodec{}, YAMLCodec{}} {
		codec := codec
		t.Run(codec.ContentType()+" carries structs", func(t *testing.T) {
			data, err := codec.Encode(&widget{Name: "gear", Count: 3})
			require.NoError(t, err)

			out := &widget{}
			require.NoError(t, codec.Decode(data, out))
			require.Equal(t, widget{Name: "gear", Count: 3}, *out)
		})
	}

	t.Run("json uses protojson for messages", func(t *testing.T) {
		codec := NewJSONCodec()
		data, err := codec.Encode(wrapperspb.String("hello"))
		require.NoError(t, err)
		require.Equal(t, `"hello"`, string(data))
	})

	t.Run("protobuf requires messages", func(t *testing.T) {
		_, err := ProtoCodec{}.Encode(&widget{})
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindInternal))

		data, err := ProtoCodec{}.Encode(wrapperspb.Int64(42))
		require.NoError(t, err)

		out := &wrapperspb.Int64Value{}
		require.NoError(t, ProtoCodec{}.Decode(data, out))
		require.Equal(t, int64(42), out.GetValue())
	})

	t.Run("malformed bodies are reported as such", func(t *testing.T) {
		err := NewJSONCodec().Decode([]byte("{nope"), &widget{})
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindMalformedPayload))

		err = YAMLCodec{}.Decode([]byte("name: [unterminated"), &widget{})
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindMalformedPayload))
	})
}
