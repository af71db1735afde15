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
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/xrpc-go/xrpc/xrpcerr"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/protobuf"
	ContentTypeMsgPack  = "application/msgpack"
	ContentTypeYAML     = "application/yaml"
)

// JSONCodec encodes plain values with encoding/json and protobuf messages with protojson.
type JSONCodec struct {
	marshal   protojson.MarshalOptions
	unmarshal protojson.UnmarshalOptions
}

var _ Codec = (*JSONCodec)(nil)

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{
		unmarshal: protojson.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (codec *JSONCodec) ContentType() string {
	return ContentTypeJSON
}

func (codec *JSONCodec) Decode(data []byte, v interface{}) error {
	var err error
	if msg, ok := v.(proto.Message); ok {
		err = codec.unmarshal.Unmarshal(data, msg)
	} else {
		err = json.Unmarshal(data, v)
	}

	if err != nil {
		return xrpcerr.MalformedPayload(err, "request body is not valid json")
	}
	return nil
}

func (codec *JSONCodec) Encode(v interface{}) ([]byte, error) {
	var data []byte
	var err error
	if msg, ok := v.(proto.Message); ok {
		data, err = codec.marshal.Marshal(msg)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return nil, xrpcerr.MalformedPayload(err, "response could not be encoded as json")
	}
	return data, nil
}

// ProtoCodec encodes protobuf messages in the binary wire format.
type ProtoCodec struct{}

var _ Codec = ProtoCodec{}

func (ProtoCodec) ContentType() string {
	return ContentTypeProtobuf
}

func (ProtoCodec) Decode(data []byte, v interface{}) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return xrpcerr.Internal(fmt.Errorf("%T is not a proto.Message", v), "protobuf decode target")
	}

	if err := proto.Unmarshal(data, msg); err != nil {
		return xrpcerr.MalformedPayload(err, "request body is not a valid protobuf message")
	}
	return nil
}

func (ProtoCodec) Encode(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, xrpcerr.Internal(fmt.Errorf("%T is not a proto.Message", v), "protobuf encode source")
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, xrpcerr.MalformedPayload(err, "response could not be encoded as protobuf")
	}
	return data, nil
}

// MsgPackCodec encodes values as MessagePack.
type MsgPackCodec struct{}

var _ Codec = MsgPackCodec{}

func (MsgPackCodec) ContentType() string {
	return ContentTypeMsgPack
}

func (MsgPackCodec) Decode(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return xrpcerr.MalformedPayload(err, "request body is not valid msgpack")
	}
	return nil
}

func (MsgPackCodec) Encode(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, xrpcerr.MalformedPayload(err, "response could not be encoded as msgpack")
	}
	return data, nil
}

// YAMLCodec encodes values as YAML.
type YAMLCodec struct{}

var _ Codec = YAMLCodec{}

func (YAMLCodec) ContentType() string {
	return ContentTypeYAML
}

func (YAMLCodec) Decode(data []byte, v interface{}) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return xrpcerr.MalformedPayload(err, "request body is not valid yaml")
	}
	return nil
}

// Encode reports unsupported values, which yaml.v3 panics on, as malformed payloads.
func (YAMLCodec) Encode(v interface{}) (data []byte, err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			data = nil
			err = xrpcerr.MalformedPayload(fmt.Errorf("%v", panicVal), "response could not be encoded as yaml")
		}
	}()

	if data, err = yaml.Marshal(v); err != nil {
		return nil, xrpcerr.MalformedPayload(err, "response could not be encoded as yaml")
	}
	return data, nil
}

// NewDefaultRegistryBuilder returns a builder preloaded with the JSON, protobuf, MessagePack and YAML codecs.
func NewDefaultRegistryBuilder(defaultContentType string) (*RegistryBuilder, error) {
	builder := NewRegistryBuilder(defaultContentType)
	for _, codec := range []Codec{NewJSONCodec(), ProtoCodec{}, MsgPackCodec{}, YAMLCodec{}} {
		if err := builder.AddCodec(codec); err != nil {
			return nil, err
		}
	}
	return builder, nil
}
