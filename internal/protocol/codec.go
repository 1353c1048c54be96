package protocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec encodes and decodes Messages to and from the bytes carried over the
// transport. The rest of the system only depends on this interface, so a
// different wire format can be substituted without touching transport,
// runner, or stats code.
type Codec interface {
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// ProtoCodec implements Codec by folding the four top-level fields into a
// single structpb.Struct and marshaling it with the standard protobuf binary
// wire format. structpb.Struct already models a JSON-like tree of
// primitives, lists, and maps, so no generated .proto message type is
// needed for either the envelope or the payload.
type ProtoCodec struct{}

// Encode implements Codec.
func (ProtoCodec) Encode(m Message) ([]byte, error) {
	dataStruct, err := structpb.NewStruct(m.Data)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode data: %w", err)
	}

	envelope, err := structpb.NewStruct(map[string]any{
		"type":    string(m.Type),
		"node_id": m.NodeID,
		"version": float64(m.Version),
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	envelope.Fields["data"] = structpb.NewStructValue(dataStruct)

	b, err := proto.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	return b, nil
}

// Decode implements Codec.
func (ProtoCodec) Decode(b []byte) (Message, error) {
	var envelope structpb.Struct
	if err := proto.Unmarshal(b, &envelope); err != nil {
		return Message{}, fmt.Errorf("protocol: unmarshal: %w", err)
	}

	m := Message{}
	if v, ok := envelope.Fields["type"]; ok {
		m.Type = MessageType(v.GetStringValue())
	}
	if v, ok := envelope.Fields["node_id"]; ok {
		m.NodeID = v.GetStringValue()
	}
	if v, ok := envelope.Fields["version"]; ok {
		m.Version = int32(v.GetNumberValue())
	}
	if v, ok := envelope.Fields["data"]; ok {
		if s := v.GetStructValue(); s != nil {
			m.Data = s.AsMap()
		}
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	return m, nil
}
