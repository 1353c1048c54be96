// Package protocol defines the control-protocol wire record shared by the
// transport layer and the runner, and a binary codec for it.
//
// The wire codec is an interchangeable concern — only its encode/decode
// contract matters to the rest of the system. The implementation here uses
// structpb.Struct (from google.golang.org/protobuf) so a JSON-like tree of
// primitives/lists/maps round-trips through a real protobuf binary encoding
// without requiring generated message types.
package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// MessageType enumerates the control-protocol message kinds this worker
// sends or receives. Unknown types are preserved as opaque strings so the
// dispatcher can log-and-ignore forward-compatible additions.
type MessageType string

const (
	// Inbound (master → worker).
	MsgSpawn      MessageType = "spawn"
	MsgStop       MessageType = "stop"
	MsgQuit       MessageType = "quit"
	MsgReconnect  MessageType = "reconnect"
	MsgAck        MessageType = "ack"
	MsgHeartbeat  MessageType = "heartbeat"

	// Outbound (worker → master).
	MsgClientReady      MessageType = "client_ready"
	MsgClientStopped    MessageType = "client_stopped"
	MsgSpawningComplete MessageType = "spawning_complete"
	MsgStats            MessageType = "stats"
	MsgException         MessageType = "exception"
)

// ProtocolVersion is the fixed integer carried on every message.
const ProtocolVersion = 1

// Message is the control-protocol record: {type, data, nodeId, version}.
// Data is a JSON-like tree of primitives, lists, and maps — callers populate
// and read it with plain Go values (string, float64, bool, nil,
// []any, map[string]any).
type Message struct {
	Type    MessageType
	Data    map[string]any
	NodeID  string
	Version int32
}

// NewMessage builds a Message with the fixed protocol version and the given
// node id already attached.
func NewMessage(typ MessageType, nodeID string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{Type: typ, Data: data, NodeID: nodeID, Version: ProtocolVersion}
}

// NewNodeID returns "<hostname>_<32-hex>" where the hex is a process-random
// token, giving each worker process a stable, human-readable identity.
func NewNodeID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a supported platform does not fail in
		// practice; fall back to a fixed token rather than panic so
		// node-id generation is never the thing that takes the process
		// down.
		return fmt.Sprintf("%s_%032x", hostname, 0)
	}
	return hostname + "_" + hex.EncodeToString(buf)
}
