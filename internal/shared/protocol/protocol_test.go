package protocol

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal on a message with no payload/command variant set must fail
// rather than silently emit a frame nobody can decode a case out of.
func TestMarshalRejectsMissingPayload(t *testing.T) {
	if _, err := (&DeviceClientMessage{}).Marshal(); err == nil {
		t.Fatalf("DeviceClientMessage: expected error for unset payload")
	}
	if _, err := (&DeviceServerMessage{}).Marshal(); err == nil {
		t.Fatalf("DeviceServerMessage: expected error for unset payload")
	}
	if _, err := (&ControlClientMessage{}).Marshal(); err == nil {
		t.Fatalf("ControlClientMessage: expected error for unset payload")
	}
	if _, err := (&ControlServerMessage{}).Marshal(); err == nil {
		t.Fatalf("ControlServerMessage: expected error for unset payload")
	}
	if _, err := (&ControlClientMessageSshConnection{DeviceId: "d1"}).marshal(); err == nil {
		t.Fatalf("ControlClientMessageSshConnection: expected error for unset command")
	}
}

// An unrecognized field tag must be skipped, not fail the whole message --
// this is the forward-compatibility guarantee a future field addition
// depends on.
func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	want := &DeviceClientMessageInitialize{Id: "device-1", CommsVersion: 3}
	sub := appendString(nil, 1, want.Id)
	// An unknown field 99 inserted between the two known fields.
	sub = protowire.AppendTag(sub, 99, protowire.BytesType)
	sub = protowire.AppendBytes(sub, []byte("future-field"))
	sub = appendUint32(sub, 2, want.CommsVersion)

	var got DeviceClientMessageInitialize
	if err := got.unmarshal(sub); err != nil {
		t.Fatalf("unmarshal with unknown field: %v", err)
	}
	if got != *want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// A message built entirely from fields this version doesn't know about
// decodes to a zero-value struct rather than an error.
func TestUnmarshalToleratesEntirelyUnknownMessage(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 50, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, 51, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("unknown"))

	var m DeviceServerMessage
	if err := m.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.Payload != nil {
		t.Fatalf("expected no payload recognized, got %T", m.Payload)
	}
}

func TestSshForwardClientStateString(t *testing.T) {
	cases := map[SshForwardClientState]string{
		ClientStateUnspecified:   "Unspecified",
		ClientStateRequested:     "Requested",
		ClientStateConnecting:    "Connecting",
		ClientStateConnected:     "Connected",
		ClientStateDisconnecting: "Disconnecting",
		ClientStateDisconnected:  "Disconnected",
		ClientStateFailed:        "Failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String(): got %q, want %q", state, got, want)
		}
	}
}
