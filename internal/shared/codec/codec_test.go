package codec

import (
	"bytes"
	"testing"

	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

// roundTrip encodes msg, decodes it via decode, and returns the decoded
// value for the caller to compare against the original.
func roundTrip(t *testing.T, msg Message, decode func(*Decoder) (Message, error)) Message {
	t.Helper()

	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(msg); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := decode(NewDecoder(&buf))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestDeviceClientMessageRoundTrip(t *testing.T) {
	cases := []*protocol.DeviceClientMessage{
		{Payload: &protocol.DeviceClientMessagePing{}},
		{Payload: &protocol.DeviceClientMessagePong{}},
		// Zero/empty fields: an Initialize with no id and comms_version 0
		// exercises proto3 zero-value skipping end to end.
		{Payload: &protocol.DeviceClientMessageInitialize{}},
		{Payload: &protocol.DeviceClientMessageInitialize{Id: "device-1", CommsVersion: 1}},
		{Payload: &protocol.DeviceClientMessageSshConnectionStatus{Id: "fwd-1", State: protocol.ClientStateConnected}},
	}

	for _, want := range cases {
		got := roundTrip(t, want, func(d *Decoder) (Message, error) {
			var m protocol.DeviceClientMessage
			err := d.Decode(&m)
			return &m, err
		}).(*protocol.DeviceClientMessage)

		assertDeviceClientMessageEqual(t, want, got)
	}
}

func assertDeviceClientMessageEqual(t *testing.T, want, got *protocol.DeviceClientMessage) {
	t.Helper()

	switch w := want.Payload.(type) {
	case *protocol.DeviceClientMessagePing:
		if _, ok := got.Payload.(*protocol.DeviceClientMessagePing); !ok {
			t.Fatalf("got %T, want Ping", got.Payload)
		}
	case *protocol.DeviceClientMessagePong:
		if _, ok := got.Payload.(*protocol.DeviceClientMessagePong); !ok {
			t.Fatalf("got %T, want Pong", got.Payload)
		}
	case *protocol.DeviceClientMessageInitialize:
		g, ok := got.Payload.(*protocol.DeviceClientMessageInitialize)
		if !ok {
			t.Fatalf("got %T, want Initialize", got.Payload)
		}
		if *g != *w {
			t.Fatalf("Initialize round-trip mismatch: got %+v, want %+v", g, w)
		}
	case *protocol.DeviceClientMessageSshConnectionStatus:
		g, ok := got.Payload.(*protocol.DeviceClientMessageSshConnectionStatus)
		if !ok {
			t.Fatalf("got %T, want SshConnectionStatus", got.Payload)
		}
		if *g != *w {
			t.Fatalf("SshConnectionStatus round-trip mismatch: got %+v, want %+v", g, w)
		}
	default:
		t.Fatalf("unhandled payload type %T", want.Payload)
	}
}

func TestControlClientMessageRoundTrip(t *testing.T) {
	cases := []*protocol.ControlClientMessage{
		// MessageId 0 is the zero-skip edge case the wire format cannot
		// tell apart from "absent" -- controlclient.Client never sends it
		// (its counter starts at 1), so this only documents the boundary.
		{MessageId: 0, Payload: &protocol.ControlClientMessageClientsRequest{}},
		{MessageId: 7, Payload: &protocol.ControlClientMessageClientsRequest{}},
		{MessageId: 7, Payload: &protocol.ControlClientMessageCreateDevice{DeviceId: "d1"}},
		{MessageId: 7, Payload: &protocol.ControlClientMessageSetName{DeviceId: "d1", Name: "garage-pi"}},
		{
			MessageId: 7,
			Payload: &protocol.ControlClientMessageSshConnection{
				DeviceId: "d1",
				Command: &protocol.ControlSshConnectionEnable{
					ForwardHost: "localhost",
					ForwardPort: 22,
					GatewayPort: true,
				},
			},
		},
		{
			MessageId: 7,
			Payload: &protocol.ControlClientMessageSshConnection{
				DeviceId: "d1",
				Command:  &protocol.ControlSshConnectionDisable{ConnectionId: "fwd-1"},
			},
		},
	}

	for _, want := range cases {
		got := roundTrip(t, want, func(d *Decoder) (Message, error) {
			var m protocol.ControlClientMessage
			err := d.Decode(&m)
			return &m, err
		}).(*protocol.ControlClientMessage)

		if got.MessageId != want.MessageId {
			t.Fatalf("MessageId: got %d, want %d", got.MessageId, want.MessageId)
		}
	}
}

func TestControlServerMessageSshConnectionResponseRoundTrip(t *testing.T) {
	want := &protocol.ControlServerMessage{
		InResponseTo: 7,
		Payload: &protocol.ControlServerMessageSshConnectionResponse{
			Status:       protocol.SshConnectionResponseOk,
			ConnectionId: "fwd-1",
			RemotePort:   10005,
		},
	}

	got := roundTrip(t, want, func(d *Decoder) (Message, error) {
		var m protocol.ControlServerMessage
		err := d.Decode(&m)
		return &m, err
	}).(*protocol.ControlServerMessage)

	if got.InResponseTo != want.InResponseTo {
		t.Fatalf("InResponseTo: got %d, want %d", got.InResponseTo, want.InResponseTo)
	}
	gp, ok := got.Payload.(*protocol.ControlServerMessageSshConnectionResponse)
	if !ok {
		t.Fatalf("got %T, want SshConnectionResponse", got.Payload)
	}
	wp := want.Payload.(*protocol.ControlServerMessageSshConnectionResponse)
	if *gp != *wp {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", gp, wp)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	// One byte over MaxFrameSize, with no payload bytes actually written --
	// Decode must reject on the length prefix alone, not try to read
	// MaxFrameSize+1 bytes that were never sent.
	big := uint32(MaxFrameSize) + 1
	header[0] = byte(big >> 24)
	header[1] = byte(big >> 16)
	header[2] = byte(big >> 8)
	header[3] = byte(big)
	buf.Write(header[:])

	var m protocol.DeviceClientMessage
	if err := NewDecoder(&buf).Decode(&m); err == nil {
		t.Fatalf("expected an error decoding an oversized frame")
	}
}
