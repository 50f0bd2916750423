package protocol

import (
	"bytes"
	"encoding/json"
	"io"

	"vhgate/pkg/mcproto"
)

// chatComponent is the clientbound Disconnect packet body sent when
// next_state=Login: {"text": "<reason>"}.
type chatComponent struct {
	Text string `json:"text"`
}

// statusVersion, statusPlayers and statusResponse together form the
// server-list ping document sent when next_state=Status.
type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type statusPlayers struct {
	Max    int           `json:"max"`
	Online int           `json:"online"`
	Sample []interface{} `json:"sample"`
}

type statusResponse struct {
	Version     statusVersion `json:"version"`
	Players     statusPlayers `json:"players"`
	Description chatComponent `json:"description"`
}

// EncodeRejection writes the typed rejection packet of the wire protocol:
// a clientbound packet (id 0) whose body is a single JSON string. The JSON
// shape depends on whether the client asked for a status ping or a login.
func EncodeRejection(w io.Writer, next NextState, reason string) error {
	var payloadJSON []byte
	var err error

	switch next {
	case NextStateStatus:
		payloadJSON, err = json.Marshal(statusResponse{
			Version:     statusVersion{Name: "", Protocol: -1},
			Players:     statusPlayers{Max: 0, Online: 0, Sample: []interface{}{}},
			Description: chatComponent{Text: reason},
		})
	default:
		// Login (and, defensively, anything else): a kick-screen chat component.
		payloadJSON, err = json.Marshal(chatComponent{Text: reason})
	}
	if err != nil {
		return err
	}

	var payload bytes.Buffer
	if _, err := mcproto.WriteVarInt(&payload, 0); err != nil {
		return err
	}
	if _, err := mcproto.WriteString(&payload, string(payloadJSON)); err != nil {
		return err
	}

	if _, err := mcproto.WriteVarInt(w, int32(payload.Len())); err != nil {
		return err
	}
	_, err = w.Write(payload.Bytes())
	return err
}

// DecodeRejection reads a clientbound status/disconnect frame and returns
// its raw JSON string. It is used by tests; the status-ping cache captures
// frames with ReadFrame instead.
func DecodeRejection(r io.Reader) (string, error) {
	packetLen, _, err := mcproto.ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if packetLen <= 0 {
		return "", ErrInvalidPacketLength
	}
	payload := make([]byte, int(packetLen))
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", err
	}
	br := bytes.NewReader(payload)
	if _, _, err := mcproto.ReadVarInt(br); err != nil { // packet id
		return "", err
	}
	s, _, err := mcproto.ReadString(br)
	return s, err
}

// BackendNotFound is the fixed rejection reason used whenever a virtual
// host has no matching routing table entry.
const BackendNotFound = "Backend not found"

// ReadFrame reads one length-prefixed wire frame (VarInt(len) + len bytes)
// and returns it verbatim, including the length prefix, so it can be
// replayed to another connection unmodified. Used by the status-ping cache
// to capture and later replay a backend's real response.
func ReadFrame(r io.Reader) ([]byte, error) {
	packetLen, _, err := mcproto.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if packetLen <= 0 {
		return nil, ErrInvalidPacketLength
	}

	var prefix bytes.Buffer
	if _, err := mcproto.WriteVarInt(&prefix, packetLen); err != nil {
		return nil, err
	}

	payload := make([]byte, int(packetLen))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	out := make([]byte, 0, prefix.Len()+len(payload))
	out = append(out, prefix.Bytes()...)
	out = append(out, payload...)
	return out, nil
}

// WriteStatusRequest writes the serverbound, empty Status Request packet
// (id=0, no body) that a client sends after a Status handshake to elicit
// the server's ping response. Used only by the status-ping cache when
// priming a cache entry directly against a backend.
func WriteStatusRequest(w io.Writer) error {
	var payload bytes.Buffer
	if _, err := mcproto.WriteVarInt(&payload, 0); err != nil {
		return err
	}
	if _, err := mcproto.WriteVarInt(w, int32(payload.Len())); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}
