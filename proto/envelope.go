package proto

import (
	"fmt"

	structpb "google.golang.org/protobuf/types/known/structpb"
)

// Envelope types understood by the controller.
const (
	TypeHandshake  = "HANDSHAKE"
	TypeRegistered = "REGISTERED"
	TypeMessage    = "MSG"
)

// ControllerID is the address of the relay itself.
const ControllerID = "CTRL"

// Envelope is the unit relayed by the controller. Payload carries one
// newline-terminated wire line for TypeMessage envelopes.
type Envelope struct {
	Id      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// ToStruct converts the envelope to its on-the-wire representation. An empty
// payload is left out.
func (e *Envelope) ToStruct() (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		"id":   structpb.NewStringValue(e.Id),
		"from": structpb.NewStringValue(e.From),
		"to":   structpb.NewStringValue(e.To),
		"type": structpb.NewStringValue(e.Type),
	}
	if e.Payload != "" {
		fields["payload"] = structpb.NewStringValue(e.Payload)
	}
	return &structpb.Struct{Fields: fields}, nil
}

// EnvelopeFromStruct is the inverse of ToStruct. Missing fields stay empty,
// unknown ones are ignored and non-string values are rejected.
func EnvelopeFromStruct(s *structpb.Struct) (*Envelope, error) {
	if s == nil {
		return nil, fmt.Errorf("decode envelope: nil struct")
	}

	env := &Envelope{}
	for name, dst := range map[string]*string{
		"id":      &env.Id,
		"from":    &env.From,
		"to":      &env.To,
		"type":    &env.Type,
		"payload": &env.Payload,
	} {
		v, ok := s.Fields[name]
		if !ok {
			continue
		}
		str, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("decode envelope: field %q is not a string", name)
		}
		*dst = str.StringValue
	}
	return env, nil
}
