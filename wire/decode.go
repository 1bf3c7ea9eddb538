// Package wire normalizes heterogeneous transport payloads into the frame
// union defined in the types package, per docs/PROTOCOL.md.
//
// All shape-guessing heuristics live here. Downstream components only ever
// see the canonical union (*types.TokenFrame | *types.ControlFrame).
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rajulubheem/thrivix-sub003/types"
)

// DecodeErrorKind classifies payload decoding errors.
type DecodeErrorKind int

const (
	// DecodeErrorSyntax indicates malformed JSON.
	DecodeErrorSyntax DecodeErrorKind = iota
	// DecodeErrorShape indicates well-formed JSON of an unrecognized shape.
	DecodeErrorShape
)

// DecodeError represents a payload decoding error.
// Decode errors are never fatal to the stream; callers log and drop.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsUnrecognizedShape returns true if the error is a shape classification
// failure (as opposed to malformed JSON).
func IsUnrecognizedShape(err error) bool {
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return decErr.Kind == DecodeErrorShape
	}
	return false
}

// frameTypeProbe peeks at the discriminant field without a full decode.
type frameTypeProbe struct {
	FrameType string `json:"frame_type"`
}

// Decoder normalizes raw payloads into the frame union.
//
// The decoder tracks the most recently started agent as a best-effort
// fallback target for legacy delta envelopes that omit an agent id. That
// state is owned by the instance, never package-level, so concurrent
// sessions (live plus replay) stay independent.
type Decoder struct {
	lastStarted string
}

// NewDecoder creates a new decoder with no fallback agent.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// LastStartedAgent returns the current fallback agent id, if any.
func (d *Decoder) LastStartedAgent() string {
	return d.lastStarted
}

// Decode classifies a raw payload and returns either a *types.TokenFrame or
// a *types.ControlFrame.
//
// Classification order per docs/PROTOCOL.md:
//  1. explicit frame_type discriminant
//  2. legacy content-delta envelope ({type: "...delta...", delta: {text}})
//  3. plain {agent, output} object (finalized utterance)
//  4. plain {agent, role} object (spawn announcement)
//
// Unrecognized shapes return a *DecodeError with Kind=DecodeErrorShape.
func (d *Decoder) Decode(data []byte) (any, error) {
	var probe frameTypeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{
			Kind: DecodeErrorSyntax,
			Msg:  "malformed payload",
			Err:  err,
		}
	}

	switch probe.FrameType {
	case types.FrameTypeToken:
		return d.decodeToken(data)
	case types.FrameTypeControl:
		return d.decodeControl(data)
	case "":
		return d.decodeLegacy(data)
	default:
		return nil, &DecodeError{
			Kind: DecodeErrorShape,
			Msg:  fmt.Sprintf("unknown frame_type %q", probe.FrameType),
		}
	}
}

func (d *Decoder) decodeToken(data []byte) (*types.TokenFrame, error) {
	var frame types.TokenFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &DecodeError{
			Kind: DecodeErrorSyntax,
			Msg:  "malformed token frame",
			Err:  err,
		}
	}
	if frame.AgentID == "" {
		frame.AgentID = d.lastStarted
	}
	if frame.AgentID == "" {
		return nil, &DecodeError{
			Kind: DecodeErrorShape,
			Msg:  "token frame has no agent id and no fallback",
		}
	}
	return &frame, nil
}

func (d *Decoder) decodeControl(data []byte) (*types.ControlFrame, error) {
	var frame types.ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &DecodeError{
			Kind: DecodeErrorSyntax,
			Msg:  "malformed control frame",
			Err:  err,
		}
	}
	d.observeControl(&frame)
	return &frame, nil
}

// observeControl updates the fallback agent from lifecycle control frames.
func (d *Decoder) observeControl(frame *types.ControlFrame) {
	switch frame.Type {
	case types.ControlAgentSpawned, types.ControlAgentStarted:
		if frame.AgentID != "" {
			d.lastStarted = frame.AgentID
		}
	}
}

// legacyEnvelope covers the historical payload shapes still emitted by
// older backends: content-delta envelopes and the plain agent objects.
type legacyEnvelope struct {
	Type  string `json:"type"`
	Delta *struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	} `json:"delta"`
	Agent  string `json:"agent"`
	Output string `json:"output"`
	Role   string `json:"role"`
	ExecID string `json:"exec_id"`
	Ts     string `json:"ts"`
}

func (d *Decoder) decodeLegacy(data []byte) (any, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{
			Kind: DecodeErrorSyntax,
			Msg:  "malformed legacy payload",
			Err:  err,
		}
	}

	// Content-delta envelope. Older backends stream these without naming
	// the agent; target the most recently started one, best effort.
	if env.Delta != nil {
		text := env.Delta.Text
		if text == "" {
			text = env.Delta.Content
		}
		agentID := env.Agent
		if agentID == "" {
			agentID = d.lastStarted
		}
		if agentID == "" {
			return nil, &DecodeError{
				Kind: DecodeErrorShape,
				Msg:  "delta envelope has no agent id and no fallback",
			}
		}
		return &types.TokenFrame{
			ExecutionID: env.ExecID,
			AgentID:     agentID,
			Seq:         0, // unsequenced legacy path
			Text:        text,
			Ts:          env.Ts,
		}, nil
	}

	// Plain {agent, output}: a complete utterance delivered in one piece.
	if env.Agent != "" && env.Output != "" {
		return &types.TokenFrame{
			ExecutionID: env.ExecID,
			AgentID:     env.Agent,
			Seq:         0,
			Text:        env.Output,
			Final:       true,
			Ts:          env.Ts,
		}, nil
	}

	// Plain {agent, role}: spawn announcement.
	if env.Agent != "" && env.Role != "" {
		frame := &types.ControlFrame{
			ExecutionID: env.ExecID,
			Type:        types.ControlAgentSpawned,
			AgentID:     env.Agent,
			Payload:     map[string]any{"role": env.Role},
			Ts:          env.Ts,
		}
		d.observeControl(frame)
		return frame, nil
	}

	return nil, &DecodeError{
		Kind: DecodeErrorShape,
		Msg:  "unrecognized payload shape",
	}
}
