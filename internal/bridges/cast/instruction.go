package cast

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Instruction tags on the wire.
const (
	TagPlayState = "play_state"
	TagVolume    = "volume"
	TagPower     = "power"
)

// maxVolumeLevel is the top of the 0–100 volume scale.
const maxVolumeLevel = 100

// Payload is the closed set of instruction payloads.
type Payload interface {
	// Tag is the wire name of the instruction.
	Tag() string
	// Params renders the payload's parameters for logging and audit.
	Params() map[string]any

	isPayload()
}

// PlayStateInstruction asks the device to play or pause.
type PlayStateInstruction struct {
	Target PlayState
}

// VolumeKind is the volume operation requested.
type VolumeKind string

const (
	VolumeUp       VolumeKind = "up"
	VolumeDown     VolumeKind = "down"
	VolumeMute     VolumeKind = "mute"
	VolumeSetLevel VolumeKind = "set_level"
)

// VolumeInstruction changes the device volume. Level is only used by set_level.
type VolumeInstruction struct {
	Kind  VolumeKind
	Level int
}

// PowerInstruction asks the device to change power state.
type PowerInstruction struct {
	Target PowerState
}

// UnknownPayload carries a tag no handler recognises, so it can be
// rejected explicitly instead of disappearing at decode time.
type UnknownPayload struct {
	Name string
}

func (PlayStateInstruction) Tag() string { return TagPlayState }
func (VolumeInstruction) Tag() string    { return TagVolume }
func (PowerInstruction) Tag() string     { return TagPower }
func (p UnknownPayload) Tag() string     { return p.Name }

func (p PlayStateInstruction) Params() map[string]any {
	return map[string]any{"target": string(p.Target)}
}

func (p VolumeInstruction) Params() map[string]any {
	m := map[string]any{"kind": string(p.Kind)}
	if p.Kind == VolumeSetLevel {
		m["level"] = p.Level
	}
	return m
}

func (p PowerInstruction) Params() map[string]any {
	return map[string]any{"target": string(p.Target)}
}

func (UnknownPayload) Params() map[string]any { return nil }

func (PlayStateInstruction) isPayload() {}
func (VolumeInstruction) isPayload()    {}
func (PowerInstruction) isPayload()     {}
func (UnknownPayload) isPayload()       {}

// Outcome is how an instruction was resolved.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeFailed   Outcome = "failed"
	OutcomeNotFound Outcome = "not_found"
)

// Result is delivered on an instruction's reply path.
type Result struct {
	Outcome Outcome
	Err     error
}

// Instruction is a decoded command for one device.
//
// Reply is called at most once. Instructions that are logged and dropped
// (bad play-state target, unknown tag or volume kind) never call it.
type Instruction struct {
	ID       string
	DeviceID DeviceID
	Payload  Payload
	Source   string
	Reply    func(Result)
}

func (in Instruction) reply(r Result) {
	if in.Reply != nil {
		in.Reply(r)
	}
}

type playStateParams struct {
	Target *string `json:"target"`
}

type volumeParams struct {
	Kind  *string `json:"kind"`
	Level *int    `json:"level"`
}

type powerParams struct {
	Target *string `json:"target"`
}

// DecodePayload turns a wire tag and its parameters into a Payload.
//
// Structural problems (missing fields, wrong types, a level above 100, a
// power target other than "off") are ErrBadInstruction. Semantic problems
// the session is responsible for (unknown play-state target or volume
// kind) decode successfully. Unknown tags decode to UnknownPayload.
func DecodePayload(tag string, params json.RawMessage) (Payload, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: missing instruction", ErrBadInstruction)
	}

	switch tag {
	case TagPlayState:
		var p playStateParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Target == nil {
			return nil, fmt.Errorf("%w: play_state requires target", ErrBadInstruction)
		}
		return PlayStateInstruction{Target: PlayState(*p.Target)}, nil

	case TagVolume:
		var p volumeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Kind == nil {
			return nil, fmt.Errorf("%w: volume requires kind", ErrBadInstruction)
		}
		v := VolumeInstruction{Kind: VolumeKind(*p.Kind)}
		if v.Kind == VolumeSetLevel {
			if p.Level == nil {
				return nil, fmt.Errorf("%w: set_level requires level", ErrBadInstruction)
			}
			if *p.Level > maxVolumeLevel {
				return nil, fmt.Errorf("%w: level %d above %d", ErrBadInstruction, *p.Level, maxVolumeLevel)
			}
			v.Level = *p.Level
		}
		return v, nil

	case TagPower:
		var p powerParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Target == nil || PowerState(*p.Target) != PowerStateOff {
			return nil, fmt.Errorf("%w: power target must be %q", ErrBadInstruction, PowerStateOff)
		}
		return PowerInstruction{Target: PowerStateOff}, nil
	}

	return UnknownPayload{Name: tag}, nil
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: parameters: %w", ErrBadInstruction, err)
	}
	return nil
}
