package cast

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Protocol is the protocol segment of every cast topic.
const Protocol = "cast"

// InstructionMessage arrives on graylogic/command/cast/{device_id}.
type InstructionMessage struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	DeviceID    string          `json:"device_id"`
	Instruction string          `json:"instruction"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Source      string          `json:"source,omitempty"`
}

// AckStatus is the status of an instruction acknowledgement.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckIgnored  AckStatus = "ignored"
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout"
)

// AckMessage is published on graylogic/ack/cast/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError carries details for failed and timed-out instructions.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceBusy        = "DEVICE_BUSY"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
)

// NewAck builds the acknowledgement for a Result.
func NewAck(commandID string, deviceID DeviceID, res Result) AckMessage {
	ack := AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		DeviceID:  string(deviceID),
		Protocol:  Protocol,
	}

	switch res.Outcome {
	case OutcomeAccepted:
		ack.Status = AckAccepted
	case OutcomeIgnored:
		ack.Status = AckIgnored
	case OutcomeNotFound:
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrCodeDeviceNotFound, Message: errMessage(res.Err, "device not found")}
	default:
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(res.Err), Message: errMessage(res.Err, "instruction failed")}
	}
	return ack
}

// NewTimeoutAck is published when no reply arrives in time.
func NewTimeoutAck(commandID string, deviceID DeviceID) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		DeviceID:  string(deviceID),
		Status:    AckTimeout,
		Protocol:  Protocol,
		Error:     &AckError{Code: ErrCodeTimeout, Message: "no reply from device"},
	}
}

// NewAckError builds a failed ack with an explicit code.
func NewAckError(commandID string, deviceID DeviceID, code, message string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		DeviceID:  string(deviceID),
		Status:    AckFailed,
		Protocol:  Protocol,
		Error:     &AckError{Code: code, Message: message},
	}
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ErrCodeProtocolError
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeDeviceNotFound
	case errors.Is(err, ErrSessionStopped), errors.Is(err, ErrConnectFailed), errors.Is(err, ErrNotConnected):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrSessionBusy):
		return ErrCodeDeviceBusy
	case errors.Is(err, ErrBadInstruction):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrNotImplemented):
		return ErrCodeInvalidCommand
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	}
	return ErrCodeProtocolError
}

func errMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

// HealthStatus is the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on graylogic/health/cast.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	BridgeID       string            `json:"bridge_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	SessionsActive int               `json:"sessions_active"`
	Statistics     *ChannelStatistic `json:"statistics,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// ChannelStatistic holds cumulative channel counters.
type ChannelStatistic struct {
	StatesPublished      uint64 `json:"states_published"`
	MediaPublished       uint64 `json:"media_published"`
	InstructionsReceived uint64 `json:"instructions_received"`
	AcksTimedOut         uint64 `json:"acks_timed_out"`
	Dropped              uint64 `json:"dropped"`
	PublishErrors        uint64 `json:"publish_errors"`
}
