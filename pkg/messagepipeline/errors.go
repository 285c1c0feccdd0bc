package messagepipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization marks a record that could not be converted to a payload.
	ErrSerialization = errors.New("record serialization failed")
	// ErrSend marks a message the transport refused before accepting it.
	ErrSend = errors.New("send failed")
	// ErrConnection marks a transport that cannot be reached at startup.
	ErrConnection = errors.New("transport connection failed")
	// ErrTransportClosed is returned by Send after Close.
	ErrTransportClosed = errors.New("transport is closed")
	// ErrDrainIncomplete is returned when the final drain gave up with sends outstanding.
	ErrDrainIncomplete = errors.New("drain incomplete")
)

// Stage names the point in the publishing loop where a record failed.
type Stage string

const (
	StageSerialize Stage = "serialize"
	StageSend      Stage = "send"
	StageDelivery  Stage = "delivery"
)

// RecordError is a per-record failure. It never aborts a run.
type RecordError struct {
	Index int
	Key   string
	Stage Stage
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (key %s) failed at %s: %v", e.Index, e.Key, e.Stage, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
