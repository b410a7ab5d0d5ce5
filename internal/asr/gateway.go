// Package asr defines the ASR gateway contract and its implementations.
package asr

import (
	"context"
	"errors"
)

// ErrTransient wraps a transcription failure the caller should retry.
var ErrTransient = errors.New("asr: transient failure")

// ErrPermanent wraps a transcription failure retrying cannot fix.
var ErrPermanent = errors.New("asr: permanent failure")

// Gateway transcribes a single audio chunk, referenced by path. Errors are
// classified via errors.Is against ErrTransient/ErrPermanent; any other
// error is treated as transient by callers, matching the "default to
// transient" guidance for unclassified failures.
type Gateway interface {
	Transcribe(ctx context.Context, audioPath string) (transcript string, err error)
}
