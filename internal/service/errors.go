package service

import (
	"errors"

	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
)

var (
	// ErrEnvironmentUnavailable means pactl is missing or the audio service
	// does not answer. Fatal only for Build.
	ErrEnvironmentUnavailable = errors.New("audio service unavailable")
	// ErrUnknownChannel means the channel is not configured.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrSettleTimeout means created loopbacks did not all show up in the live
	// graph within the resolve budget.
	ErrSettleTimeout = errors.New("loopbacks did not settle")
	// ErrCommandFailed is re-exported from the runner for callers of this package.
	ErrCommandFailed = pactlexec.ErrCommandFailed
)
