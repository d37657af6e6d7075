package radio

import "errors"

// Acquisition outcomes.
var (
	ErrTimeout    = errors.New("TIMEOUT")
	ErrAborted    = errors.New("ABORTED")
	ErrTerminated = errors.New("TERMINATED")
)

// Configuration errors. These are never retried by the manager.
var (
	ErrInvalidFrequency = errors.New("INVALID_FREQUENCY")
	ErrInvalidUnit      = errors.New("INVALID_UNIT")
	ErrTaskInUse        = errors.New("TASK_IN_USE")
	ErrSessionOpen      = errors.New("SESSION_OPEN")
	ErrNoSession        = errors.New("NO_SESSION")
)

// Receive session allocation failures.
var (
	ErrBufferManager   = errors.New("BUFFER_MANAGER_FAILED")
	ErrCallbackManager = errors.New("CALLBACK_MANAGER_FAILED")
	ErrDecoderStart    = errors.New("DECODER_START_FAILED")
)

// Transmit outcomes.
var (
	ErrSendRejected    = errors.New("SEND_REJECTED")
	ErrTransmitTimeout = errors.New("TRANSMIT_TIMEOUT")
	ErrTransmitStart   = errors.New("TRANSMIT_START_FAILED")
	ErrReceiveResume   = errors.New("RECEIVE_RESUME_FAILED")
)
