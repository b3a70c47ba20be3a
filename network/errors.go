package network

type ClosedError struct{}

func (e ClosedError) Error() string {
	return "ClosedError"
}

type EmptyMessageError struct{}

func (e EmptyMessageError) Error() string {
	return "EmptyMessageError"
}

type OversizedMessageError struct{}

func (e OversizedMessageError) Error() string {
	return "OversizedMessageError"
}

type UnrecognizedMessageError struct{}

func (e UnrecognizedMessageError) Error() string {
	return "UnrecognizedMessageError"
}

type DecodeError struct{}

func (e DecodeError) Error() string {
	return "DecodeError"
}

type PeerNotFoundError struct{}

func (e PeerNotFoundError) Error() string {
	return "PeerNotFoundError"
}

type BadAddressError struct{}

func (e BadAddressError) Error() string {
	return "BadAddressError"
}

type BadKeyError struct{}

func (e BadKeyError) Error() string {
	return "BadKeyError"
}

type ReplayError struct{}

func (e ReplayError) Error() string {
	return "ReplayError"
}

type NotReadyError struct{}

func (e NotReadyError) Error() string {
	return "NotReadyError"
}

type QueueFullError struct{}

func (e QueueFullError) Error() string {
	return "QueueFullError"
}

// HandshakeTimeoutError means no ack arrived after every init retransmission.
type HandshakeTimeoutError struct{}

func (e HandshakeTimeoutError) Error() string {
	return "HandshakeTimeoutError"
}

// TimeoutError means nothing was received from the remote side for too long.
type TimeoutError struct{}

func (e TimeoutError) Error() string {
	return "TimeoutError"
}

// RemoteClosedError means the remote side announced it was closing the connection.
type RemoteClosedError struct{}

func (e RemoteClosedError) Error() string {
	return "RemoteClosedError"
}

// HandlerFailureError means too many consecutive inbound datagrams could not be decoded, or made the listener panic.
type HandlerFailureError struct{}

func (e HandlerFailureError) Error() string {
	return "HandlerFailureError"
}
