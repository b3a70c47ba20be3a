package peers

type AssimilationDisabledError struct{}

func (e AssimilationDisabledError) Error() string {
	return "AssimilationDisabledError"
}

type BroadcastDisabledError struct{}

func (e BroadcastDisabledError) Error() string {
	return "BroadcastDisabledError"
}

type NoLocationError struct{}

func (e NoLocationError) Error() string {
	return "NoLocationError"
}

type UnexpectedMessageError struct{}

func (e UnexpectedMessageError) Error() string {
	return "UnexpectedMessageError"
}

type DecodeError struct{}

func (e DecodeError) Error() string {
	return "DecodeError"
}

// WrongPeerError means a message was signed by someone other than the peer at the other end of the connection.
type WrongPeerError struct{}

func (e WrongPeerError) Error() string {
	return "WrongPeerError"
}
