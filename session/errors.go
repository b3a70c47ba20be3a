package session

// CapabilityDisabledError is returned when registering a contract the local node's capabilities do not allow.
type CapabilityDisabledError struct{}

func (e CapabilityDisabledError) Error() string {
	return "CapabilityDisabledError"
}

type DuplicateContractError struct{}

func (e DuplicateContractError) Error() string {
	return "DuplicateContractError"
}

type UnknownContractError struct{}

func (e UnknownContractError) Error() string {
	return "UnknownContractError"
}

type MalformedFrameError struct{}

func (e MalformedFrameError) Error() string {
	return "MalformedFrameError"
}

type TimeoutError struct{}

func (e TimeoutError) Error() string {
	return "TimeoutError"
}

type FinishedError struct{}

func (e FinishedError) Error() string {
	return "FinishedError"
}
