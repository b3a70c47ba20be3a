package network

type wireFrameType byte

const (
	wireDummy wireFrameType = iota // unused
	wireInit
	wireAck
	wireTraffic
	wireClose
)

func wireChopSlice(out []byte, data *[]byte) bool {
	if len(*data) < len(out) {
		return false
	}
	copy(out, *data)
	*data = (*data)[len(out):]
	return true
}
