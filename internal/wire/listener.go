package wire

// StringListener receives complete frames reassembled by a decoder.
type StringListener interface {
	NextString(s string)
}

// StringListenerFunc adapts a function to StringListener.
type StringListenerFunc func(s string)

func (f StringListenerFunc) NextString(s string) { f(s) }

// StringSender emits raw frames.
type StringSender interface {
	SendString(s string) error
}

// ContainerListener receives deserialized containers.
type ContainerListener interface {
	NextContainer(c Container)
}

// ContainerListenerFunc adapts a function to ContainerListener.
type ContainerListenerFunc func(c Container)

func (f ContainerListenerFunc) NextContainer(c Container) { f(c) }

// Decoder turns a byte stream into frames.
type Decoder interface {
	Feed(chunk []byte) error
	Buffered() int
	Reset()
}

// Framer frames payloads and creates matching decoders. It lets transports
// pick a framing independently of how containers are serialized.
type Framer interface {
	Frame(payload []byte) ([]byte, error)
	NewDecoder(l StringListener) Decoder
}
