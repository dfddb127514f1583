package media

// Element is a processing stage with one sink and one source pad.
type Element interface {
	Name() string
	SinkPad() *Pad
	SrcPad() *Pad
	Start() error
	Stop() error
}
