package alac

// SilentDecoder is the default Decoder until a real binding to the
// external ALAC library is wired in at the composition root: every
// packet decodes to a full frame of digital silence rather than
// failing, so the rest of the pipeline (peaks, FX, render) runs end to
// end without the codec.
type SilentDecoder struct{}

// Decode ignores payload and fmtp and returns FrameBytes of zeroed PCM.
func (SilentDecoder) Decode(payload []byte, fmtp FMTP) ([]byte, error) {
	return make([]byte, FrameBytes), nil
}
