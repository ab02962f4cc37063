package whisper

// samplesToFloat32 converts 16-bit signed PCM samples to float32 normalised
// to the range [-1.0, 1.0], as expected by whisper.cpp.
func samplesToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}
