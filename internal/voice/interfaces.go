package voice

import "context"

// Audio is one captured utterance uploaded by the browser.
type Audio struct {
	Data       []byte
	Format     string
	SampleRate int
}

// Transcriber is the speech-to-text collaborator. It fails with
// reliability.ErrUnrecognizedAudio or reliability.ErrSpeechServiceUnavailable.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Speech is synthesized audio ready for browser playback.
type Speech struct {
	Audio  []byte
	Format string
}

// Synthesizer is the text-to-speech collaborator.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Speech, error)
}
