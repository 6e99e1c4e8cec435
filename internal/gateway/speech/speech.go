// Package speech wraps the speech vendors: transcription of caller audio
// and synthesis of agent replies.
package speech

import "context"

// Transcriber converts recorded caller audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// Synthesizer renders agent text as playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}
