package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/llm"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
	"github.com/moshi-chat/moshi/pkg/types"
)

// InstrumentSTT wraps p so every transcription records its latency to
// [Metrics.STTLatency] under the given provider name.
func InstrumentSTT(m *Metrics, name string, p stt.Provider) stt.Provider {
	return &instrumentedSTT{metrics: m, name: name, next: p}
}

// InstrumentLLM wraps p so every completion records its latency to
// [Metrics.LLMLatency] under the given provider name.
func InstrumentLLM(m *Metrics, name string, p llm.Provider) llm.Provider {
	return &instrumentedLLM{metrics: m, name: name, next: p}
}

// InstrumentTTS wraps p so every synthesis records its latency to
// [Metrics.TTSLatency] under the given provider name. Catalogue lookups are
// passed through unrecorded.
func InstrumentTTS(m *Metrics, name string, p tts.Provider) tts.Provider {
	return &instrumentedTTS{metrics: m, name: name, next: p}
}

type instrumentedSTT struct {
	metrics *Metrics
	name    string
	next    stt.Provider
}

func (i *instrumentedSTT) Transcribe(ctx context.Context, utterance audio.Frame, language string) (string, error) {
	start := time.Now()
	text, err := i.next.Transcribe(ctx, utterance, language)
	i.metrics.STTLatency.Record(ctx, time.Since(start).Seconds()*1000,
		metric.WithAttributes(Attr("provider", i.name)))
	return text, err
}

type instrumentedLLM struct {
	metrics *Metrics
	name    string
	next    llm.Provider
}

func (i *instrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := i.next.Complete(ctx, req)
	i.metrics.LLMLatency.Record(ctx, time.Since(start).Seconds()*1000,
		metric.WithAttributes(Attr("provider", i.name)))
	return resp, err
}

type instrumentedTTS struct {
	metrics *Metrics
	name    string
	next    tts.Provider
}

func (i *instrumentedTTS) Synthesize(ctx context.Context, text string, voice types.Voice) (audio.Frame, error) {
	start := time.Now()
	frame, err := i.next.Synthesize(ctx, text, voice)
	i.metrics.TTSLatency.Record(ctx, time.Since(start).Seconds()*1000,
		metric.WithAttributes(Attr("provider", i.name)))
	return frame, err
}

func (i *instrumentedTTS) Voices(ctx context.Context, language string) ([]types.Voice, error) {
	return i.next.Voices(ctx, language)
}
