// Package chat orchestrates one voice conversation session: it runs the
// listen, transcribe, think, speak loop over a detector, a player and the
// speech and language providers, and streams progress to the client over the
// session data channel.
//
// The data channel carries a line protocol of space-separated text messages:
//
//	status <token>              lifecycle and loop progress
//	transcript <role> <content> one finished message of the conversation
//	error <reason>              user-visible failures
//
// Sends are best effort: a session without a connected data channel still
// runs, it just cannot report progress.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/moshi-chat/moshi/internal/detect"
	"github.com/moshi-chat/moshi/internal/observe"
	"github.com/moshi-chat/moshi/internal/respond"
	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/llm"
	"github.com/moshi-chat/moshi/pkg/types"
)

var (
	// ErrDataChannelSet is returned when a second data channel is attached.
	ErrDataChannelSet = errors.New("chat: data channel already attached")

	// ErrNoDataChannel is returned by Start when the data channel does not
	// connect within the connection timeout.
	ErrNoDataChannel = errors.New("chat: data channel never connected")

	// ErrSystemTranscript is returned when a system message is offered to the
	// user-facing transcript stream.
	ErrSystemTranscript = errors.New("chat: system messages have no user-facing transcript")
)

// UserResetError ends the session with a reason the client shows to the user.
type UserResetError struct {
	Reason string
}

func (e *UserResetError) Error() string {
	return "chat: user reset: " + e.Reason
}

// Chatter drives one conversation session. Create one per call with New,
// attach the data channel as soon as the client opens it, then Start. A
// Chatter runs at most one session; it cannot be restarted after Stop.
type Chatter struct {
	deps      Deps
	cfg       Config
	maxLoops  int
	converter audio.FormatConverter
	metrics   *observe.Metrics

	mu       sync.Mutex
	dc       DataChannel
	messages []types.Message
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}

	dcConnected  chan struct{}
	teardownOnce sync.Once

	// Session character, owned by the run goroutine.
	voice        types.Voice
	language     string
	characterSet bool
	startRetries int
}

// New validates the collaborators and configuration and returns a Chatter
// primed with the activity's system prompt.
func New(deps Deps, cfg Config) (*Chatter, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	maxLoops := cfg.MaxLoops
	if override := deps.Activity.MaxLoops(); override != 0 {
		maxLoops = override
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Chatter{
		deps:        deps,
		cfg:         cfg,
		maxLoops:    maxLoops,
		converter:   audio.FormatConverter{Target: cfg.Format},
		metrics:     metrics,
		messages:    deps.Activity.Prompt(),
		dcConnected: make(chan struct{}),
	}, nil
}

// AttachDataChannel wires the client's channel in and unblocks the session.
// Only one channel may be attached per session.
func (c *Chatter) AttachDataChannel(dc DataChannel) error {
	if dc == nil {
		return errors.New("chat: nil data channel")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc != nil {
		return ErrDataChannelSet
	}
	c.dc = dc
	close(c.dcConnected)
	slog.Info("chat: data channel connected", "session_id", c.cfg.SessionID, "label", dc.Label())
	return nil
}

// WaitConnected blocks until the data channel is attached or ctx expires.
func (c *Chatter) WaitConnected(ctx context.Context) error {
	select {
	case <-c.dcConnected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the session: it starts the detector, spawns the turn loop
// and waits up to the connection timeout for the data channel before
// acknowledging with "status start". Calling Start on a running session is a
// no-op. On error the session is already torn down.
func (c *Chatter) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		slog.Debug("chat: already started", "session_id", c.cfg.SessionID)
		return nil
	}
	if err := c.deps.Detector.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("chat: starting detector: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		defer c.teardown()
		c.run(runCtx)
	}()

	timer := time.NewTimer(c.cfg.ConnectionTimeout)
	defer timer.Stop()
	select {
	case <-c.dcConnected:
	case <-ctx.Done():
		c.Stop()
		return ctx.Err()
	case <-timer.C:
		c.Stop()
		return ErrNoDataChannel
	}
	c.sendStatus("start")
	slog.Info("chat: session started", "session_id", c.cfg.SessionID, "activity", c.deps.Activity.Kind())
	return nil
}

// Stop ends the session and blocks until the turn loop has exited and the
// transcript is persisted. Safe to call more than once, and before Start.
func (c *Chatter) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
		return
	}
	c.teardown()
}

// History returns a copy of the conversation so far, system prefix included.
func (c *Chatter) History() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.messages...)
}

// teardown runs exactly once, whether the loop ended on its own or Stop
// intervened.
func (c *Chatter) teardown() {
	c.teardownOnce.Do(func() {
		c.sendStatus("stop")
		c.persistTranscript()
		c.deps.Detector.Stop()
		c.deps.Player.Close()
		slog.Info("chat: session ended", "session_id", c.cfg.SessionID)
	})
}

// run is the session turn loop.
func (c *Chatter) run(ctx context.Context) {
	select {
	case <-c.dcConnected:
	case <-ctx.Done():
		return
	}
	c.sendStatus("hello")

	for i := 0; ; i++ {
		if c.maxLoops != 0 && i >= c.maxLoops {
			slog.Info("chat: loop cap reached", "session_id", c.cfg.SessionID, "loops", i)
			c.sendStatus("maxlen")
			return
		}
		c.sendStatus("loopstart")

		err := c.turn(ctx, i)
		if err == nil {
			continue
		}
		var reset *UserResetError
		switch {
		case errors.As(err, &reset):
			slog.Info("chat: session reset", "session_id", c.cfg.SessionID, "reason", reset.Reason)
			c.metrics.RecordTurn(ctx, "reset")
			c.sendError(reset.Reason)
			c.sendStatus("bye")
			return
		case errors.Is(err, detect.ErrDisconnected), errors.Is(err, respond.ErrDisconnected):
			slog.Info("chat: user hung up", "session_id", c.cfg.SessionID)
			c.metrics.RecordTurn(ctx, "hangup")
			return
		case errors.Is(err, detect.ErrTimeout):
			slog.Warn("chat: audio track stalled", "session_id", c.cfg.SessionID)
			c.metrics.RecordTurn(ctx, "timeout")
			c.sendError("timeout")
			return
		case errors.Is(err, context.Canceled):
			return
		default:
			slog.Error("chat: turn failed", "session_id", c.cfg.SessionID, "err", err)
			c.metrics.RecordTurn(ctx, "error")
			c.sendError("internal")
			return
		}
	}
}

// turn runs one round trip: listen, transcribe, think, speak. A nil return
// means the loop should continue; recoverable detection outcomes are handled
// here and also return nil.
func (c *Chatter) turn(ctx context.Context, loop int) (err error) {
	ctx, span := observe.TurnSpan(ctx, c.cfg.SessionID, loop)
	defer func() { observe.EndSpan(span, err) }()

	c.sendStatus("listening")
	utterance, err := c.deps.Detector.Listen(ctx)
	switch {
	case errors.Is(err, detect.ErrUtteranceTooLong):
		slog.Debug("chat: utterance too long, asking user to retry", "session_id", c.cfg.SessionID)
		c.metrics.RecordTurn(ctx, "utttoolong")
		c.sendError("utttoolong")
		return nil
	case errors.Is(err, detect.ErrStartTimeout):
		c.startRetries++
		if c.startRetries >= c.cfg.StartRetryLimit {
			return &UserResetError{Reason: "usrNotSpeaking"}
		}
		slog.Debug("chat: user quiet, prompting", "session_id", c.cfg.SessionID, "attempt", c.startRetries)
		c.metrics.RecordTurn(ctx, "quiet")
		c.speakStillThere(ctx)
		return nil
	case err != nil:
		return err
	}
	c.startRetries = 0
	c.metrics.UtteranceDuration.Record(ctx, utterance.Duration().Seconds())

	c.sendStatus("transcribing")
	userText, err := c.transcribe(ctx, utterance)
	if err != nil {
		return fmt.Errorf("transcribing: %w", err)
	}
	userText = c.correct(userText)
	userMsg := c.appendMessage(types.RoleUser, userText)
	if err := c.sendTranscript(userMsg); err != nil {
		return err
	}
	if err := c.ensureCharacter(ctx, userText); err != nil {
		return err
	}

	c.sendStatus("thinking")
	reply, err := c.think(ctx)
	if err != nil {
		return fmt.Errorf("thinking: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		slog.Warn("chat: empty assistant response", "session_id", c.cfg.SessionID)
		return &UserResetError{Reason: "empty assistant response"}
	}
	assistantMsg := c.appendMessage(types.RoleAssistant, reply)
	if err := c.sendTranscript(assistantMsg); err != nil {
		return err
	}

	c.sendStatus("speaking")
	if err := c.say(ctx, reply, c.voice); err != nil {
		return fmt.Errorf("speaking: %w", err)
	}
	c.metrics.RecordTurn(ctx, "ok")
	return nil
}

func (c *Chatter) transcribe(ctx context.Context, utterance audio.Frame) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
	defer cancel()
	text, err := c.deps.STT.Transcribe(tctx, utterance, c.language)
	if err != nil {
		return "", err
	}
	observe.Logger(ctx).Debug("chat: transcribed utterance", "session_id", c.cfg.SessionID, "chars", len(text))
	return text, nil
}

// correct repairs likely mishearings against words the assistant recently
// used, the terms a learner is most likely echoing back.
func (c *Chatter) correct(text string) string {
	if c.deps.Corrector == nil {
		return text
	}
	vocabulary := c.assistantVocabulary()
	if len(vocabulary) == 0 {
		return text
	}
	fixed := c.deps.Corrector.Correct(text, vocabulary)
	if fixed != text {
		slog.Debug("chat: corrected transcription", "session_id", c.cfg.SessionID, "text", fixed)
	}
	return fixed
}

// assistantVocabulary collects the distinct words of the most recent
// assistant replies, newest reply first.
func (c *Chatter) assistantVocabulary() []string {
	history := c.History()
	var (
		terms []string
		seen  = make(map[string]struct{})
		turns int
	)
	for i := len(history) - 1; i >= 0 && turns < vocabularyTurns; i-- {
		if history[i].Role != types.RoleAssistant {
			continue
		}
		turns++
		for _, word := range strings.Fields(history[i].Content) {
			word = strings.TrimFunc(word, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsNumber(r)
			})
			if utf8.RuneCountInString(word) < vocabularyMinRunes {
				continue
			}
			key := strings.ToLower(word)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			terms = append(terms, word)
			if len(terms) >= vocabularyMaxTerms {
				return terms
			}
		}
	}
	return terms
}

func (c *Chatter) think(ctx context.Context) (string, error) {
	resp, err := c.deps.LLM.Complete(ctx, llm.CompletionRequest{
		Messages:  c.History(),
		MaxTokens: c.cfg.MaxResponseTokens,
		Stop:      stopTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// say synthesizes text in the given voice, converts it to the session format
// and plays it to completion.
func (c *Chatter) say(ctx context.Context, text string, voice types.Voice) error {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SynthesizeTimeout)
	frame, err := c.deps.TTS.Synthesize(sctx, text, voice)
	cancel()
	if err != nil {
		return fmt.Errorf("synthesizing: %w", err)
	}
	frame, err = c.converter.Convert(frame)
	if err != nil {
		return fmt.Errorf("converting: %w", err)
	}
	return c.deps.Player.SendUtterance(ctx, frame)
}

// ensureCharacter fixes the session language and assistant voice from the
// first user utterance. Later turns are no-ops.
func (c *Chatter) ensureCharacter(ctx context.Context, sample string) error {
	if c.characterSet {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, c.cfg.VoiceSelectTimeout)
	language, err := c.deps.Translate.DetectLanguage(dctx, sample)
	cancel()
	if err != nil {
		return fmt.Errorf("detecting language: %w", err)
	}
	voice, err := c.selectVoice(ctx, language)
	if err != nil {
		return err
	}
	c.language = language
	c.voice = voice
	c.characterSet = true
	slog.Info("chat: character initialized", "session_id", c.cfg.SessionID, "language", language, "voice", voice.Name)
	return nil
}

// selectVoice picks the first catalogue voice matching the configured gender
// and model family.
func (c *Chatter) selectVoice(ctx context.Context, language string) (types.Voice, error) {
	vctx, cancel := context.WithTimeout(ctx, c.cfg.VoiceSelectTimeout)
	defer cancel()
	voices, err := c.deps.TTS.Voices(vctx, language)
	if err != nil {
		return types.Voice{}, fmt.Errorf("listing voices: %w", err)
	}
	for _, v := range voices {
		if v.Gender == c.cfg.VoiceGender && v.Model == c.cfg.VoiceModel {
			return v, nil
		}
	}
	return types.Voice{}, fmt.Errorf("chat: no %s %s voice for language %q", c.cfg.VoiceGender, c.cfg.VoiceModel, language)
}

// speakStillThere plays the activity's re-engagement line. Best effort: a
// failed prompt is logged and the session keeps listening.
func (c *Chatter) speakStillThere(ctx context.Context) {
	voice := c.voice
	if !c.characterSet {
		v, err := c.selectVoice(ctx, c.cfg.FallbackLanguage)
		if err != nil {
			slog.Warn("chat: no voice for re-engagement prompt", "session_id", c.cfg.SessionID, "err", err)
			return
		}
		voice = v
	}
	if err := c.say(ctx, c.deps.Activity.StillThere(), voice); err != nil {
		slog.Warn("chat: re-engagement prompt failed", "session_id", c.cfg.SessionID, "err", err)
	}
}

func (c *Chatter) appendMessage(role types.Role, content string) types.Message {
	msg := types.Message{Role: role, Content: content}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return msg
}

// persistTranscript saves the session history. Sessions with no user turns
// leave no record.
func (c *Chatter) persistTranscript() {
	if c.deps.Store == nil {
		return
	}
	history := c.History()
	spoke := false
	for _, m := range history {
		if m.Role != types.RoleSystem {
			spoke = true
			break
		}
	}
	if !spoke {
		slog.Debug("chat: nothing said, skipping transcript", "session_id", c.cfg.SessionID)
		return
	}
	t := types.Transcript{
		SessionID:    c.cfg.SessionID,
		ActivityKind: string(c.deps.Activity.Kind()),
		UserID:       c.cfg.UserID,
		Language:     c.language,
		Messages:     history,
		CreatedAt:    time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.deps.Store.Save(ctx, t); err != nil {
		slog.Warn("chat: transcript save failed", "session_id", c.cfg.SessionID, "err", err)
		return
	}
	slog.Info("chat: transcript saved", "session_id", c.cfg.SessionID, "messages", len(history))
}

// sendTranscript streams one finished message to the client. System messages
// never leave the server.
func (c *Chatter) sendTranscript(msg types.Message) error {
	if msg.Role == types.RoleSystem {
		return ErrSystemTranscript
	}
	c.send("transcript " + string(msg.Role) + " " + msg.Content)
	return nil
}

func (c *Chatter) sendStatus(token string) {
	c.send("status " + token)
}

func (c *Chatter) sendError(reason string) {
	slog.Error("chat: reporting error to user", "session_id", c.cfg.SessionID, "reason", reason)
	c.send("error " + reason)
}

// send writes one protocol line to the data channel, dropping it when no
// channel is attached yet.
func (c *Chatter) send(msg string) {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		slog.Warn("chat: tried to send before data channel connected, discarding", "session_id", c.cfg.SessionID, "msg", msg)
		return
	}
	slog.Debug("chat: sending", "session_id", c.cfg.SessionID, "msg", msg)
	if err := dc.Send(msg); err != nil {
		slog.Warn("chat: data channel send failed", "session_id", c.cfg.SessionID, "err", err)
		return
	}
	kind, _, _ := strings.Cut(msg, " ")
	c.metrics.RecordDCMessage(context.Background(), kind)
}
