package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type EngineState int

const (
	StateNew EngineState = iota
	StateOfferCreated
	StateGathering
	StateSignallingSent
	StateAwaitingAnswer
	StateConnected
	StateFailed
)

func (s EngineState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferCreated:
		return "offer-created"
	case StateGathering:
		return "ice-gathering"
	case StateSignallingSent:
		return "signalling-sent"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var ErrEngineClosed = errors.New("negotiation engine closed")

// Signaller posts the offer message to the HTTP signalling endpoint and
// returns the streamed response body for progressive reading.
type Signaller interface {
	PostSignalling(ctx context.Context, target SignallingTarget, body []byte) (io.ReadCloser, error)
}

type Config struct {
	STUNServers   []string
	GatherTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		STUNServers:   []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
		GatherTimeout: 3 * time.Second,
	}
}

// RemoteTrack pairs a received track with its receiver.
type RemoteTrack struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// offerMessage is the signalling POST body.
type offerMessage struct {
	SDP        string                    `json:"sdp"`
	Content    string                    `json:"content"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

// Engine drives one receive-only negotiation against a mixed conference
// stream. One engine per subscription attempt; it never retries — a failed
// negotiation is terminal and the caller starts a fresh engine.
type Engine struct {
	pc        *webrtc.PeerConnection
	signaller Signaller
	cfg       Config

	mu         sync.Mutex
	state      EngineState
	closed     bool
	remoteSet  bool
	pending    []RemoteTrack
	candidates []webrtc.ICECandidateInit

	onStream       func(RemoteTrack)
	onFailed       func(error)
	onDisconnected func()
}

func NewEngine(cfg Config, signaller Signaller) (*Engine, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, u := range cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	e := &Engine{pc: pc, signaller: signaller, cfg: cfg, state: StateNew}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("track received")
		e.acceptTrack(RemoteTrack{Track: track, Receiver: receiver})
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			e.setState(StateConnected)
		case webrtc.ICEConnectionStateFailed:
			e.setState(StateFailed)
			e.mu.Lock()
			fn := e.onFailed
			e.mu.Unlock()
			if fn != nil {
				fn(errors.New("ICE connection failed"))
			}
		case webrtc.ICEConnectionStateDisconnected:
			// Non-fatal; no renegotiation here. The caller decides whether
			// to start over.
			log.Warn().Str("module", "rtc").Msg("ICE connection disconnected")
			e.mu.Lock()
			fn := e.onDisconnected
			e.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		e.mu.Lock()
		e.candidates = append(e.candidates, cand.ToJSON())
		e.mu.Unlock()
	})

	return e, nil
}

// OnStream sets the playback sink. Tracks arriving before the remote
// description is applied are buffered and flushed to the sink afterwards.
func (e *Engine) OnStream(fn func(RemoteTrack)) {
	e.mu.Lock()
	e.onStream = fn
	e.mu.Unlock()
}

func (e *Engine) OnFailed(fn func(error)) {
	e.mu.Lock()
	e.onFailed = fn
	e.mu.Unlock()
}

func (e *Engine) OnDisconnected(fn func()) {
	e.mu.Lock()
	e.onDisconnected = fn
	e.mu.Unlock()
}

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Negotiate runs the full offer/gather/signal/answer exchange for streamURL.
// It returns once the answer and all streamed candidates are applied; the
// media path then comes up asynchronously and is reported via the state
// callbacks.
func (e *Engine) Negotiate(ctx context.Context, streamURL string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.mu.Unlock()

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("create offer: %w", err)
	}
	e.setState(StateOfferCreated)

	gatherComplete := webrtc.GatheringCompletePromise(e.pc)
	if err := e.pc.SetLocalDescription(offer); err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("set local description: %w", err)
	}
	e.setState(StateGathering)

	// Bounded gather: whatever arrived by the timeout is what we send.
	select {
	case <-gatherComplete:
	case <-time.After(e.cfg.GatherTimeout):
		log.Info().Str("module", "rtc").Dur("timeout", e.cfg.GatherTimeout).Msg("ICE gathering timeout, proceeding")
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	gathered := make([]webrtc.ICECandidateInit, len(e.candidates))
	copy(gathered, e.candidates)
	e.mu.Unlock()
	filtered := FilterHostCandidates(gathered)
	log.Info().Str("module", "rtc").Int("gathered", len(gathered)).Int("sent", len(filtered)).Msg("ICE candidates collected")

	target := TransformStreamURL(streamURL)
	body, err := json.Marshal(offerMessage{
		SDP:        e.pc.LocalDescription().SDP,
		Content:    "PRIMARY",
		Candidates: filtered,
	})
	if err != nil {
		return err
	}

	e.setState(StateSignallingSent)
	rc, err := e.signaller.PostSignalling(ctx, target, body)
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("signalling post: %w", err)
	}
	defer rc.Close()
	e.setState(StateAwaitingAnswer)

	return ReadAnswerStream(rc, e.applyAnswer, e.applyCandidate)
}

// applyAnswer sets the remote description exactly once and flushes any
// buffered tracks to the sink.
func (e *Engine) applyAnswer(sdp string) error {
	e.mu.Lock()
	if e.remoteSet {
		e.mu.Unlock()
		log.Warn().Str("module", "rtc").Msg("duplicate SDP answer ignored")
		return nil
	}
	e.mu.Unlock()

	err := e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("set remote description: %w", err)
	}

	e.mu.Lock()
	e.remoteSet = true
	pending := e.pending
	e.pending = nil
	sink := e.onStream
	e.mu.Unlock()

	log.Info().Str("module", "rtc").Int("pending", len(pending)).Msg("remote description set")
	if sink != nil {
		for _, t := range pending {
			sink(t)
		}
	}
	return nil
}

func (e *Engine) applyCandidate(ci webrtc.ICECandidateInit) {
	if err := e.pc.AddICECandidate(ci); err != nil {
		// Individual candidate failures never abort the stream read.
		log.Warn().Err(err).Str("module", "rtc").Msg("add ICE candidate failed")
	}
}

// acceptTrack delivers a track to the sink, or buffers it while the remote
// description is still pending.
func (e *Engine) acceptTrack(t RemoteTrack) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if !e.remoteSet {
		e.pending = append(e.pending, t)
		e.mu.Unlock()
		log.Info().Str("module", "rtc").Msg("track before remote description, buffered")
		return
	}
	sink := e.onStream
	e.mu.Unlock()
	if sink != nil {
		sink(t)
	}
}

// Close releases the peer connection and abandons buffered tracks. Safe to
// call repeatedly and at any point of the negotiation.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.pending = nil
	e.mu.Unlock()

	if err := e.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("peer connection close")
	} else {
		log.Info().Str("module", "rtc").Msg("engine closed")
	}
}

// answerChunk is one streamed signalling response object; either field may
// be present.
type answerChunk struct {
	SDP       string                   `json:"sdp"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

// ReadAnswerStream consumes a newline-delimited JSON signalling response:
// the answer SDP and trickled candidates arrive progressively, not as one
// body. Unparsable lines are logged and skipped.
func ReadAnswerStream(r io.Reader, onSDP func(string) error, onCandidate func(webrtc.ICECandidateInit)) error {
	dec := json.NewDecoder(r)
	for {
		var chunk answerChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read signalling stream: %w", err)
		}
		if chunk.SDP != "" {
			if err := onSDP(chunk.SDP); err != nil {
				return err
			}
		}
		if chunk.Candidate != nil {
			onCandidate(*chunk.Candidate)
		}
	}
}
