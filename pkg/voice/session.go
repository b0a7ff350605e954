// Package voice implements the client-side core of a realtime voice session:
// credential minting, connection supervision with reconnect backoff,
// transcript assembly from streaming events, and tool-call bridging to the
// gateway's HTTP tool routes.
package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/rtc"
	"github.com/vocalis-ai/vocalis/pkg/voice/protocol"
)

const (
	defaultBackoffBase   = time.Second
	defaultBackoffCap    = 30 * time.Second
	defaultMaxAttempts   = 8
	defaultFlushDebounce = 2 * time.Second
	defaultRefreshFloor  = 5 * time.Second
	defaultActivityLimit = 50

	negotiateTimeout = 20 * time.Second
	flushTimeout     = 10 * time.Second
)

// Config configures a voice session.
type Config struct {
	// TokenURL mints ephemeral connection credentials.
	TokenURL string
	// SignalingURL exchanges the local offer for a remote answer.
	SignalingURL string
	// PersistURL receives finalized transcript snapshots. Empty disables
	// persistence.
	PersistURL string
	// ToolBaseURL is the gateway base for tool routes. Empty disables tools.
	ToolBaseURL string

	// Caller is the optional caller identity forwarded when minting.
	Caller CallerIdentity

	// AudioSource and AudioSink wire local capture and remote playback into
	// the default transport. Ignored when Dialer is set.
	AudioSource io.Reader
	AudioSink   io.Writer

	// Dialer creates one transport per connection attempt. Defaults to the
	// production rtc transport.
	Dialer rtc.Dialer

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Reconnect backoff tuning.
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts uint64

	// FlushDebounce is the quiet period before a transcript flush.
	FlushDebounce time.Duration

	// RefreshFloor is the minimum lead time before a proactive credential
	// refresh. Keeps a credential minted already near expiry from triggering
	// an immediate teardown/redial cycle.
	RefreshFloor time.Duration

	// OnStateChange observes every connection state transition. Called from
	// the session loop; must not block.
	OnStateChange func(ConnState)
	// OnWarning observes non-fatal conditions such as a credential refresh.
	// Called from the session loop; must not block.
	OnWarning func(string)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.TokenURL) == "" {
		return fmt.Errorf("token URL is required")
	}
	if strings.TrimSpace(c.SignalingURL) == "" {
		return fmt.Errorf("signaling URL is required")
	}
	if c.BackoffBase < 0 || c.BackoffCap < 0 || c.FlushDebounce < 0 || c.RefreshFloor < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.BackoffBase == 0 {
		out.BackoffBase = defaultBackoffBase
	}
	if out.BackoffCap == 0 {
		out.BackoffCap = defaultBackoffCap
	}
	if out.MaxReconnectAttempts == 0 {
		out.MaxReconnectAttempts = defaultMaxAttempts
	}
	if out.FlushDebounce == 0 {
		out.FlushDebounce = defaultFlushDebounce
	}
	if out.RefreshFloor == 0 {
		out.RefreshFloor = defaultRefreshFloor
	}
	if out.Dialer == nil {
		src, sink := out.AudioSource, out.AudioSink
		out.Dialer = rtc.DialerFunc(func(ctx context.Context) (rtc.Transport, error) {
			return rtc.NewConn(rtc.Options{Source: src, Sink: sink}), nil
		})
	}
	return out
}

type toolResult struct {
	epoch      int
	callID     string
	activityID string
	tool       string
	output     string
}

// Session supervises one voice conversation. All session state is owned by a
// single dispatch goroutine; the exported methods communicate with it over a
// command channel, so they are safe for concurrent use.
type Session struct {
	cfg    Config
	id     string
	logger *slog.Logger

	broker  *Broker
	bridge  *Bridge
	flusher *Flusher

	cmds        chan func()
	toolResults chan toolResult
	loopCtx     context.Context
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	closeOnce   sync.Once

	// Everything below is touched only by the dispatch loop.
	state       ConnState
	epoch       int
	attempt     int
	intentional bool
	transport   rtc.Transport
	events      <-chan []byte
	transStates <-chan rtc.State
	transcript  *Transcript
	activities  *ActivityFeed
	router      *Router
	backoff     retry.Backoff

	reconnectTimer *time.Timer
	reconnectC     <-chan time.Time
	refreshTimer   *time.Timer
	refreshC       <-chan time.Time
	flushTimer     *time.Timer
	flushC         <-chan time.Time
}

// NewSession creates a session and starts its dispatch loop. The session is
// idle until Connect is called.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		id:     uuid.NewString(),
		logger: cfg.Logger,

		broker:  NewBroker(cfg.TokenURL, cfg.HTTPClient, cfg.Caller),
		bridge:  NewBridge(cfg.ToolBaseURL, cfg.HTTPClient, cfg.Logger),
		flusher: NewFlusher(cfg.PersistURL, cfg.HTTPClient),

		cmds:        make(chan func(), 16),
		toolResults: make(chan toolResult, 16),
		loopCtx:     ctx,
		loopCancel:  cancel,
		loopDone:    make(chan struct{}),

		state:      Disconnected(),
		transcript: NewTranscript(),
		activities: NewActivityFeed(defaultActivityLimit),
	}
	s.router = &Router{
		Transcript: s.transcript,
		Logger:     s.logger,
		OnToolCall: s.dispatchTool,
	}
	go s.loop()
	return s, nil
}

// ID returns the session identifier used for transcript persistence.
func (s *Session) ID() string { return s.id }

// Connect starts the connection. Legal only from the disconnected and error
// states; the connection proceeds asynchronously and progress is reported
// through OnStateChange.
func (s *Session) Connect() error {
	var err error
	s.run(func() {
		if !s.state.CanConnect() {
			err = fmt.Errorf("connect is not legal while %s", s.state)
			return
		}
		s.intentional = false
		s.attempt = 0
		s.backoff = s.newBackoff()
		s.setState(Connecting())
		s.armReconnect(0)
	})
	return err
}

// Disconnect tears the connection down intentionally. Cancels any pending
// reconnect and flushes the transcript. Safe to call in any state.
func (s *Session) Disconnect() {
	s.run(func() { s.disconnect() })
}

// Close disconnects and stops the dispatch loop. The session is unusable
// afterwards. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.run(func() { s.disconnect() })
		s.loopCancel()
		<-s.loopDone
	})
	return nil
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	var st ConnState
	s.run(func() { st = s.state })
	return st
}

// Messages returns a snapshot of the transcript.
func (s *Session) Messages() []TranscriptMessage {
	var out []TranscriptMessage
	s.run(func() { out = s.transcript.Messages() })
	return out
}

// Activities returns a snapshot of the activity feed.
func (s *Session) Activities() []Activity {
	var out []Activity
	s.run(func() { out = s.activities.Entries() })
	return out
}

// DroppedEvents returns the count of inbound payloads discarded as
// unrecognized or malformed.
func (s *Session) DroppedEvents() int {
	var n int
	s.run(func() { n = s.router.Dropped() })
	return n
}

// run executes fn on the dispatch loop and waits for it. Once the loop has
// exited nothing else mutates session state, so fn runs directly.
func (s *Session) run(fn func()) {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
		select {
		case <-done:
		case <-s.loopDone:
			fn()
		}
	case <-s.loopDone:
		fn()
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case res := <-s.toolResults:
			s.handleToolResult(res)
		case data, ok := <-s.events:
			if !ok {
				s.events = nil
				s.handleDrop(core.NewTransportError("event channel closed", nil))
				continue
			}
			if s.router.Route(s.epoch, data) {
				s.armFlush()
			}
		case st := <-s.transStates:
			if st.Terminal() {
				s.handleDrop(core.NewTransportError(fmt.Sprintf("transport reported %s", st), nil))
			}
		case <-s.reconnectC:
			s.reconnectC = nil
			s.attemptConnect()
		case <-s.refreshC:
			s.refreshC = nil
			s.refreshCredential()
		case <-s.flushC:
			s.flushC = nil
			s.flushNow()
		case <-s.loopCtx.Done():
			s.teardownTransport()
			s.cancelTimers()
			return
		}
	}
}

// --- connection lifecycle (loop-owned) ---

func (s *Session) attemptConnect() {
	if s.intentional || !s.state.Live() {
		return
	}
	if err := s.connectOnce(); err != nil {
		s.logger.Warn("connection attempt failed", "session", s.id, "attempt", s.attempt, "error", err)
		s.scheduleReconnect(err)
		return
	}
	s.attempt = 0
	s.backoff = s.newBackoff()
	s.setState(Connected())
	s.logger.Info("session connected", "session", s.id, "epoch", s.epoch)
}

// connectOnce mints a credential, negotiates offer/answer, and opens the
// transport. On success the new connection epoch is live.
func (s *Session) connectOnce() error {
	ctx, cancel := context.WithTimeout(s.loopCtx, negotiateTimeout)
	defer cancel()

	cred, err := s.broker.Mint(ctx)
	if err != nil {
		return err
	}

	t, err := s.cfg.Dialer.Dial(ctx)
	if err != nil {
		return core.NewNegotiationError(fmt.Sprintf("create transport: %v", err))
	}
	offer, err := t.Offer(ctx)
	if err != nil {
		_ = t.Close()
		return core.NewNegotiationError(fmt.Sprintf("build offer: %v", err))
	}
	answer, err := s.negotiate(ctx, offer, cred.Value)
	if err != nil {
		_ = t.Close()
		return err
	}
	if err := t.Accept(ctx, answer, cred.Value); err != nil {
		_ = t.Close()
		return core.NewNegotiationError(fmt.Sprintf("accept answer: %v", err))
	}

	s.transport = t
	s.events = t.Events()
	s.transStates = t.States()
	s.epoch++

	if d, ok := TimeUntilRefresh(cred.ExpiresAt, time.Now()); ok {
		if d < s.cfg.RefreshFloor {
			d = s.cfg.RefreshFloor
		}
		s.armRefresh(d)
	}
	return nil
}

// negotiate posts the local offer to the signaling collaborator and returns
// the remote answer description.
func (s *Session) negotiate(ctx context.Context, offer, credential string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SignalingURL, strings.NewReader(offer))
	if err != nil {
		return "", core.NewNegotiationError(fmt.Sprintf("build signaling request: %v", err))
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", core.NewNegotiationError(fmt.Sprintf("signaling endpoint unreachable: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.NewNegotiationError(fmt.Sprintf("read answer: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", core.NewNegotiationError(fmt.Sprintf("signaling returned status %d", resp.StatusCode))
	}
	answer := strings.TrimSpace(string(body))
	if answer == "" {
		return "", core.NewNegotiationError("signaling returned an empty answer")
	}
	return answer, nil
}

func (s *Session) handleDrop(cause error) {
	if s.transport == nil || s.intentional {
		return
	}
	s.logger.Warn("connection dropped", "session", s.id, "epoch", s.epoch, "error", cause)
	s.teardownTransport()
	s.flushNow()
	s.backoff = s.newBackoff()
	s.scheduleReconnect(cause)
}

func (s *Session) scheduleReconnect(cause error) {
	if s.backoff == nil {
		s.backoff = s.newBackoff()
	}
	delay, stop := s.backoff.Next()
	if stop {
		s.teardownTransport()
		s.cancelReconnect()
		s.setState(Errored(fmt.Sprintf("gave up after %d attempts: %v", s.attempt, cause)))
		return
	}
	s.attempt++
	s.setState(Reconnecting(s.attempt))
	s.armReconnect(delay)
}

// refreshCredential proactively replaces a connection whose credential is
// about to expire. The old transport is torn down and a fresh connection is
// attempted immediately; failures fall into the normal reconnect path.
func (s *Session) refreshCredential() {
	if s.transport == nil || s.intentional {
		return
	}
	s.warn("connection credential is expiring; reconnecting with a fresh one")
	s.teardownTransport()
	s.flushNow()
	s.backoff = s.newBackoff()
	s.attemptConnect()
}

func (s *Session) disconnect() {
	s.intentional = true
	s.cancelTimers()
	s.teardownTransport()
	s.flushNow()
	s.attempt = 0
	if s.state.Phase != PhaseDisconnected {
		s.setState(Disconnected())
	}
}

// teardownTransport closes the transport and detaches its channels. Safe to
// call when no transport is open.
func (s *Session) teardownTransport() {
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	s.events = nil
	s.transStates = nil
	s.cancelRefresh()
}

func (s *Session) setState(st ConnState) {
	if s.state == st {
		return
	}
	s.state = st
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

func (s *Session) warn(msg string) {
	s.logger.Warn(msg, "session", s.id)
	if s.cfg.OnWarning != nil {
		s.cfg.OnWarning(msg)
	}
}

func (s *Session) newBackoff() retry.Backoff {
	return retry.WithMaxRetries(s.cfg.MaxReconnectAttempts,
		retry.WithCappedDuration(s.cfg.BackoffCap,
			retry.NewExponential(s.cfg.BackoffBase)))
}

// --- timers (loop-owned) ---

func (s *Session) armReconnect(d time.Duration) {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.NewTimer(d)
	s.reconnectC = s.reconnectTimer.C
}

func (s *Session) cancelReconnect() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectC = nil
}

func (s *Session) armRefresh(d time.Duration) {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = time.NewTimer(d)
	s.refreshC = s.refreshTimer.C
}

func (s *Session) cancelRefresh() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.refreshC = nil
}

func (s *Session) armFlush() {
	if s.flushC != nil || !s.flusher.Configured() {
		return
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.NewTimer(s.cfg.FlushDebounce)
	s.flushC = s.flushTimer.C
}

func (s *Session) cancelTimers() {
	s.cancelReconnect()
	s.cancelRefresh()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.flushC = nil
}

// flushNow snapshots the finalized transcript and persists it in the
// background. Failures are logged and never affect the conversation.
func (s *Session) flushNow() {
	if !s.flusher.Configured() {
		return
	}
	msgs := s.transcript.Finalized()
	if len(msgs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := s.flusher.Flush(ctx, s.id, msgs); err != nil {
			s.logger.Warn("transcript flush failed", "session", s.id, "error", err)
		}
	}()
}

// --- tool calls (loop-owned dispatch, background execution) ---

// dispatchTool starts one tool call. The HTTP round trip runs off the loop;
// the result is posted back tagged with the epoch it was started under.
func (s *Session) dispatchTool(call protocol.FunctionCall) {
	id := s.activities.Begin(call.Name, ToolLabel(call.Name))
	epoch := s.epoch
	go func() {
		out := s.bridge.Execute(s.loopCtx, call)
		select {
		case s.toolResults <- toolResult{
			epoch:      epoch,
			callID:     call.CallID,
			activityID: id,
			tool:       call.Name,
			output:     out,
		}:
		case <-s.loopCtx.Done():
		}
	}()
}

// handleToolResult submits one finished tool call back to the remote model.
// A result from a previous connection epoch is stale: the reconnected remote
// side has no record of the call, so the result is dropped.
func (s *Session) handleToolResult(res toolResult) {
	if res.epoch != s.epoch || s.transport == nil {
		s.activities.Finish(res.activityID, ActivityError, "connection was replaced before the result arrived")
		s.logger.Debug("dropped stale tool result", "session", s.id, "tool", res.tool, "epoch", res.epoch)
		return
	}
	if err := s.transport.Send(protocol.NewFunctionCallOutput(res.callID, res.output)); err != nil {
		s.activities.Finish(res.activityID, ActivityError, fmt.Sprintf("submit failed: %v", err))
		s.logger.Warn("tool result submit failed", "session", s.id, "tool", res.tool, "error", err)
		return
	}
	if err := s.transport.Send(protocol.NewResponseCreate()); err != nil {
		s.logger.Warn("response continuation failed", "session", s.id, "error", err)
	}
	s.activities.Finish(res.activityID, ActivityDone, res.output)
}
