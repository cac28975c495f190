// Package speechengine implements the SpeechEngine: the
// per-session state machine, the bounded request-queue with streaming
// semantics, and the response-operation controller that linearizes
// results against cancellation and errors. It owns reqqueue.Queue,
// respqueue.Queue and opctl.Controller, and runs a sender task and a
// receiver task against a transport.Transport.
package speechengine

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rokid/voiceclient/internal/errorreporter"
	"github.com/rokid/voiceclient/internal/opctl"
	"github.com/rokid/voiceclient/internal/options"
	"github.com/rokid/voiceclient/internal/reqqueue"
	"github.com/rokid/voiceclient/internal/respqueue"
	"github.com/rokid/voiceclient/internal/speechproto"
	"github.com/rokid/voiceclient/internal/telemetry"
	"github.com/rokid/voiceclient/internal/transport"
)

// DefaultSendTimeout bounds a single transport.Send call.
const DefaultSendTimeout = 10 * time.Second

// NewTransportFunc builds a fresh Transport, called once per prepare().
// A factory, rather than a shared instance, keeps prepare/release
// idempotent and re-preparable.
type NewTransportFunc func() (transport.Transport, error)

// Engine implements the engine's public operations. All methods are
// safe for concurrent use; all are no-ops (returning the documented
// sentinel) when the engine is not prepared.
type Engine struct {
	newTransport NewTransportFunc
	log          *slog.Logger
	reporter     *errorreporter.Reporter
	metrics      *telemetry.Metrics
	sendTimeout  time.Duration

	reqMu       sync.Mutex
	reqCond     *sync.Cond
	reqQueue    *reqqueue.Queue
	textReqs    []speechproto.SessionRequest
	initialized bool
	nextID      int64

	respMu          sync.Mutex
	respCond        *sync.Cond
	respQueue       *respqueue.Queue
	ctl             *opctl.Controller
	released        bool
	immediateCancels []int64

	transport transport.Transport

	group *errgroup.Group

	cfg map[string]string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithSendTimeout overrides DefaultSendTimeout.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) { e.sendTimeout = d }
}

// WithErrorReporter wires an optional Sentry-backed error reporter.
func WithErrorReporter(r *errorreporter.Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithMetrics wires an optional OpenTelemetry metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine. newTransport is called once per prepare().
func New(newTransport NewTransportFunc, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		newTransport: newTransport,
		log:          logger.With("component", "speechengine"),
		sendTimeout:  DefaultSendTimeout,
		reqQueue:     reqqueue.New(),
		respQueue:    respqueue.New(),
		ctl:          opctl.New(),
		cfg:          make(map[string]string),
		released:     true, // Poll returns false until the first Prepare
	}
	e.reqCond = sync.NewCond(&e.reqMu)
	e.respCond = sync.NewCond(&e.respMu)
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoop()
	}
	return e
}

// Config sets a configuration entry. Not required to be
// atomic with ongoing sessions.
func (e *Engine) Config(key, value string) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	e.cfg[key] = value
}

// Prepare is idempotent: it allocates the id counter, starts the sender
// and receiver tasks, and opens the transport. Returns true on success
// or if already prepared.
func (e *Engine) Prepare() bool {
	e.reqMu.Lock()
	if e.initialized {
		e.reqMu.Unlock()
		return true
	}

	tr, err := e.newTransport()
	if err != nil {
		e.log.Error("prepare: transport open failed", "error", err)
		e.reqMu.Unlock()
		if e.reporter != nil {
			e.reporter.Capture(err)
		}
		return false
	}

	e.transport = tr
	e.nextID = 1
	e.reqQueue = reqqueue.New() // a previous Release closed the old one
	e.initialized = true

	e.respMu.Lock()
	e.released = false
	e.respMu.Unlock()

	group := &errgroup.Group{}
	e.group = group
	e.group.Go(func() error {
		e.senderLoop()
		return nil
	})
	e.group.Go(func() error {
		e.receiverLoop()
		return nil
	})
	e.reqMu.Unlock()

	e.metrics.EnginePrepared()
	e.log.Info("engine prepared")
	return true
}

// Release is idempotent. It clears initialized, closes the transport,
// closes both queues, transitions any current op to CANCELLED, and
// joins both internal tasks. Safe to call from a thread distinct from
// the internal tasks; must not deadlock if called concurrently with a
// blocked Poll.
func (e *Engine) Release() {
	e.reqMu.Lock()
	if !e.initialized {
		e.reqMu.Unlock()
		return
	}
	e.initialized = false
	e.reqQueue.Close()
	e.textReqs = nil
	e.reqCond.Broadcast()
	tr := e.transport
	group := e.group
	e.reqMu.Unlock()

	e.respMu.Lock()
	e.released = true
	e.ctl.CancelOp(0, e.respCond)
	e.respCond.Broadcast()
	e.respMu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			e.log.Warn("release: transport close error", "error", err)
		}
	}
	if group != nil {
		_ = group.Wait()
	}

	e.metrics.EngineReleased()
	e.log.Info("engine released")
}

// nextSessionID allocates the next positive session id. Must be called
// with reqMu held.
func (e *Engine) nextSessionID() int64 {
	id := e.nextID
	e.nextID++
	return id
}

// PutText allocates the next id and enqueues a single TEXT request.
// Returns -1 if the engine is not prepared.
func (e *Engine) PutText(text string, opts *options.Bag) int64 {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if !e.initialized {
		return -1
	}
	id := e.nextSessionID()
	e.textReqs = append(e.textReqs, speechproto.SessionRequest{
		ID:      id,
		Kind:    speechproto.RequestText,
		Payload: []byte(text),
		Options: opts,
	})
	e.reqCond.Broadcast()
	e.metrics.SessionStarted()
	return id
}

// voiceStartArg bundles the two independent option bags a voice session
// carries: frameworkOpts is interpreted by the server, skillOpts is
// opaque and only forwarded. Stored as the reqqueue arg for a START
// entry, since reqqueue.Queue only carries one arg slot per id.
type voiceStartArg struct {
	framework *options.Bag
	skill     *options.Bag
}

// StartVoice allocates the next id, admits it into the request queue
// with frameworkOpts/skillOpts as its arg, and signals the sender.
// Returns -1 if the engine is not prepared.
func (e *Engine) StartVoice(frameworkOpts, skillOpts *options.Bag) int64 {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if !e.initialized {
		return -1
	}
	id := e.nextSessionID()
	e.reqQueue.Start(id, voiceStartArg{framework: frameworkOpts, skill: skillOpts})
	e.reqCond.Broadcast()
	e.metrics.SessionStarted()
	return id
}

// PutVoice appends a DATA entry for id. No-op if id <= 0, bytes is
// empty, or id is not admitted / already ended.
func (e *Engine) PutVoice(id int64, data []byte) {
	if id <= 0 || len(data) == 0 {
		return
	}
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if !e.initialized {
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	if e.reqQueue.Stream(id, owned) {
		e.reqCond.Broadcast()
	}
}

// EndVoice appends an END entry for id. No-op on an unknown id.
func (e *Engine) EndVoice(id int64) {
	if id <= 0 {
		return
	}
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if !e.initialized {
		return
	}
	if e.reqQueue.End(id) {
		e.reqCond.Broadcast()
	}
}

// Cancel implements cancel(id). id > 0 cancels one
// session; id <= 0 clears the entire request queue and cancels whatever
// op is currently active.
func (e *Engine) Cancel(id int64) {
	if id <= 0 {
		e.cancelAll()
		return
	}

	e.reqMu.Lock()
	if !e.initialized {
		e.reqMu.Unlock()
		return
	}
	if e.reqQueue.Cancel(id) || e.markTextRequestCancelled(id) {
		e.reqCond.Broadcast()
	}
	e.reqMu.Unlock()

	// Transition the op to CANCELLED synchronously here, not only once
	// the sender later drains a queued CANCEL marker: an in-flight
	// session's marker can sit behind pending DATA/END entries, and a
	// server finish response processed in the meantime must not be able
	// to race it into an END. CancelOp is a no-op when id is not the
	// current op, so this is harmless for a session that never reached
	// the controller.
	e.respMu.Lock()
	e.ctl.CancelOp(id, e.respCond)
	e.respMu.Unlock()
	e.metrics.SessionCancelled()
}

func (e *Engine) cancelAll() {
	e.reqMu.Lock()
	if !e.initialized {
		e.reqMu.Unlock()
		return
	}
	e.reqQueue.Clear()
	e.textReqs = nil
	e.reqCond.Broadcast()
	e.reqMu.Unlock()

	e.respMu.Lock()
	e.ctl.CancelOp(0, e.respCond)
	e.respMu.Unlock()
	e.metrics.SessionCancelled()
}

// markTextRequestCancelled finds a still-queued TEXT request with id and
// replaces it in place with a CANCELLED marker for the same id, so the
// sender's normal doCtlChangeOp pipeline handles emitting the CANCELLED
// poll result. Must be called with reqMu held.
func (e *Engine) markTextRequestCancelled(id int64) bool {
	for i, req := range e.textReqs {
		if req.ID == id {
			e.textReqs[i] = speechproto.SessionRequest{ID: id, Kind: speechproto.RequestCancelled}
			return true
		}
	}
	return false
}

// Poll blocks until a result is available for the current op, the
// current op has transitioned to CANCELLED/ERROR, or the engine is
// released. Returns false iff released and nothing remains.
func (e *Engine) Poll() (PollResult, bool) {
	e.respMu.Lock()
	defer e.respMu.Unlock()
	for {
		if res, ok := e.pollOnceLocked(); ok {
			return res, true
		}
		if e.released {
			return PollResult{}, false
		}
		e.respCond.Wait()
	}
}

func (e *Engine) pollOnceLocked() (PollResult, bool) {
	if len(e.immediateCancels) > 0 {
		id := e.immediateCancels[0]
		e.immediateCancels = e.immediateCancels[1:]
		e.metrics.PollEmitted("CANCELLED")
		return PollResult{ID: id, Type: ResultCancelled}, true
	}

	op, exists := e.ctl.CurrentOp()
	if !exists {
		return PollResult{}, false
	}

	switch op.Status {
	case opctl.StatusCancelled:
		e.respQueue.Erase(op.ID, 1)
		e.ctl.RemoveFrontOp()
		e.respCond.Broadcast()
		e.metrics.PollEmitted("CANCELLED")
		return PollResult{ID: op.ID, Type: ResultCancelled}, true
	case opctl.StatusError:
		e.ctl.RemoveFrontOp()
		e.respCond.Broadcast()
		e.metrics.PollEmitted("ERROR")
		if e.reporter != nil {
			e.reporter.CaptureOperationError(op.ID, op.ErrorKind)
		}
		return PollResult{ID: op.ID, Type: ResultError, Err: op.ErrorKind}, true
	default:
		id, body, code := e.respQueue.Pop()
		if code == respqueue.PopEmpty {
			return PollResult{}, false
		}
		res := PollResult{ID: id}
		if b, ok := body.(speechproto.ResponseBody); ok {
			res.ASR, res.NLP, res.Action, res.Extra = b.ASR, b.NLP, b.Action, b.Extra
		}
		switch code {
		case respqueue.PopStart:
			res.Type = ResultStart
		case respqueue.PopStream:
			res.Type = ResultInter
		case respqueue.PopEnd:
			res.Type = ResultEnd
		}
		if res.Type.IsTerminal() {
			e.ctl.RemoveFrontOp()
			e.respCond.Broadcast()
		}
		e.metrics.PollEmitted(res.Type.String())
		return res, true
	}
}

func (t ResultType) String() string {
	switch t {
	case ResultInter:
		return "INTER"
	case ResultStart:
		return "START"
	case ResultEnd:
		return "END"
	case ResultCancelled:
		return "CANCELLED"
	case ResultError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// pollRecvInterval bounds how long the receiver task blocks in a single
// Recv call while no operation deadline is in force, so it still wakes
// periodically to notice Release.
const pollRecvInterval = 200 * time.Millisecond

// senderLoop is the sole writer of outbound protocol messages. It owns
// the sequence dequeue -> doCtlChangeOp -> doRequest, with exactly one
// operation tracked by the controller at a time: a new session's
// START/TEXT entry is only admitted once the previous one has vacated
// the slot.
func (e *Engine) senderLoop() {
	for {
		id, kind, payload, opts, skillOpts, ok, drained := e.dequeueNextLocked()
		if drained {
			return
		}
		if !ok {
			continue
		}
		e.sendOne(id, kind, payload, opts, skillOpts)
	}
}

func (e *Engine) dequeueNextLocked() (id int64, kind speechproto.RequestKind, payload []byte, opts, skillOpts *options.Bag, ok, drained bool) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()

	for {
		if !e.initialized {
			return 0, 0, nil, nil, nil, false, true
		}
		if len(e.textReqs) > 0 {
			req := e.textReqs[0]
			e.textReqs = e.textReqs[1:]
			return req.ID, req.Kind, req.Payload, req.Options, nil, true, false
		}

		pid, ppayload, code := e.reqQueue.Pop()
		switch code {
		case reqqueue.PopDrained:
			return 0, 0, nil, nil, nil, false, true
		case reqqueue.PopEmpty:
			e.reqCond.Wait()
			continue
		default:
			k := popCodeToRequestKind(code)
			var arg, argSkill *options.Bag
			if code == reqqueue.PopStart {
				if v, found := e.reqQueue.Arg(pid); found {
					if a, ok := v.(voiceStartArg); ok {
						arg, argSkill = a.framework, a.skill
					}
				}
			}
			return pid, k, ppayload, arg, argSkill, true, false
		}
	}
}

func popCodeToRequestKind(code reqqueue.PopCode) speechproto.RequestKind {
	switch code {
	case reqqueue.PopStart:
		return speechproto.RequestVoiceStart
	case reqqueue.PopEnd:
		return speechproto.RequestVoiceEnd
	case reqqueue.PopCancelled:
		return speechproto.RequestCancelled
	default:
		return speechproto.RequestVoiceData
	}
}

// ctlDecision is what doCtlChangeOp decided for one dequeued request.
type ctlDecision struct {
	send bool
}

// doCtlChangeOp implements the table mapping (controller state, request
// kind) to an action. The controller holds at most one operation, so
// "exists" below means "this id is the operation currently occupying
// the slot" rather than "this id has ever been seen."
func (e *Engine) doCtlChangeOp(id int64, kind speechproto.RequestKind) ctlDecision {
	e.respMu.Lock()
	defer e.respMu.Unlock()

	cur, exists := e.ctl.CurrentOp()
	sameID := exists && cur.ID == id

	switch kind {
	case speechproto.RequestText, speechproto.RequestVoiceStart:
		// The single-slot controller guarantees no pipelining: a new
		// session only starts once the previous one's terminal result has
		// been removed from the slot by poll(). RemoveFrontOp's caller broadcasts
		// respCond, so this wakes as soon as that happens.
		for exists {
			if e.released {
				return ctlDecision{send: false}
			}
			e.respCond.Wait()
			cur, exists = e.ctl.CurrentOp()
		}
		e.ctl.NewOp(id, opctl.StatusStart)
		return ctlDecision{send: true}

	case speechproto.RequestVoiceData, speechproto.RequestVoiceEnd:
		if !sameID {
			return ctlDecision{send: false}
		}
		return ctlDecision{send: true}

	case speechproto.RequestCancelled:
		if sameID {
			e.ctl.CancelOp(id, e.respCond)
			e.respQueue.Erase(id, 1)
			return ctlDecision{send: true}
		}
		// The session never reached the controller, so there is nothing
		// for poll() to find via the usual op-status path; surface the
		// cancellation directly.
		e.immediateCancels = append(e.immediateCancels, id)
		e.respCond.Broadcast()
		return ctlDecision{send: false}

	default:
		return ctlDecision{send: false}
	}
}

// sendOne runs one request through doCtlChangeOp and, if still live,
// encodes and sends it, then feeds the transport outcome back into the
// controller.
func (e *Engine) sendOne(id int64, kind speechproto.RequestKind, payload []byte, opts, skillOpts *options.Bag) {
	decision := e.doCtlChangeOp(id, kind)
	if !decision.send {
		return
	}

	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{
		ID: id, Kind: kind, Payload: payload, Options: opts, SkillOptions: skillOpts,
	})
	if err != nil {
		e.log.Error("encode request failed", "id", id, "error", err)
		e.respMu.Lock()
		e.ctl.SetOpError(opctl.ErrorUnknown)
		e.respCond.Broadcast()
		e.respMu.Unlock()
		return
	}

	result := e.transport.Send(wm, e.sendTimeout)

	e.respMu.Lock()
	if result == transport.SendSuccess {
		e.ctl.RefreshOpTime()
	} else {
		e.ctl.SetOpError(sendResultToErrorKind(result))
		e.metrics.TransportError()
	}
	e.respCond.Broadcast()
	e.respMu.Unlock()
}

func sendResultToErrorKind(r transport.SendResult) opctl.ErrorKind {
	switch r {
	case transport.SendTimeout:
		return opctl.ErrorTimeout
	case transport.SendConnectionNotAvailable, transport.SendConnectionBroken:
		return opctl.ErrorServiceUnavailable
	default:
		return opctl.ErrorUnknown
	}
}

// receiverLoop is the sole reader of inbound protocol messages. It
// paces Recv's timeout off the controller's own deadline, so a server
// that stops responding mid-operation surfaces as ErrorTimeout without
// a dedicated timer goroutine.
func (e *Engine) receiverLoop() {
	for {
		e.respMu.Lock()
		if e.released {
			e.respMu.Unlock()
			return
		}
		remaining := e.ctl.OpTimeout()
		e.respMu.Unlock()

		timeout := pollRecvInterval
		if remaining != opctl.InfiniteTimeoutMs {
			if remaining == 0 {
				e.respMu.Lock()
				if _, exists := e.ctl.CurrentOp(); exists {
					e.ctl.SetOpError(opctl.ErrorTimeout)
					e.respCond.Broadcast()
				}
				e.respMu.Unlock()
				continue
			}
			if d := time.Duration(remaining) * time.Millisecond; d < timeout {
				timeout = d
			}
		}

		resp, code := e.transport.Recv(timeout)
		switch code {
		case transport.RecvSuccess:
			e.genResultByResp(resp)
		case transport.RecvTimeout:
			// loop: re-check the operation deadline and released flag.
		case transport.RecvConnectionBroken:
			e.respMu.Lock()
			if _, exists := e.ctl.CurrentOp(); exists {
				e.ctl.SetOpError(opctl.ErrorServiceUnavailable)
				e.respCond.Broadcast()
			}
			e.respMu.Unlock()
			e.metrics.TransportError()
			return
		case transport.RecvNotReady:
			return
		}
	}
}

// genResultByResp implements response handling: a response for an id
// that is no longer the active operation, or whose operation has
// already gone CANCELLED/ERROR, is dropped outright, since it arrived
// after poll() already surfaced a terminal result for that id. The
// respQueue entry for an id is only opened on its first response
// (START -> STREAMING), not at op-install time, so a controller-side
// terminal (timeout, send failure) before any response ever arrives
// leaves no orphaned entry behind. A non-success result code records
// the error on the controller rather than finishing the operation
// cleanly (finish_op would leave poll() with no way to surface an
// error code on the terminal result), while a success response either
// streams or finishes depending on the finish flag.
func (e *Engine) genResultByResp(resp speechproto.SessionResponse) {
	e.respMu.Lock()
	defer e.respMu.Unlock()

	cur, exists := e.ctl.CurrentOp()
	if !exists || cur.ID != resp.ID {
		e.log.Warn("dropping response for an id with no active operation", "id", resp.ID)
		return
	}
	if cur.Status == opctl.StatusCancelled || cur.Status == opctl.StatusError {
		e.log.Warn("dropping late response for an already-terminal operation", "id", resp.ID, "status", cur.Status)
		return
	}

	if e.ctl.MarkStreaming() {
		e.respQueue.Start(resp.ID)
	}

	if resp.ResultCode != speechproto.Success {
		e.respQueue.Erase(resp.ID, 1)
		e.ctl.SetOpError(resultCodeToErrorKind(resp.ResultCode))
		e.respCond.Broadcast()
		return
	}

	if resp.Finish {
		e.respQueue.End(resp.ID, resp.Body)
		e.ctl.FinishOp()
	} else {
		e.respQueue.Stream(resp.ID, resp.Body)
	}
	e.respCond.Broadcast()
}
