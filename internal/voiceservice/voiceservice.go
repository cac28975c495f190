// Package voiceservice implements the VoiceService dispatcher: it
// translates front-end audio events into speechengine calls on a single
// event-consumer goroutine, and drains speechengine.Poll results into
// application callbacks on a second. It safely hands the dispatcher a
// speechengine that is prepared out of band, and implements the
// event-kind dispatch table and activation arbitration.
package voiceservice

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rokid/voiceclient/internal/opctl"
	"github.com/rokid/voiceclient/internal/options"
	"github.com/rokid/voiceclient/internal/siren"
	"github.com/rokid/voiceclient/internal/speechengine"
	"github.com/rokid/voiceclient/internal/telemetry"
)

// EventKind is an application-facing event, distinct from siren.Kind.
type EventKind int

const (
	VoiceComing EventKind = iota
	VoiceStart
	VoiceLocalWake
	VoiceAccept
	VoiceReject
	VoiceFake
	VoiceCancel
	VoiceSleep
)

func (k EventKind) String() string {
	switch k {
	case VoiceComing:
		return "VOICE_COMING"
	case VoiceStart:
		return "VOICE_START"
	case VoiceLocalWake:
		return "VOICE_LOCAL_WAKE"
	case VoiceAccept:
		return "VOICE_ACCEPT"
	case VoiceReject:
		return "VOICE_REJECT"
	case VoiceFake:
		return "VOICE_FAKE"
	case VoiceCancel:
		return "VOICE_CANCEL"
	case VoiceSleep:
		return "VOICE_SLEEP"
	default:
		return "UNKNOWN"
	}
}

// Callback is the application's sink. Implementations must not block
// for long; the response task calls these serially.
type Callback interface {
	VoiceEvent(id int64, kind EventKind, sl int32)
	IntermediateResult(id int64, resultType speechengine.ResultType, asr string)
	VoiceCommand(id int64, asr, nlp, action string)
	SpeechError(id int64, err opctl.ErrorKind)
}

// SirenState is the local front-end's arbitration state.
type SirenState int

const (
	SirenUnknown SirenState = iota
	SirenInited
	SirenStarted
	SirenStopped
	SirenSleep
)

// SpeechState is the dispatcher's own lifecycle state.
type SpeechState int

const (
	SpeechReleased SpeechState = iota
	SpeechPrepared
)

// eventQueueSize bounds the event task's inbox; the front-end is
// expected to deliver events far slower than this drains.
const eventQueueSize = 64

// Dispatcher owns the current session id, the activation arbitration
// state, and the pending one-shot voice-trigger record.
type Dispatcher struct {
	engine          *speechengine.Engine
	cb              Callback
	cloudVADEnabled bool
	log             *slog.Logger
	metrics         *telemetry.Metrics

	mu             sync.Mutex
	sessionID      int64 // -1 means none
	asrFinished    bool
	activation     string
	pendingTrigger *siren.VoiceTrigger
	sirenState     SirenState
	speechState    SpeechState
	stackAppID     string

	events chan siren.Event
	closed chan struct{}
	group  errgroup.Group
}

// New builds a Dispatcher bound to engine and cb. cloudVADEnabled gates
// VAD_END/SLEEP handling on whether a cloud-side VAD already owns
// end-of-speech detection.
func New(engine *speechengine.Engine, cb Callback, cloudVADEnabled bool, logger *slog.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &Dispatcher{
		engine:          engine,
		cb:              cb,
		cloudVADEnabled: cloudVADEnabled,
		log:             logger.With("component", "voiceservice"),
		metrics:         metrics,
		sessionID:       -1,
		sirenState:      SirenUnknown,
		speechState:     SpeechReleased,
		events:          make(chan siren.Event, eventQueueSize),
		closed:          make(chan struct{}),
	}
}

// Start launches the event task and the response task. Must be called
// once, after engine.Prepare has already succeeded.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	d.speechState = SpeechPrepared
	d.sirenState = SirenInited
	d.mu.Unlock()

	d.group.Go(func() error {
		d.eventLoop()
		return nil
	})
	d.group.Go(func() error {
		d.responseLoop()
		return nil
	})
}

// Close stops the event task and waits for both tasks to exit. It does
// not release the underlying engine; the caller owns that lifecycle. The
// response task returns only once engine.Poll reports the engine
// released, so the engine must be released before Close can return.
func (d *Dispatcher) Close() {
	close(d.closed)
	_ = d.group.Wait()

	d.mu.Lock()
	d.speechState = SpeechReleased
	d.mu.Unlock()
}

// PostEvent hands a single front-end event to the event task. Blocks if
// the inbox is full, matching the front-end's single-threaded delivery
// contract.
func (d *Dispatcher) PostEvent(e siren.Event) {
	select {
	case d.events <- e:
	case <-d.closed:
	}
}

// SetStack updates the skill stack id attached to future VAD_START
// options. Guarded by the dispatcher's own mutex.
func (d *Dispatcher) SetStack(appID string) {
	d.mu.Lock()
	d.stackAppID = appID
	d.mu.Unlock()
}

func (d *Dispatcher) eventLoop() {
	for {
		select {
		case e := <-d.events:
			d.handleEvent(e)
		case <-d.closed:
			return
		}
	}
}

func (d *Dispatcher) handleEvent(e siren.Event) {
	switch e.Kind {
	case siren.KindWakePre:
		d.cb.VoiceEvent(-1, VoiceComing, e.SL)

	case siren.KindWakeCmd:
		d.cb.VoiceEvent(-1, VoiceLocalWake, e.SL)

	case siren.KindVADStart:
		d.handleVADStart(e)

	case siren.KindVADData:
		d.mu.Lock()
		id := d.sessionID
		d.mu.Unlock()
		if id > 0 && e.Flag.Has(siren.FlagHasVoice) {
			d.engine.PutVoice(id, e.Buff)
		}

	case siren.KindVADEnd:
		if d.cloudVADEnabled {
			return
		}
		d.mu.Lock()
		id := d.sessionID
		d.sessionID = -1
		d.mu.Unlock()
		if id > 0 {
			d.engine.EndVoice(id)
		}

	case siren.KindVADCancel:
		d.mu.Lock()
		id := d.sessionID
		finished := d.asrFinished
		if id > 0 && !finished {
			d.sessionID = -1
		}
		d.mu.Unlock()
		if id > 0 && !finished {
			d.engine.Cancel(id)
		}

	case siren.KindVoicePrint:
		vt := e.VT
		d.mu.Lock()
		d.pendingTrigger = &vt
		d.mu.Unlock()

	case siren.KindSleep:
		if d.cloudVADEnabled {
			return
		}
		d.mu.Lock()
		id := d.sessionID
		d.mu.Unlock()
		d.cb.VoiceEvent(id, VoiceSleep, 0)
	}
}

func (d *Dispatcher) handleVADStart(e siren.Event) {
	d.mu.Lock()
	if d.sessionID != -1 {
		d.mu.Unlock()
		return
	}

	opts := options.New()
	if d.pendingTrigger != nil {
		t := d.pendingTrigger
		opts.Set("voice_trigger", string(t.Data))
		opts.Set("trigger_start", formatInt(t.Start))
		opts.Set("trigger_length", formatInt(t.End-t.Start))
		opts.Set("voice_power", formatFloat(t.Energy))
		d.pendingTrigger = nil
	}
	if d.stackAppID != "" {
		opts.Set("stack", d.stackAppID)
	}
	d.mu.Unlock()

	id := d.engine.StartVoice(opts, nil)

	d.mu.Lock()
	d.sessionID = id
	d.asrFinished = false
	d.sirenState = SirenStarted
	d.mu.Unlock()

	d.cb.VoiceEvent(id, VoiceStart, 0)
}

func (d *Dispatcher) responseLoop() {
	for {
		result, ok := d.engine.Poll()
		if !ok {
			return
		}
		d.handleResult(result)
	}
}

func (d *Dispatcher) handleResult(r speechengine.PollResult) {
	switch r.Type {
	case speechengine.ResultStart:
		d.mu.Lock()
		d.activation = ""
		d.asrFinished = false
		d.mu.Unlock()
		return

	case speechengine.ResultInter, speechengine.ResultEnd:
		activation := d.extractActivation(r.Extra)
		suppressed := false
		if activation != "" {
			d.mu.Lock()
			d.activation = activation
			if activation == "fake" || activation == "reject" {
				d.sirenState = SirenSleep
				suppressed = true
			}
			d.mu.Unlock()
			d.cb.VoiceEvent(r.ID, transformStringToEvent(activation), 0)
		}
		if !suppressed {
			if r.Type == speechengine.ResultInter {
				d.cb.IntermediateResult(r.ID, r.Type, r.ASR)
			} else {
				d.mu.Lock()
				d.asrFinished = true
				d.mu.Unlock()
				d.cb.VoiceCommand(r.ID, r.ASR, r.NLP, r.Action)
			}
		}

	case speechengine.ResultCancelled:
		d.cb.VoiceEvent(r.ID, VoiceCancel, 0)

	case speechengine.ResultError:
		d.mu.Lock()
		isActive := r.ID == d.sessionID
		d.mu.Unlock()
		if isActive && d.cloudVADEnabled {
			d.mu.Lock()
			d.sirenState = SirenSleep
			d.mu.Unlock()
		}
		d.cb.SpeechError(r.ID, r.Err)
		d.mu.Lock()
		d.asrFinished = false
		d.activation = ""
		d.mu.Unlock()
	}

	if r.Type.IsTerminal() {
		d.mu.Lock()
		if d.sessionID == r.ID {
			d.sessionID = -1
		}
		d.mu.Unlock()
	}
}

// extractActivation pulls the "activation" string field out of a
// response's extra JSON, if present. An empty or malformed extra is
// treated as "no activation", matching the non-error, "not in
// {fake,reject}" default path.
func (d *Dispatcher) extractActivation(extra string) string {
	if extra == "" {
		return ""
	}
	var payload struct {
		Activation string `json:"activation"`
	}
	if err := json.Unmarshal([]byte(extra), &payload); err != nil {
		return ""
	}
	return payload.Activation
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

func transformStringToEvent(activation string) EventKind {
	switch activation {
	case "accept":
		return VoiceAccept
	case "reject":
		return VoiceReject
	case "fake":
		return VoiceFake
	default:
		return VoiceAccept
	}
}
