// Package suggest drives per-finding AI remediation requests. Each finding
// of the current load generation is in exactly one State; concurrent
// requests for the same finding share one gateway call, and answers that
// arrive after the session was reloaded are dropped.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"aiowasp/cli/internal/findings"
	"aiowasp/cli/internal/gateway"
	"aiowasp/cli/internal/logging"
	"aiowasp/cli/internal/session"
)

// DefaultFailureMessage is used when the backend reports a failed analysis
// without a message.
const DefaultFailureMessage = "AI analysis failed"

var (
	// ErrFindingNotFound is returned for an index outside the filtered view.
	ErrFindingNotFound = session.ErrFindingNotFound
	// ErrNotRetryable is returned by Retry when the finding is not in Failed
	// or Loading.
	ErrNotRetryable = errors.New("suggestion is not retryable")
	// ErrFailed wraps the failure message of a Failed suggestion.
	ErrFailed = errors.New("suggestion failed")
	// ErrStale indicates the finding set was reloaded while the request was
	// in flight; its answer was discarded.
	ErrStale = errors.New("finding set reloaded; suggestion discarded")
)

// Kind is the phase of a finding's suggestion.
type Kind int

const (
	Idle Kind = iota
	Loading
	Succeeded
	Failed
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// State is a finding's suggestion state. Result is set in Succeeded;
// Message and Retryable in Failed.
type State struct {
	Kind      Kind
	Result    *Result
	Message   string
	Retryable bool
}

// Event reports a state change of the finding at Ref.
type Event struct {
	Ref   session.Ref
	State State
}

// Suggester is the gateway operation the orchestrator needs.
type Suggester interface {
	Suggest(ctx context.Context, req gateway.SuggestRequest) (*gateway.SuggestResponse, error)
}

// Orchestrator is safe for concurrent use. Zero value is not valid; use
// NewOrchestrator.
type Orchestrator struct {
	sess   *session.Session
	gw     Suggester
	logger *zap.Logger
	calls  singleflight.Group
	wg     sync.WaitGroup

	mu     sync.Mutex
	gen    uint64
	states map[int]State
	subs   map[int]func(Event)
	nextID int

	// beforeJoin, when set, runs while a request joins a call in flight.
	beforeJoin func()
}

// NewOrchestrator returns an orchestrator writing suggestions into sess.
// A nil logger discards logs.
func NewOrchestrator(sess *session.Session, gw Suggester, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sess:   sess,
		gw:     gw,
		logger: logging.OrNop(logger),
		states: map[int]State{},
		subs:   map[int]func(Event){},
	}
}

// Request returns the suggestion for the finding at filteredIndex of the
// session's current view, calling the gateway unless the finding already
// succeeded. A request for a finding in Loading joins the in-flight call.
// If ctx ends first, Request returns ctx.Err() while the call completes in
// the background and still updates the finding.
func (o *Orchestrator) Request(ctx context.Context, filteredIndex int) (*Result, error) {
	ref, f, err := o.sess.Resolve(filteredIndex)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, ref, &f, false)
}

// Retry re-requests a Failed suggestion. For a finding in Loading it joins
// the in-flight call; Idle and Succeeded findings return ErrNotRetryable.
func (o *Orchestrator) Retry(ctx context.Context, filteredIndex int) (*Result, error) {
	ref, f, err := o.sess.Resolve(filteredIndex)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, ref, &f, true)
}

// Start is Request without waiting: it resolves filteredIndex now and runs
// the request on a new goroutine. Observe the outcome through Subscribe or
// State; Wait blocks until started requests finish.
func (o *Orchestrator) Start(ctx context.Context, filteredIndex int) error {
	ref, f, err := o.sess.Resolve(filteredIndex)
	if err != nil {
		return err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.run(ctx, ref, &f, false)
	}()
	return nil
}

// Wait blocks until every request started by Start, and every gateway call
// abandoned by a cancelled caller, has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// State returns the state of the finding at filteredIndex. A finding that
// already carries a suggestion (e.g. restored from disk) is Succeeded.
func (o *Orchestrator) State(filteredIndex int) (State, error) {
	ref, f, err := o.sess.Resolve(filteredIndex)
	if err != nil {
		return State{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.advance(ref.Generation) {
		return stateOf(&f), nil
	}
	return o.current(ref.Position, &f), nil
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn runs on the goroutine that made the change and must not
// block.
func (o *Orchestrator) Subscribe(fn func(Event)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

func (o *Orchestrator) run(ctx context.Context, ref session.Ref, f *findings.Finding, retry bool) (*Result, error) {
	key := strconv.FormatUint(ref.Generation, 10) + "/" + strconv.Itoa(ref.Position)

	o.mu.Lock()
	if o.sess.Generation() != ref.Generation || !o.advance(ref.Generation) {
		o.mu.Unlock()
		return nil, ErrStale
	}
	st := o.current(ref.Position, f)
	switch {
	case retry && (st.Kind == Idle || st.Kind == Succeeded):
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: finding is %s", ErrNotRetryable, st.Kind)
	case st.Kind == Succeeded:
		o.mu.Unlock()
		return st.Result, nil
	}
	var ev *Event
	if st.Kind == Loading {
		if o.beforeJoin != nil {
			o.beforeJoin()
		}
	} else {
		e := o.set(ref, State{Kind: Loading})
		ev = &e
	}
	// Joining under o.mu: the call in flight for key cannot record its
	// outcome, and so cannot be forgotten, until o.mu is released.
	// The call starts only after Loading is delivered, so subscribers see
	// events in order.
	req := BuildRequest(f)
	callCtx := context.WithoutCancel(ctx)
	ready := make(chan struct{})
	o.wg.Add(1)
	ch := o.calls.DoChan(key, func() (any, error) {
		<-ready
		return o.call(callCtx, ref, key, req)
	})
	o.mu.Unlock()
	if ev != nil {
		o.notify(*ev)
	}
	close(ready)

	select {
	case res := <-ch:
		o.wg.Done()
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		go func() {
			<-ch
			o.wg.Done()
		}()
		return nil, ctx.Err()
	}
}

// call performs one gateway round trip and records its outcome.
func (o *Orchestrator) call(ctx context.Context, ref session.Ref, key string, req gateway.SuggestRequest) (*Result, error) {
	o.logger.Debug("requesting suggestion",
		zap.Uint64("generation", ref.Generation),
		zap.Int("position", ref.Position),
		zap.String("language", req.Language),
	)
	resp, err := o.gw.Suggest(ctx, req)
	var msg string
	switch {
	case err != nil:
		msg = err.Error()
	case !resp.Success || resp.Error != "":
		msg = resp.Error
		if msg == "" {
			msg = DefaultFailureMessage
		}
	}
	if msg != "" {
		if !o.finish(ref, key, State{Kind: Failed, Message: msg, Retryable: true}, nil) {
			return nil, ErrStale
		}
		return nil, fmt.Errorf("%w: %s", ErrFailed, msg)
	}

	sug := findings.AISuggestion{
		Result:           resp.AnalysisResult,
		TokensUsed:       resp.TokensUsed,
		ProcessingTimeMs: resp.ProcessingTimeMs,
		ModelUsed:        resp.ModelUsed,
	}
	res := resultOf(&sug)
	if !o.finish(ref, key, State{Kind: Succeeded, Result: res}, &sug) {
		return nil, ErrStale
	}
	return res, nil
}

// finish ends the call for key and records st for ref, writing sug to the
// finding first when set. Nothing is recorded when the session has moved to
// a newer generation; finish reports whether st was recorded.
func (o *Orchestrator) finish(ref session.Ref, key string, st State, sug *findings.AISuggestion) bool {
	o.mu.Lock()
	o.calls.Forget(key)
	stale := o.sess.Generation() != ref.Generation || !o.advance(ref.Generation)
	if !stale && sug != nil {
		stale = !o.sess.ApplySuggestion(ref, *sug)
	}
	if stale {
		o.mu.Unlock()
		o.logger.Debug("discarding stale outcome", zap.Uint64("generation", ref.Generation), zap.Int("position", ref.Position), zap.Stringer("state", st.Kind))
		return false
	}
	ev := o.set(ref, st)
	o.mu.Unlock()
	o.notify(ev)
	return true
}

// advance moves the tracked generation forward to gen, dropping every state
// of older generations. It returns false when gen is older than the tracked
// one. Caller holds o.mu.
func (o *Orchestrator) advance(gen uint64) bool {
	switch {
	case gen < o.gen:
		return false
	case gen > o.gen:
		o.gen = gen
		o.states = map[int]State{}
	}
	return true
}

// current returns the tracked state of position, falling back to what the
// finding itself carries. Caller holds o.mu.
func (o *Orchestrator) current(position int, f *findings.Finding) State {
	if st, ok := o.states[position]; ok {
		return st
	}
	return stateOf(f)
}

// set records st and returns the event to deliver once o.mu is released.
// Caller holds o.mu.
func (o *Orchestrator) set(ref session.Ref, st State) Event {
	prev := o.states[ref.Position].Kind
	o.states[ref.Position] = st
	fields := []zap.Field{
		zap.Int("position", ref.Position),
		zap.Stringer("from", prev),
		zap.Stringer("to", st.Kind),
	}
	if st.Kind == Failed {
		fields = append(fields, zap.String("message", st.Message))
	}
	o.logger.Info("suggestion state", fields...)
	return Event{Ref: ref, State: st}
}

func (o *Orchestrator) notify(ev Event) {
	o.mu.Lock()
	subs := make([]func(Event), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func stateOf(f *findings.Finding) State {
	if f.AISuggestion != nil {
		return State{Kind: Succeeded, Result: resultOf(f.AISuggestion)}
	}
	return State{Kind: Idle}
}

func resultOf(s *findings.AISuggestion) *Result {
	r := ParseResult(s.Result)
	r.TokensUsed = s.TokensUsed
	r.ProcessingTimeMs = s.ProcessingTimeMs
	r.ModelUsed = s.ModelUsed
	return &r
}
