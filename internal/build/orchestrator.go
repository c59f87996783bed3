package build

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/breach/internal/compiler"
	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
	"github.com/conneroisu/breach/internal/parser"
)

// State is the orchestrator's position in the build cycle.
type State int32

const (
	StateIdle State = iota
	StateParsing
	StateCompiling
	StatePublishing
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsing:
		return "parsing"
	case StateCompiling:
		return "compiling"
	case StatePublishing:
		return "publishing"
	default:
		return "unknown"
	}
}

// Notifier receives the outcome of build cycles. The live-reload hub
// implements it.
type Notifier interface {
	NotifyReload(sequence uint64)
	NotifyDiagnostics(sequence uint64, status Status, diags []errors.Diagnostic)
}

// CycleResult describes one build cycle.
type CycleResult struct {
	Sequence    uint64              `json:"sequence"`
	Status      Status              `json:"status"`
	Published   bool                `json:"published"`
	Skipped     bool                `json:"skipped"`
	Diagnostics []errors.Diagnostic `json:"diagnostics"`
	Duration    time.Duration       `json:"duration"`
	FinishedAt  time.Time           `json:"finished_at"`
	Err         error               `json:"-"`
}

// CycleCallback is called when a build cycle completes
type CycleCallback func(result CycleResult)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the receiver of reload and diagnostics notifications.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithParallel toggles concurrent compilation of sections.
func WithParallel(parallel bool) Option {
	return func(o *Orchestrator) { o.parallel = parallel }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator runs parse, compile and publish cycles. At most one cycle is
// in flight; triggers received during a cycle coalesce into exactly one
// follow-up cycle, which reads the source afresh.
type Orchestrator struct {
	source   Source
	registry *compiler.Registry
	store    *Store
	notifier Notifier
	logger   logging.Logger
	metrics  *Metrics
	parallel bool

	trigger chan struct{}
	state   atomic.Int32
	report  atomic.Pointer[CycleResult]

	// cycleMu serializes cycles; lastFailed is guarded by it.
	cycleMu    sync.Mutex
	lastFailed bool

	callbackMu sync.RWMutex
	callbacks  []CycleCallback
}

// NewOrchestrator creates an orchestrator publishing to store.
func NewOrchestrator(source Source, registry *compiler.Registry, store *Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:   source,
		registry: registry,
		store:    store,
		logger:   logging.Nop(),
		metrics:  NewMetrics(),
		parallel: true,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("build")
	return o
}

// Store returns the artifact store the orchestrator publishes to.
func (o *Orchestrator) Store() *Store { return o.store }

// Trigger requests a rebuild. It never blocks; a trigger arriving while one
// is already pending is dropped.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run performs an initial build and then one cycle per coalesced trigger
// until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.BuildNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.trigger:
			if ctx.Err() != nil {
				return nil
			}
			o.BuildNow(ctx)
		}
	}
}

// BuildNow runs one cycle synchronously.
func (o *Orchestrator) BuildNow(ctx context.Context) CycleResult {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	perf := logging.StartOperation(o.logger, "build_cycle")

	result := o.cycle(ctx)
	result.Duration = perf.Elapsed()
	result.FinishedAt = time.Now()
	o.setState(StateIdle)

	if !result.Skipped {
		o.lastFailed = result.Status == StatusFailed
	}
	o.finish(ctx, result)

	perf.End(ctx, "sequence", result.Sequence, "status", result.Status, "skipped", result.Skipped)
	return result
}

// ReportFailure records a failure that happened outside a cycle, such as the
// source file disappearing. The published snapshot stays in force and the
// next cycle is never skipped as unchanged.
func (o *Orchestrator) ReportFailure(ctx context.Context, err error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	o.lastFailed = true
	result := o.failed(o.store.Current(), err)
	result.FinishedAt = time.Now()
	o.finish(ctx, result)
}

// State returns the current cycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastReport returns the most recent non-skipped cycle, or nil before the
// first one completes.
func (o *Orchestrator) LastReport() *CycleResult {
	return o.report.Load()
}

// Metrics returns a copy of the cycle metrics.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics.Snapshot()
}

// AddCallback adds a callback to be called when cycles complete
func (o *Orchestrator) AddCallback(callback CycleCallback) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.callbacks = append(o.callbacks, callback)
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

func (o *Orchestrator) finish(ctx context.Context, result CycleResult) {
	o.metrics.RecordCycle(result)

	if !result.Skipped {
		r := result
		o.report.Store(&r)
	}

	switch {
	case result.Published:
		o.logger.Info(ctx, "Build published",
			"sequence", result.Sequence,
			"status", result.Status,
			"errors", errors.CountErrors(result.Diagnostics),
			"duration", result.Duration)
		if o.notifier != nil {
			o.notifier.NotifyReload(result.Sequence)
		}

	case result.Status == StatusFailed:
		o.logger.Warn(ctx, result.Err, "Build failed, keeping previous snapshot",
			"sequence", result.Sequence)
		if o.notifier != nil {
			o.notifier.NotifyDiagnostics(result.Sequence, StatusFailed, result.Diagnostics)
		}

	case result.Err != nil:
		o.logger.Debug(ctx, "Build result discarded", "sequence", result.Sequence, "error", result.Err)
	}

	o.callbackMu.RLock()
	callbacks := o.callbacks
	o.callbackMu.RUnlock()
	for _, cb := range callbacks {
		cb(result)
	}
}

func (o *Orchestrator) failed(prev *Snapshot, err error) CycleResult {
	return CycleResult{
		Sequence:    prev.Sequence,
		Status:      StatusFailed,
		Diagnostics: []errors.Diagnostic{errors.DiagnosticFromError(err, nil)},
		Err:         err,
	}
}

func (o *Orchestrator) cycle(ctx context.Context) CycleResult {
	o.setState(StateParsing)
	prev := o.store.Current()

	src, err := o.source.Read(ctx)
	if err != nil {
		return o.failed(prev, err)
	}

	hash := hashSource(src)
	if prev.Sequence > 0 && hash == prev.SourceHash && !o.lastFailed {
		return CycleResult{Sequence: prev.Sequence, Status: prev.Status, Skipped: true}
	}

	doc, err := parser.Parse(src)
	if err != nil {
		return o.failed(prev, err)
	}

	o.setState(StateCompiling)
	a := o.assemble(doc, o.compileAll(ctx, doc), prev)

	status := StatusClean
	if errors.HasErrors(a.all) {
		status = StatusPartial
	}

	seq := prev.Sequence + 1
	markup := strings.Join(a.parts[compiler.KindMarkup], "\n")
	stylesheet := strings.Join(a.parts[compiler.KindStylesheet], "\n")
	script := strings.Join(a.parts[compiler.KindScript], "\n")
	fp := Fingerprint(markup, stylesheet, script)

	page, err := PreparePage(ctx, PageInput{
		Markup:      markup,
		Stylesheet:  stylesheet,
		Script:      script,
		Sequence:    seq,
		Fingerprint: fp,
		Diagnostics: a.all,
	})
	if err != nil {
		return o.failed(prev, errors.NewInternalError("preparing page", err))
	}

	artifact := func(kind compiler.Kind, text string) Artifact {
		diags := a.diags[kind]
		return Artifact{Kind: kind, Text: text, Diagnostics: diags, OK: !errors.HasErrors(diags)}
	}

	snap := &Snapshot{
		Sequence:    seq,
		Status:      status,
		Fingerprint: fp,
		SourceHash:  hash,
		BuiltAt:     time.Now(),
		Page:        page,
		Markup:      artifact(compiler.KindMarkup, markup),
		Stylesheet:  artifact(compiler.KindStylesheet, stylesheet),
		Script:      artifact(compiler.KindScript, script),
		Diagnostics: a.all,
		slots:       a.slots,
	}

	o.setState(StatePublishing)
	if err := o.store.Publish(snap); err != nil {
		return CycleResult{Sequence: seq, Status: status, Diagnostics: a.all, Err: err}
	}

	return CycleResult{Sequence: seq, Status: status, Published: true, Diagnostics: a.all}
}

type outcome struct {
	section parser.Section
	out     compiler.Output
	err     error
	skip    bool
}

// compileAll compiles every section and returns the outcomes in ordinal
// order. With parallel compilation all sections run at once and the call
// returns when the last one finishes.
func (o *Orchestrator) compileAll(ctx context.Context, doc *parser.Document) []outcome {
	outcomes := make([]outcome, len(doc.Sections))
	preludes := o.preludes(doc)

	run := func(i int) {
		s := doc.Sections[i]
		outcomes[i].section = s
		if s.Tag == "" {
			// Reported by the parser.
			outcomes[i].skip = true
			return
		}
		outcomes[i].out, outcomes[i].err = o.registry.Compile(ctx, compiler.Request{
			Tag:      s.Tag,
			Body:     s.Body,
			Prelude:  preludes[i],
			Filename: fmt.Sprintf("section-%d.%s", s.Ordinal, s.Tag),
		})
	}

	if !o.parallel {
		for i := range doc.Sections {
			run(i)
		}
		return outcomes
	}

	var wg sync.WaitGroup
	for i := range doc.Sections {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run(i)
		}(i)
	}
	wg.Wait()

	return outcomes
}

// preludes collects, per section, the shared scope of earlier sections with
// the same tag.
func (o *Orchestrator) preludes(doc *parser.Document) []string {
	out := make([]string, len(doc.Sections))
	scopes := make(map[string][]string)

	for i, s := range doc.Sections {
		if s.Tag == "" {
			continue
		}
		out[i] = strings.Join(scopes[s.Tag], "\n")
		if scope := o.registry.Scope(s.Tag, s.Body); scope != "" {
			scopes[s.Tag] = append(scopes[s.Tag], scope)
		}
	}

	return out
}

type assembly struct {
	parts map[compiler.Kind][]string
	diags map[compiler.Kind][]errors.Diagnostic
	all   []errors.Diagnostic
	slots map[slot]string
}

func (a *assembly) add(kind compiler.Kind, d errors.Diagnostic) {
	a.all = append(a.all, d)
	if kind != "" {
		a.diags[kind] = append(a.diags[kind], d)
	}
}

// assemble orders section outputs by kind. A failed section contributes the
// last good output of its slot when the previous snapshot had one and is
// omitted otherwise; either way it adds one error Diagnostic.
func (o *Orchestrator) assemble(doc *parser.Document, outcomes []outcome, prev *Snapshot) *assembly {
	a := &assembly{
		parts: make(map[compiler.Kind][]string),
		diags: make(map[compiler.Kind][]errors.Diagnostic),
		slots: make(map[slot]string),
	}
	a.all = append(a.all, doc.Diagnostics...)

	seen := make(map[string]int)
	for _, oc := range outcomes {
		if oc.skip {
			continue
		}
		s := oc.section
		key := slot{tag: s.Tag, n: seen[s.Tag]}
		seen[s.Tag]++
		ref := s.Ref()
		kind, known := o.registry.KindOf(s.Tag)

		if oc.err == nil {
			for _, w := range oc.out.Warnings {
				d := errors.Warning(errors.ErrCodeCompile, w.Text, &ref)
				d.Line, d.Column = sourceLine(s, w.Line), w.Column
				a.add(kind, d)
			}
			a.parts[kind] = append(a.parts[kind], oc.out.Text)
			a.slots[key] = oc.out.Text
			continue
		}

		d := errors.DiagnosticFromError(oc.err, &ref)
		d.Line = sourceLine(s, d.Line)
		if !known {
			a.add("", d)
			continue
		}
		if text, ok := prev.lastGood(key); ok {
			d.Note = "serving the last good output of this section"
			a.parts[kind] = append(a.parts[kind], text)
			a.slots[key] = text
		}
		a.add(kind, d)
	}

	return a
}

// sourceLine maps a body-relative line to a source file line. Unknown lines
// map to the section's marker line.
func sourceLine(s parser.Section, line int) int {
	if line <= 0 {
		return s.Span.MarkerLine
	}
	return s.Span.StartLine - 1 + line
}
