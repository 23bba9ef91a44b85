package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/franckalain/freshness/internal/api"
	"github.com/franckalain/freshness/internal/logger"
	"github.com/franckalain/freshness/internal/media"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/selection"
)

// DefaultTimeout bounds a single analysis request
const DefaultTimeout = 30 * time.Second

// Messages shown to the user when an analysis fails
const (
	MsgTransportFailed = "Failed to analyze image. Please try again."
	MsgAnalysisFailed  = "Analysis failed"
	MsgTimedOut        = "Request timed out. Please try again."
)

var (
	// ErrValidation is returned by Submit when the image or the produce type is missing
	ErrValidation = selection.ErrIncomplete
	// ErrInFlight is returned by Submit while a request is already loading
	ErrInFlight = errors.New("an analysis is already in progress")
)

// Phase is the lifecycle state of an analysis
type Phase int

const (
	Idle Phase = iota
	Loading
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Snapshot is a consistent copy of the controller state
type Snapshot struct {
	Phase     Phase
	Report    *models.Report // set only when Succeeded
	Message   string         // set only when Failed
	RequestID string
	Selection selection.View
	CanSubmit bool
}

// Analyzer performs the remote freshness prediction
type Analyzer interface {
	Predict(ctx context.Context, req selection.Request) (*models.Report, error)
}

// Option configures a Controller
type Option func(*Controller)

// WithTimeout sets the per-request deadline. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithLogger sets the controller logger
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// Controller drives a single analysis at a time over the current selection.
// It is safe for concurrent use.
type Controller struct {
	analyzer Analyzer
	timeout  time.Duration
	log      logger.Logger

	mu        sync.Mutex
	notifyMu  sync.Mutex
	sel       *selection.State
	phase     Phase
	report    *models.Report
	message   string
	requestID string
	cancel    context.CancelFunc
	listeners []func(Snapshot)

	// generation is bumped by every submission and reset; a result is applied
	// only if the generation it was started under is still current
	generation *atomic.Uint64
}

// NewController creates an idle controller with an empty selection
func NewController(analyzer Analyzer, opts ...Option) *Controller {
	c := &Controller{
		analyzer:   analyzer,
		timeout:    DefaultTimeout,
		log:        logger.Nop(),
		sel:        selection.New(),
		generation: atomic.NewUint64(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ media.Sink = (*Controller)(nil)

// OnChange registers fn to be called with a snapshot after every state change.
// Listeners must not call back into methods that change the controller.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// CanSubmit reports whether Submit would start a request
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked()
}

// ImageAcquired replaces the selected image and clears a surfaced error
func (c *Controller) ImageAcquired(img media.Image) {
	c.mu.Lock()
	c.sel.SetImage(img)
	if c.phase == Failed {
		c.phase = Idle
		c.message = ""
	}
	c.unlockAndNotify()
}

// PreviewReady attaches a preview if id is still the selected image
func (c *Controller) PreviewReady(id, preview string) {
	c.mu.Lock()
	if !c.sel.SetPreview(id, preview) {
		c.mu.Unlock()
		return
	}
	c.unlockAndNotify()
}

// SelectProduce sets the declared produce type; "" clears it
func (c *Controller) SelectProduce(value string) error {
	c.mu.Lock()
	if err := c.sel.SetProduce(value); err != nil {
		c.mu.Unlock()
		return err
	}
	c.unlockAndNotify()
	return nil
}

// Submit starts an analysis of the current selection. The returned channel is
// closed once the result has been applied or discarded.
func (c *Controller) Submit(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.phase == Loading {
		c.mu.Unlock()
		return nil, ErrInFlight
	}
	req, err := c.sel.Request()
	if err != nil {
		c.mu.Unlock()
		return nil, ErrValidation
	}

	gen := c.generation.Inc()
	requestID := uuid.NewString()
	reqCtx := logger.WithRequestID(context.WithoutCancel(ctx), requestID)
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(reqCtx, c.timeout)
	} else {
		reqCtx, cancel = context.WithCancel(reqCtx)
	}

	c.phase = Loading
	c.report = nil
	c.message = ""
	c.requestID = requestID
	c.cancel = cancel
	c.unlockAndNotify()

	c.log.Infof(reqCtx, "analyzing %s image %s", req.Produce.Value, req.Image.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()

		report, err := c.analyzer.Predict(reqCtx, req)
		c.complete(reqCtx, gen, report, err)
	}()
	return done, nil
}

// Reset abandons any in-flight request and clears the selection and result
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation.Inc()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.sel.Reset()
	c.phase = Idle
	c.report = nil
	c.message = ""
	c.requestID = ""
	c.unlockAndNotify()
}

func (c *Controller) complete(ctx context.Context, gen uint64, report *models.Report, err error) {
	c.mu.Lock()
	if c.generation.Load() != gen {
		c.mu.Unlock()
		c.log.Debugf(ctx, "discarding stale analysis result")
		return
	}

	c.cancel = nil
	if err == nil && report == nil {
		err = &api.DecodeError{Err: errors.New("empty report")}
	}
	if err != nil {
		c.phase = Failed
		c.report = nil
		c.message = FailureMessage(err)
		c.log.Warnf(ctx, "analysis failed: %v", err)
	} else {
		c.phase = Succeeded
		c.report = report
		c.message = ""
		c.log.Infof(ctx, "analysis succeeded: status=%s", report.Status)
	}
	c.unlockAndNotify()
}

// FailureMessage maps an analysis error to the message shown to the user
func FailureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimedOut
	}

	var appErr *api.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.Message != "" {
			return appErr.Message
		}
		return MsgAnalysisFailed
	}

	var transportErr *api.TransportError
	if errors.As(err, &transportErr) && transportErr.ServerMessage != "" {
		return transportErr.ServerMessage
	}
	return MsgTransportFailed
}

func (c *Controller) canSubmitLocked() bool {
	return c.sel.Ready() && c.phase != Loading
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:     c.phase,
		Report:    c.report,
		Message:   c.message,
		RequestID: c.requestID,
		Selection: c.sel.View(),
		CanSubmit: c.canSubmitLocked(),
	}
}

// unlockAndNotify releases mu and delivers the new state to listeners.
// notifyMu is taken before mu is released so listeners observe transitions in order.
func (c *Controller) unlockAndNotify() {
	snap := c.snapshotLocked()
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
