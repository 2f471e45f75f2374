package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/geo"
)

// Step identifies a wizard step.
type Step int

const (
	StepPhoto Step = iota + 1
	StepLocation
	StepDetails
	StepSubmitting
)

// String returns the step name shown in logs and signals.
func (s Step) String() string {
	switch s {
	case StepPhoto:
		return "photo"
	case StepLocation:
		return "location"
	case StepDetails:
		return "details"
	case StepSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

var (
	// ErrPhotoRequired gates leaving the photo step.
	ErrPhotoRequired = errors.New("report: photo required")
	// ErrLocationRequired gates leaving the location step.
	ErrLocationRequired = errors.New("report: location required")
	// ErrTitleRequired gates submission.
	ErrTitleRequired = errors.New("report: title required")
	// ErrSubmitInFlight rejects a second submit while one is running.
	ErrSubmitInFlight = errors.New("report: submission already in progress")
	// ErrNotAtDetails rejects submitting from any step but details.
	ErrNotAtDetails = errors.New("report: complete the earlier steps first")
)

// Draft is the report being assembled. The wizard owns it; everything
// else sees copies.
type Draft struct {
	Title       string
	Description string
	Severity    Severity
	Type        DefectType
	Coordinate  geo.Coordinate
	HasLocation bool
	// Address is the display text for the coordinate, either a
	// geocoded label or the coordinate fallback.
	Address string
	Photo   *Photo
}

// NewDraft returns an empty draft with defaults applied.
func NewDraft() Draft {
	return Draft{Severity: SeverityMinor}
}

func (d Draft) clone() Draft {
	c := d
	if d.Photo != nil {
		p := *d.Photo
		c.Photo = &p
	}
	return c
}

func (d Draft) validate() error {
	if d.Photo == nil {
		return ErrPhotoRequired
	}
	if !d.HasLocation {
		return ErrLocationRequired
	}
	if strings.TrimSpace(d.Title) == "" {
		return ErrTitleRequired
	}
	if !d.Severity.Valid() {
		return fmt.Errorf("report: invalid severity %q", d.Severity)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("report: invalid defect type %q", d.Type)
	}
	return nil
}

// SubmitFunc sends a completed draft to the backend and returns the
// created entry.
type SubmitFunc func(ctx context.Context, d Draft) (backend.Entry, error)

// ProgressFunc receives submission progress percentages. Values are
// monotonically non-decreasing and stay below 100 until the backend
// has actually answered.
type ProgressFunc func(percent int)

// Wizard drives the report flow: photo, location, details, submit.
// Steps gate on the draft being complete enough, a running submission
// locks the flow against re-entry, and a failed submission returns to
// the details step with the draft untouched so nothing the user typed
// is lost.
type Wizard struct {
	mu      sync.Mutex
	step    Step
	draft   Draft
	result  *backend.Entry
	lastErr error
	log     *zap.Logger

	// progressTick is shortened in tests.
	progressTick time.Duration
}

// NewWizard returns a wizard at the photo step with an empty draft.
func NewWizard(log *zap.Logger) *Wizard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Wizard{
		step:         StepPhoto,
		draft:        NewDraft(),
		log:          log.Named("wizard"),
		progressTick: 150 * time.Millisecond,
	}
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Draft returns a copy of the current draft.
func (w *Wizard) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft.clone()
}

// SetPhoto attaches a validated photo.
func (w *Wizard) SetPhoto(p Photo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Photo = &p
}

// SetTitle updates the draft title.
func (w *Wizard) SetTitle(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Title = title
}

// SetDescription updates the draft description.
func (w *Wizard) SetDescription(desc string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Description = desc
}

// SetSeverity updates the draft severity.
func (w *Wizard) SetSeverity(s Severity) error {
	if !s.Valid() {
		return fmt.Errorf("report: invalid severity %q", s)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Severity = s
	return nil
}

// SetDefectType updates the draft defect type.
func (w *Wizard) SetDefectType(d DefectType) error {
	if !d.Valid() {
		return fmt.Errorf("report: invalid defect type %q", d)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Type = d
	return nil
}

// SetLocation updates the draft coordinate and its display address.
// An empty address keeps whatever label was there before; callers
// that only know the position pass the coordinate fallback.
func (w *Wizard) SetLocation(c geo.Coordinate, address string) error {
	if !c.Valid() {
		return fmt.Errorf("report: invalid coordinate %s", c)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Coordinate = c
	w.draft.HasLocation = true
	if address != "" {
		w.draft.Address = address
	}
	return nil
}

// SetAddress updates only the display address, typically when a
// delayed reverse geocode settles for the current coordinate.
func (w *Wizard) SetAddress(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Address = address
}

// Next advances one step if the current step's requirement is met.
// On a gate violation the step does not change and the reason is
// returned.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepPhoto:
		if w.draft.Photo == nil {
			return ErrPhotoRequired
		}
		w.step = StepLocation
	case StepLocation:
		if !w.draft.HasLocation {
			return ErrLocationRequired
		}
		w.step = StepDetails
	case StepSubmitting:
		return ErrSubmitInFlight
	}
	return nil
}

// Back moves one step toward the photo step. At the photo step it is
// a no-op. While submitting it is refused.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepLocation:
		w.step = StepPhoto
	case StepDetails:
		w.step = StepLocation
	case StepSubmitting:
		return ErrSubmitInFlight
	}
	return nil
}

// LastError returns the most recent submission failure, if any. It is
// cleared by the next submit attempt.
func (w *Wizard) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Result returns the entry created by the last successful submission,
// if it has not been dismissed yet.
func (w *Wizard) Result() (backend.Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return backend.Entry{}, false
	}
	return *w.result, true
}

// Dismiss clears the submission result.
func (w *Wizard) Dismiss() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.result = nil
}

// Submit sends the draft through send. Exactly one submission can run
// at a time; a second call while one is in flight fails immediately
// with ErrSubmitInFlight and does not disturb the running one.
//
// While waiting for the backend the progress callback is fed a
// simulated ramp that never reaches 100; the jump to 100 happens only
// on a real success. On failure the wizard returns to the details
// step with the draft intact and the error is both returned and kept
// for LastError.
func (w *Wizard) Submit(ctx context.Context, send SubmitFunc, progress ProgressFunc) (backend.Entry, error) {
	w.mu.Lock()
	if w.step == StepSubmitting {
		w.mu.Unlock()
		return backend.Entry{}, ErrSubmitInFlight
	}
	if w.step != StepDetails {
		w.mu.Unlock()
		return backend.Entry{}, ErrNotAtDetails
	}
	if err := w.draft.validate(); err != nil {
		w.mu.Unlock()
		return backend.Entry{}, err
	}
	w.step = StepSubmitting
	w.lastErr = nil
	snapshot := w.draft.clone()
	tick := w.progressTick
	w.mu.Unlock()

	done := make(chan struct{})
	var ramp sync.WaitGroup
	if progress != nil {
		progress(5)
		ramp.Add(1)
		go func() {
			defer ramp.Done()
			pct := 5
			t := time.NewTicker(tick)
			defer t.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.C:
					if pct < 90 {
						pct += 5
						progress(pct)
					}
				}
			}
		}()
	}

	entry, err := send(ctx, snapshot)

	close(done)
	ramp.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.step = StepDetails
		w.lastErr = err
		w.log.Warn("submission failed", zap.Error(err))
		return backend.Entry{}, err
	}

	if progress != nil {
		progress(100)
	}
	w.result = &entry
	w.draft = NewDraft()
	w.step = StepPhoto
	w.log.Info("report submitted", zap.String("entry_id", entry.ID))
	return entry, nil
}
