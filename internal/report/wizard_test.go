package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/geo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testPhoto() Photo {
	return Photo{
		ID:   "ph-1",
		Name: "crack.jpg",
		PhotoMeta: PhotoMeta{
			Format: "jpeg",
			Width:  1280,
			Height: 960,
			Bytes:  204800,
		},
	}
}

// readyWizard returns a wizard at the details step with a complete
// draft.
func readyWizard(t *testing.T) *Wizard {
	t.Helper()
	w := NewWizard(nil)
	w.SetPhoto(testPhoto())
	require.NoError(t, w.Next())
	require.NoError(t, w.SetLocation(geo.New(120.9842, 14.5995), "Quirino Avenue, Manila"))
	require.NoError(t, w.Next())
	w.SetTitle("Deep pothole near the intersection")
	w.SetDescription("Roughly half a meter wide, collects water when it rains.")
	require.NoError(t, w.SetSeverity(SeverityMajor))
	return w
}

func TestWizardStepGates(t *testing.T) {
	w := NewWizard(nil)
	assert.Equal(t, StepPhoto, w.Step())

	// No photo yet: stuck.
	assert.ErrorIs(t, w.Next(), ErrPhotoRequired)
	assert.Equal(t, StepPhoto, w.Step())

	w.SetPhoto(testPhoto())
	require.NoError(t, w.Next())
	assert.Equal(t, StepLocation, w.Step())

	// No location yet: stuck.
	assert.ErrorIs(t, w.Next(), ErrLocationRequired)
	assert.Equal(t, StepLocation, w.Step())

	require.NoError(t, w.SetLocation(geo.New(120.9842, 14.5995), ""))
	require.NoError(t, w.Next())
	assert.Equal(t, StepDetails, w.Step())

	// Next at the last input step stays put.
	require.NoError(t, w.Next())
	assert.Equal(t, StepDetails, w.Step())
}

func TestWizardBack(t *testing.T) {
	w := readyWizard(t)
	assert.Equal(t, StepDetails, w.Step())

	require.NoError(t, w.Back())
	assert.Equal(t, StepLocation, w.Step())
	require.NoError(t, w.Back())
	assert.Equal(t, StepPhoto, w.Step())
	require.NoError(t, w.Back(), "back at the first step is a no-op")
	assert.Equal(t, StepPhoto, w.Step())

	// Going back never loses draft data.
	d := w.Draft()
	assert.NotNil(t, d.Photo)
	assert.True(t, d.HasLocation)
	assert.Equal(t, "Deep pothole near the intersection", d.Title)
}

func TestWizardSetLocationKeepsAddressUntilReplaced(t *testing.T) {
	w := NewWizard(nil)

	c := geo.New(120.9900, 14.6000)
	require.NoError(t, w.SetLocation(c, c.FallbackLabel()))
	assert.Equal(t, "14.600000, 120.990000", w.Draft().Address)

	// The reverse geocode settles later and upgrades the label.
	w.SetAddress("Quirino Avenue, Paco, Manila")
	assert.Equal(t, "Quirino Avenue, Paco, Manila", w.Draft().Address)

	// A later position update without a label keeps the old text
	// until a new one settles.
	require.NoError(t, w.SetLocation(geo.New(120.991, 14.601), ""))
	assert.Equal(t, "Quirino Avenue, Paco, Manila", w.Draft().Address)
}

func TestWizardSubmitSuccess(t *testing.T) {
	w := readyWizard(t)
	w.progressTick = 5 * time.Millisecond

	var mu sync.Mutex
	var progress []int
	var sent Draft

	entry, err := w.Submit(context.Background(),
		func(ctx context.Context, d Draft) (backend.Entry, error) {
			sent = d
			time.Sleep(30 * time.Millisecond)
			return backend.Entry{ID: "e-42", Title: d.Title}, nil
		},
		func(pct int) {
			mu.Lock()
			progress = append(progress, pct)
			mu.Unlock()
		})
	require.NoError(t, err)
	assert.Equal(t, "e-42", entry.ID)

	// The submitted draft is the one the user built.
	assert.Equal(t, "Deep pothole near the intersection", sent.Title)
	assert.Equal(t, SeverityMajor, sent.Severity)
	require.NotNil(t, sent.Photo)

	// Success resets the flow and surfaces the result until
	// dismissed.
	assert.Equal(t, StepPhoto, w.Step())
	d := w.Draft()
	assert.Nil(t, d.Photo)
	assert.Empty(t, d.Title)
	assert.False(t, d.HasLocation)

	got, ok := w.Result()
	require.True(t, ok)
	assert.Equal(t, "e-42", got.ID)
	w.Dismiss()
	_, ok = w.Result()
	assert.False(t, ok)

	// Progress never decreased and stayed under 100 until the end.
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress must be monotonic")
	}
	for _, p := range progress[:len(progress)-1] {
		assert.Less(t, p, 100, "only the real response may complete the bar")
	}
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestWizardSubmitFailureKeepsDraft(t *testing.T) {
	w := readyWizard(t)
	w.progressTick = 5 * time.Millisecond

	boom := &backend.APIError{Status: 502, Message: "upstream unavailable"}
	_, err := w.Submit(context.Background(),
		func(ctx context.Context, d Draft) (backend.Entry, error) {
			return backend.Entry{}, boom
		}, nil)

	require.Error(t, err)
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)

	// Back at details with everything the user typed still there.
	assert.Equal(t, StepDetails, w.Step())
	d := w.Draft()
	assert.Equal(t, "Deep pothole near the intersection", d.Title)
	assert.Equal(t, "Roughly half a meter wide, collects water when it rains.", d.Description)
	assert.NotNil(t, d.Photo)
	assert.True(t, d.HasLocation)

	assert.ErrorAs(t, w.LastError(), &apiErr)
	_, ok := w.Result()
	assert.False(t, ok, "a failed submission must not produce a result")

	// The flow is usable again immediately.
	entry, err := w.Submit(context.Background(),
		func(ctx context.Context, d Draft) (backend.Entry, error) {
			return backend.Entry{ID: "e-43"}, nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, "e-43", entry.ID)
	assert.NoError(t, w.LastError(), "a new attempt clears the previous failure")
}

func TestWizardDoubleSubmitRejected(t *testing.T) {
	w := readyWizard(t)
	w.progressTick = 5 * time.Millisecond

	block := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		_, err := w.Submit(context.Background(),
			func(ctx context.Context, d Draft) (backend.Entry, error) {
				<-block
				return backend.Entry{ID: "e-first"}, nil
			}, nil)
		firstDone <- err
	}()

	// Wait until the first submission holds the wizard.
	require.Eventually(t, func() bool {
		return w.Step() == StepSubmitting
	}, time.Second, time.Millisecond)

	_, err := w.Submit(context.Background(),
		func(ctx context.Context, d Draft) (backend.Entry, error) {
			t.Error("second submission must never reach the backend")
			return backend.Entry{}, nil
		}, nil)
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(block)
	require.NoError(t, <-firstDone)

	got, ok := w.Result()
	require.True(t, ok)
	assert.Equal(t, "e-first", got.ID, "the first submission's result wins")
}

func TestWizardSubmitRequiresDetailsStep(t *testing.T) {
	w := NewWizard(nil)
	w.SetPhoto(testPhoto())

	_, err := w.Submit(context.Background(),
		func(ctx context.Context, d Draft) (backend.Entry, error) {
			return backend.Entry{}, nil
		}, nil)
	assert.ErrorIs(t, err, ErrNotAtDetails)
}

func TestWizardSubmitValidatesDraft(t *testing.T) {
	w := readyWizard(t)
	w.SetTitle("   ")

	_, err := w.Submit(context.Background(),
		func(ctx context.Context, d Draft) (backend.Entry, error) {
			t.Error("invalid draft must not be sent")
			return backend.Entry{}, nil
		}, nil)
	assert.ErrorIs(t, err, ErrTitleRequired)
	assert.Equal(t, StepDetails, w.Step())
}

func TestWizardBackDisabledWhileSubmitting(t *testing.T) {
	w := readyWizard(t)

	block := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background(),
			func(ctx context.Context, d Draft) (backend.Entry, error) {
				<-block
				return backend.Entry{}, errors.New("nope")
			}, nil)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return w.Step() == StepSubmitting
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, w.Back(), ErrSubmitInFlight)
	assert.ErrorIs(t, w.Next(), ErrSubmitInFlight)

	close(block)
	<-done
}
