package webui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/auth"
	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/humastar"
	"github.com/roadwatch/roadwatch/internal/report"
	"github.com/roadwatch/roadwatch/internal/service"
)

// WizardHandler drives the report wizard over SSE: photo staging, field
// edits, step navigation, and the submission itself.
type WizardHandler struct {
	humastar.Handler
	sessions *Manager
	auth     *auth.Store
	backend  *backend.Client
	photos   *service.PhotoStore
	entries  *service.EntryCache
	log      *zap.Logger
}

// NewWizardHandler creates the wizard handler.
func NewWizardHandler(sessions *Manager, renderer *humastar.Renderer, authStore *auth.Store,
	client *backend.Client, photos *service.PhotoStore, entries *service.EntryCache, log *zap.Logger) *WizardHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WizardHandler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		auth:     authStore,
		backend:  client,
		photos:   photos,
		entries:  entries,
		log:      log.Named("wizard"),
	}
}

// RegisterWizard wires the wizard routes. Auto-discovered by
// huma.AutoRegister.
func (h *WizardHandler) RegisterWizard(api huma.API) {
	huma.Post(api, "/api/v1/wizard/{sid}/photo", h.Photo, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/wizard/{sid}/field", h.Field, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/wizard/{sid}/next", h.Next, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/wizard/{sid}/back", h.Back, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/wizard/{sid}/submit", h.Submit, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/wizard/{sid}/dismiss", h.Dismiss, huma.OperationTags("ui"))
}

func (h *WizardHandler) session(id string) (*Session, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("unknown wizard session")
	}
	return sess, nil
}

type photoInput struct {
	SID     string `path:"sid" doc:"UI session ID"`
	RawBody multipart.Form
}

// Photo validates and stages an uploaded photo against the draft.
func (h *WizardHandler) Photo(ctx context.Context, input *photoInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		files := input.RawBody.File["photo"]
		if len(files) == 0 {
			sse.Error("Choose a photo of the damage first.")
			return
		}

		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			sse.Error("Reading the uploaded photo failed.")
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, report.MaxPhotoBytes+1))
		if err != nil {
			sse.Error("Reading the uploaded photo failed.")
			return
		}

		meta, err := report.ValidatePhoto(data)
		if err != nil {
			sse.Error(photoMessage(err))
			return
		}

		photo, err := h.photos.Save(fh.Filename, data, meta)
		if err != nil {
			h.log.Warn("staging photo failed", zap.Error(err))
			sse.Error("Storing the photo failed. Try again.")
			return
		}

		// Replacing a photo leaves the old staged file for the janitor;
		// the draft only ever references the newest one.
		sess.wizard.SetPhoto(photo)
		sse.Signals(map[string]any{
			"wizardphotoid":   photo.ID,
			"wizardphotoname": photo.Name,
			"wizarderror":     "",
		})
		sse.Success("Photo attached: " + photo.Name)
	}), nil
}

// Field applies draft edits from the details form signals.
func (h *WizardHandler) Field(ctx context.Context, input *sessionSignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid form data: " + err.Error())
	}

	return h.Stream(func(sse humastar.SSE) {
		if signals.Has("reporttitle") {
			sess.wizard.SetTitle(signals.String("reporttitle"))
		}
		if signals.Has("reportdescription") {
			sess.wizard.SetDescription(signals.String("reportdescription"))
		}
		if signals.Has("reportlocation") {
			sess.wizard.SetAddress(signals.String("reportlocation"))
		}
		if signals.Has("reportseverity") {
			sev, err := report.ParseSeverity(signals.String("reportseverity"))
			if err != nil {
				sse.Error("Pick a severity from the list.")
				return
			}
			sess.wizard.SetSeverity(sev)
		}
		if signals.Has("reporttype") {
			dt, err := report.ParseDefectType(signals.String("reporttype"))
			if err != nil {
				sse.Error("Pick a defect type from the list.")
				return
			}
			sess.wizard.SetDefectType(dt)
		}
	}), nil
}

// Next advances the wizard one step.
func (h *WizardHandler) Next(ctx context.Context, input *sessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		if err := sess.wizard.Next(); err != nil {
			sse.Signals(map[string]any{"wizarderror": gateMessage(err)})
			return
		}
		sse.Signals(map[string]any{
			"wizardstep":  int(sess.wizard.Step()),
			"wizarderror": "",
		})
	}), nil
}

// Back moves the wizard one step toward the photo step.
func (h *WizardHandler) Back(ctx context.Context, input *sessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		if err := sess.wizard.Back(); err != nil {
			sse.Signals(map[string]any{"wizarderror": gateMessage(err)})
			return
		}
		sse.Signals(map[string]any{
			"wizardstep":  int(sess.wizard.Step()),
			"wizarderror": "",
		})
	}), nil
}

type submitInput struct {
	SID     string `path:"sid" doc:"UI session ID"`
	Session string `cookie:"roadwatch_session" doc:"Sign-in session cookie"`
}

// Submit sends the draft to the backend, streaming progress signals
// while the upload runs. On success the created entry is patched in
// and the entry cache refreshed; on failure the wizard stays at the
// details step with everything the user typed intact.
func (h *WizardHandler) Submit(ctx context.Context, input *submitInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}

	token := ""
	if as := h.auth.Get(input.Session); as != nil {
		token = as.Token
	}

	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{
			"wizardstep":     int(report.StepSubmitting),
			"submitprogress": 0,
			"wizarderror":    "",
		})

		entry, err := sess.wizard.Submit(ctx, h.send(token), func(percent int) {
			sse.Signals(map[string]any{"submitprogress": percent})
		})
		if err != nil {
			sse.Signals(map[string]any{
				"wizardstep":     int(sess.wizard.Step()),
				"submitprogress": 0,
			})
			sse.Error(submitMessage(err))
			return
		}

		sse.Signals(map[string]any{
			"wizardstep":     int(report.StepPhoto),
			"submitprogress": 100,
			"wizardphotoid":  "",
		})
		sse.Patch(h.Renderer.MustRender("entry-card", entry), "#wizard-result")
		h.entries.Invalidate(context.Background(), service.ActionCreated, entry.ID)
	}), nil
}

// Dismiss clears the submission result card.
func (h *WizardHandler) Dismiss(ctx context.Context, input *sessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		sess.wizard.Dismiss()
		sse.Patch("", "#wizard-result")
		sse.Signals(map[string]any{"submitprogress": 0})
	}), nil
}

// send builds the SubmitFunc for one submission: staged photo bytes to
// the backend, optional defect type follow-up, staged photo cleanup.
func (h *WizardHandler) send(token string) report.SubmitFunc {
	return func(ctx context.Context, d report.Draft) (backend.Entry, error) {
		data, err := h.photos.Open(d.Photo.ID)
		if err != nil {
			return backend.Entry{}, err
		}

		entry, err := h.backend.CreateEntry(ctx, token, backend.CreateEntry{
			Title:       d.Title,
			Description: d.Description,
			Location:    d.Address,
			Coordinates: d.Coordinate,
			Severity:    string(d.Severity),
			ImageName:   d.Photo.Name,
			Image:       bytes.NewReader(data),
		})
		if err != nil {
			return backend.Entry{}, err
		}

		// The create form has no type field server-side; a user-chosen
		// classification rides a follow-up update and is best effort.
		if d.Type != "" {
			t := string(d.Type)
			if updated, err := h.backend.UpdateEntry(ctx, token, entry.ID, backend.UpdateEntry{Type: &t}); err != nil {
				h.log.Warn("setting defect type failed",
					zap.String("entry_id", entry.ID), zap.Error(err))
			} else {
				entry = updated
			}
		}

		if err := h.photos.Delete(d.Photo.ID); err != nil {
			h.log.Warn("removing staged photo failed",
				zap.String("photo_id", d.Photo.ID), zap.Error(err))
		}
		return entry, nil
	}
}

// gateMessage maps wizard gate errors to user-facing text.
func gateMessage(err error) string {
	switch {
	case errors.Is(err, report.ErrPhotoRequired):
		return "Add a photo of the damage before continuing."
	case errors.Is(err, report.ErrLocationRequired):
		return "Pick the location on the map before continuing."
	case errors.Is(err, report.ErrTitleRequired):
		return "Give the report a short title before submitting."
	case errors.Is(err, report.ErrSubmitInFlight):
		return "Hang on, your report is still being submitted."
	case errors.Is(err, report.ErrNotAtDetails):
		return "Complete the earlier steps first."
	default:
		return "That step is not available right now."
	}
}

// submitMessage maps submission failures to user-facing text.
func submitMessage(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 401, 403:
			return "Sign in to submit your report."
		default:
			if apiErr.Message != "" {
				return apiErr.Message
			}
			return "The server rejected the report. Try again."
		}
	}
	if errors.Is(err, report.ErrPhotoRequired) || errors.Is(err, report.ErrLocationRequired) ||
		errors.Is(err, report.ErrTitleRequired) || errors.Is(err, report.ErrSubmitInFlight) ||
		errors.Is(err, report.ErrNotAtDetails) {
		return gateMessage(err)
	}
	return "Submitting your report failed. Check your connection and try again."
}

// photoMessage strips the wrapped detail off photo validation errors;
// the sentinel text is already user-facing.
func photoMessage(err error) string {
	switch {
	case errors.Is(err, report.ErrPhotoTooLarge):
		return report.ErrPhotoTooLarge.Error()
	case errors.Is(err, report.ErrPhotoBounds):
		return report.ErrPhotoBounds.Error()
	case errors.Is(err, report.ErrPhotoFormat):
		return report.ErrPhotoFormat.Error()
	default:
		return "That photo cannot be used."
	}
}
