// Package voice implements the two-leg phone call flow: prompt an
// authorized caller for a digit, then unlock the configured door when
// they press 1. Each leg re-checks the request signature and the caller
// allow-list; nothing is remembered between legs.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowpbx/gatebridge/internal/callers"
	"github.com/flowpbx/gatebridge/internal/database/models"
	"github.com/flowpbx/gatebridge/internal/phone"
	"github.com/flowpbx/gatebridge/internal/twilio"
	"github.com/flowpbx/gatebridge/internal/unifi"
)

// Canonical webhook paths.
const (
	InitialPath = "/voice/initial"
	ConfirmPath = "/voice/confirm"

	// Paths used by earlier deployments; still accepted.
	LegacyInitialPath = "/twilio/voice"
	LegacyConfirmPath = "/twilio/voice/confirm"
)

// UnlockSource tags unlocks made by this service in the controller's
// audit trail.
const UnlockSource = "telephony"

// MaxBodyBytes caps the form body read from the provider.
const MaxBodyBytes = 64 << 10

// LedgerWriteTimeout bounds the ledger writes made after a response has
// been sent.
const LedgerWriteTimeout = 2 * time.Second

// Spoken messages.
const (
	MsgNotFound      = "Not found."
	MsgVerifyFailed  = "Unable to verify access right now. Please try again."
	MsgUnauthorized  = "This incoming number is not authorized for this gate."
	MsgPrompt        = "Press 1 now to open the gate."
	MsgInvalidDigit  = "Invalid selection. Goodbye."
	MsgGateOpen      = "The gate is now open."
	MsgUnlockFailed  = "Unable to open the gate right now. Please try again."
	confirmDigit     = "1"
	emptyDigitDetail = "empty"
)

// Leg identifies which half of the call flow a request belongs to.
type Leg int

const (
	LegInitial Leg = iota
	LegConfirm
)

func (l Leg) String() string {
	if l == LegConfirm {
		return "confirm"
	}
	return "initial"
}

// DoorController resolves and unlocks doors.
type DoorController interface {
	FindDoorID(ctx context.Context, name string) (string, error)
	Unlock(ctx context.Context, doorID string, opts unifi.UnlockOptions) (map[string]any, error)
}

// Recorder appends ledger events.
type Recorder interface {
	Record(ctx context.Context, kind, detail, caller, callSID string) error
}

// Settings is the immutable per-process configuration of the flow.
type Settings struct {
	AuthToken          string
	PublicBaseURL      string
	Voice              string
	AllowedCallersFile string
	DoorName           string
	ActorID            string
	ActorName          string
}

// Handler serves both legs of the call flow.
type Handler struct {
	settings      Settings
	doors         DoorController
	ledger        Recorder
	logger        *slog.Logger
	loadCallers   func(path string) ([]callers.AllowedCaller, error)
	ledgerTimeout time.Duration
}

// pendingEvent is a ledger event held back until the response is out.
type pendingEvent struct {
	kind, detail, caller, callSID string
}

// NewHandler creates a call-flow handler.
func NewHandler(settings Settings, doors DoorController, ledger Recorder, logger *slog.Logger) *Handler {
	if settings.Voice == "" {
		settings.Voice = twilio.DefaultVoice
	}
	settings.PublicBaseURL = strings.TrimRight(settings.PublicBaseURL, "/")
	return &Handler{
		settings:      settings,
		doors:         doors,
		ledger:        ledger,
		logger:        logger.With("subsystem", "voice"),
		loadCallers:   callers.Load,
		ledgerTimeout: LedgerWriteTimeout,
	}
}

// Initial handles the first webhook of a call.
func (h *Handler) Initial(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, LegInitial)
}

// Confirm handles the digit submitted by the gather prompt.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, LegConfirm)
}

// NotFound answers unknown webhook paths with spoken markup so the
// provider can end the call cleanly.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.say(w, http.StatusNotFound, MsgNotFound)
}

// EnabledCallers reports the number of enabled allow-list entries.
func (h *Handler) EnabledCallers() (int, error) {
	list, err := h.loadCallers(h.settings.AllowedCallersFile)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range list {
		if c.Enabled {
			n++
		}
	}
	return n, nil
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, leg Leg) {
	// Ledger writes and the unlock must finish even if the provider hangs up.
	ctx := context.WithoutCancel(r.Context())

	// Events are written only after the response has been flushed, so a
	// slow ledger never delays what the caller hears.
	var events []pendingEvent
	record := func(kind, detail, caller, callSID string) {
		events = append(events, pendingEvent{kind, detail, caller, callSID})
	}
	defer func() { h.recordAfterResponse(ctx, w, events) }()

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("unreadable webhook body", "path", r.URL.Path, "error", err)
		writePlain(w, http.StatusBadRequest, "bad request")
		return
	}
	form := r.PostForm

	requestURL := twilio.PublicURL(h.settings.PublicBaseURL, r.URL.Path, r.URL.RawQuery)
	if !twilio.Verify(r.Header.Get(twilio.SignatureHeader), requestURL, form, h.settings.AuthToken) {
		h.logger.Warn("rejected webhook with invalid signature",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		record(models.EventSignatureInvalid, r.URL.Path, "", "")
		writePlain(w, http.StatusForbidden, "forbidden")
		return
	}

	from := phone.Normalize(form.Get("From"))
	callSID := form.Get("CallSid")
	record(models.EventTwilioRequest, r.URL.Path, from, callSID)

	list, err := h.loadCallers(h.settings.AllowedCallersFile)
	if err != nil {
		h.logger.Error("failed to load allowed callers", "error", err)
		record(models.EventAllowedCallersError, err.Error(), from, callSID)
		h.say(w, http.StatusOK, MsgVerifyFailed)
		return
	}

	caller, ok := callers.Find(form.Get("From"), list)
	if !ok {
		h.logger.Info("caller not on allow-list",
			"leg", leg.String(),
			"caller", from,
			"call_sid", callSID,
		)
		record(models.EventCallerBlocked, "", from, callSID)
		h.say(w, http.StatusOK, MsgUnauthorized)
		return
	}

	if leg == LegInitial {
		record(models.EventCallerPrompted, caller.Name, from, callSID)
		body, err := twilio.Gather(MsgPrompt, h.settings.PublicBaseURL+ConfirmPath, h.settings.Voice)
		if err != nil {
			h.renderFailed(w, err)
			return
		}
		writeXML(w, http.StatusOK, body)
		return
	}

	digit := strings.TrimSpace(form.Get("Digits"))
	if digit != confirmDigit {
		detail := digit
		if detail == "" {
			detail = emptyDigitDetail
		}
		record(models.EventInvalidDigit, detail, from, callSID)
		h.say(w, http.StatusOK, MsgInvalidDigit)
		return
	}

	doorID, err := h.unlock(ctx, caller, form.Get("From"), callSID, digit)
	if err != nil {
		stage := "unlock"
		if isResolutionError(err) {
			stage = "resolve"
		}
		h.logger.Error("gate unlock failed",
			"stage", stage,
			"caller", from,
			"call_sid", callSID,
			"error", err,
		)
		record(models.EventUnlockFailed, err.Error(), from, callSID)
		h.say(w, http.StatusOK, MsgUnlockFailed)
		return
	}

	h.logger.Info("gate unlocked",
		"door_id", doorID,
		"caller", from,
		"caller_name", caller.Name,
		"call_sid", callSID,
	)
	record(models.EventUnlockSuccess, doorID, from, callSID)
	h.say(w, http.StatusOK, MsgGateOpen)
}

func (h *Handler) unlock(ctx context.Context, caller callers.AllowedCaller, from, callSID, digit string) (string, error) {
	doorID, err := h.doors.FindDoorID(ctx, h.settings.DoorName)
	if err != nil {
		return "", err
	}
	_, err = h.doors.Unlock(ctx, doorID, unifi.UnlockOptions{
		ActorID:   h.settings.ActorID,
		ActorName: h.settings.ActorName,
		Extra: map[string]any{
			"source":      UnlockSource,
			"from":        from,
			"call_sid":    callSID,
			"digit":       digit,
			"caller_name": caller.Name,
		},
	})
	if err != nil {
		return "", err
	}
	return doorID, nil
}

// recordAfterResponse flushes the response and then writes events in
// order under one deadline. Failures are logged and dropped.
func (h *Handler) recordAfterResponse(ctx context.Context, w http.ResponseWriter, events []pendingEvent) {
	if len(events) == 0 {
		return
	}
	if err := http.NewResponseController(w).Flush(); err != nil {
		h.logger.Debug("response not flushed before ledger write", "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.ledgerTimeout)
	defer cancel()
	for _, e := range events {
		if err := h.ledger.Record(ctx, e.kind, e.detail, e.caller, e.callSID); err != nil {
			h.logger.Error("failed to record activity event", "kind", e.kind, "error", err)
		}
	}
}

func (h *Handler) say(w http.ResponseWriter, status int, message string) {
	body, err := twilio.Say(message, h.settings.Voice)
	if err != nil {
		h.renderFailed(w, err)
		return
	}
	writeXML(w, status, body)
}

func (h *Handler) renderFailed(w http.ResponseWriter, err error) {
	h.logger.Error("failed to render twiml", "error", err)
	writePlain(w, http.StatusInternalServerError, "internal server error")
}

// Responses carry an explicit length so the client sees a complete reply
// once flushed, while ledger writes are still running.
func writeXML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write([]byte(body)) //nolint:errcheck
}

// isResolutionError reports whether err came from matching the door name
// rather than from talking to the controller.
func isResolutionError(err error) bool {
	var amb *unifi.AmbiguousDoorError
	return errors.Is(err, unifi.ErrDoorNotFound) || errors.As(err, &amb)
}
