package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/stylistio/tryon-backend/internal/types"
)

// Failure codes minted by the view builder itself (on top of stored
// error reasons and validator codes).
const (
	FailureCodeMissingResult  = "missing_result"
	FailureCodeUnknownFailure = "unknown_failure"
	FailureCodeExpired        = "expired"
)

// Suggested actions attached to failure contexts.
const (
	FailureActionRetry          = "retry"
	FailureActionContactSupport = "contact_support"
	FailureActionReupload       = "re_upload"
)

type StatusStep struct {
	Status    string     `json:"status"`
	Label     string     `json:"label"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Completed bool       `json:"completed"`
	Current   bool       `json:"current"`
}

type StatusActions struct {
	CanViewResult  bool `json:"can_view_result"`
	CanDownload    bool `json:"can_download"`
	CanRetry       bool `json:"can_retry"`
	CanRate        bool `json:"can_rate"`
	CanKeepWorking bool `json:"can_keep_working"`
}

type FailureContext struct {
	Code    string   `json:"code"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Actions []string `json:"actions"`
}

type StatusView struct {
	ID          uuid.UUID       `json:"id"`
	Status      string          `json:"status"`
	RawStatus   string          `json:"raw_status"`
	Label       string          `json:"label"`
	Timeline    []StatusStep    `json:"timeline"`
	Actions     StatusActions   `json:"actions"`
	Failure     *FailureContext `json:"failure,omitempty"`
	ResultURL   string          `json:"result_url,omitempty"`
	PersonaURL  string          `json:"persona_url,omitempty"`
	GarmentURL  string          `json:"garment_url,omitempty"`
	Rating      *int            `json:"rating,omitempty"`
	ETATargetAt *time.Time      `json:"eta_target_at,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// BuildOptions carries everything the builder needs beyond the record
// itself. Now is the evaluation clock; tests inject it, callers pass
// time.Now().
type BuildOptions struct {
	Now            time.Time
	ResultURL      string
	PersonaURL     string
	GarmentURL     string
	LiveETASeconds int
}

var statusLabels = map[string]string{
	types.GenerationStatusQueued:     "Waiting in line",
	types.GenerationStatusProcessing: "Generating your look",
	types.GenerationStatusSucceeded:  "Ready",
	types.GenerationStatusFailed:     "Something went wrong",
	types.GenerationStatusExpired:    "Expired",
}

type failureMessage struct {
	Title   string
	Message string
	Actions []string
}

// Fixed, non-technical messages per failure code. Unknown codes fall back to
// the generic entry with a support action.
var failureCatalog = map[string]failureMessage{
	FailureCodeExpired: {
		Title:   "This try-on has expired",
		Message: "Generated images are kept for a limited time. Start a new try-on to see this look again.",
		Actions: []string{FailureActionRetry},
	},
	FailureCodeMissingResult: {
		Title:   "Result unavailable",
		Message: "The try-on finished but the image could not be found. Please try again.",
		Actions: []string{FailureActionRetry, FailureActionContactSupport},
	},
	"quota_exhausted": {
		Title:   "No free try-ons left",
		Message: "You have used all your free generations for this period.",
		Actions: []string{FailureActionContactSupport},
	},
	"vertex_failure": {
		Title:   "The stylist is unavailable",
		Message: "The render service could not take the job. Please try again in a moment.",
		Actions: []string{FailureActionRetry},
	},
	ValidationCodeUnsupportedMime: {
		Title:   "Unsupported image",
		Message: "That file type is not supported. Upload a PNG, JPEG or WebP image.",
		Actions: []string{FailureActionReupload},
	},
	ValidationCodeBelowMinResolution: {
		Title:   "Image too small",
		Message: "The garment photo is too low-resolution to produce a good result.",
		Actions: []string{FailureActionReupload},
	},
	FailureCodeUnknownFailure: {
		Title:   "Something went wrong",
		Message: "The try-on could not be completed. Please try again.",
		Actions: []string{FailureActionRetry, FailureActionContactSupport},
	},
}

// BuildStatusView maps a generation record into the presentation view model.
// Pure: the only clock is opts.Now, so expiry enforcement happens on every
// read, not just at the moment of expiry.
func BuildStatusView(gen *types.Generation, opts BuildOptions) *StatusView {
	if gen == nil {
		return nil
	}

	raw := gen.Status
	effective := normalizeStatus(raw)
	failureCode := ""

	// Expiry wins over everything; the row is not swept proactively.
	if !gen.ExpiresAt.IsZero() && !opts.Now.Before(gen.ExpiresAt) {
		effective = types.GenerationStatusExpired
	}

	switch effective {
	case types.GenerationStatusSucceeded:
		if gen.ResultPath == nil || *gen.ResultPath == "" {
			// Integrity guard: a success without a result is a failure.
			effective = types.GenerationStatusFailed
			failureCode = FailureCodeMissingResult
		}
	case types.GenerationStatusFailed:
		if gen.ErrorReason != nil && *gen.ErrorReason != "" {
			failureCode = *gen.ErrorReason
		} else {
			failureCode = FailureCodeUnknownFailure
		}
	}
	if effective == types.GenerationStatusExpired {
		failureCode = FailureCodeExpired
	}

	view := &StatusView{
		ID:         gen.ID,
		Status:     effective,
		RawStatus:  raw,
		Label:      statusLabels[effective],
		Timeline:   buildTimeline(gen, effective),
		Actions:    deriveActions(effective, failureCode, opts.ResultURL),
		ResultURL:  resultURLFor(effective, opts.ResultURL),
		PersonaURL: opts.PersonaURL,
		GarmentURL: opts.GarmentURL,
		Rating:     gen.Rating,
		ExpiresAt:  gen.ExpiresAt,
	}

	if failureCode != "" {
		view.Failure = resolveFailure(failureCode)
	}

	view.ETATargetAt = computeETATarget(gen, effective, opts)

	return view
}

// Unrecognized or missing statuses are coerced to failed, never to success.
func normalizeStatus(raw string) string {
	switch raw {
	case types.GenerationStatusQueued,
		types.GenerationStatusProcessing,
		types.GenerationStatusSucceeded,
		types.GenerationStatusFailed,
		types.GenerationStatusExpired:
		return raw
	default:
		return types.GenerationStatusFailed
	}
}

func resolveFailure(code string) *FailureContext {
	msg, ok := failureCatalog[code]
	if !ok {
		msg = failureCatalog[FailureCodeUnknownFailure]
	}
	return &FailureContext{
		Code:    code,
		Title:   msg.Title,
		Message: msg.Message,
		Actions: msg.Actions,
	}
}

func deriveActions(effective, failureCode, resultURL string) StatusActions {
	switch effective {
	case types.GenerationStatusQueued, types.GenerationStatusProcessing:
		return StatusActions{CanKeepWorking: true}
	case types.GenerationStatusSucceeded:
		return StatusActions{
			CanViewResult: true,
			CanDownload:   resultURL != "",
			CanRate:       true,
		}
	case types.GenerationStatusFailed:
		return StatusActions{CanRetry: failureCode != "quota_exhausted"}
	case types.GenerationStatusExpired:
		return StatusActions{CanRetry: true}
	default:
		return StatusActions{}
	}
}

func resultURLFor(effective, resultURL string) string {
	if effective != types.GenerationStatusSucceeded {
		return ""
	}
	return resultURL
}

func buildTimeline(gen *types.Generation, effective string) []StatusStep {
	terminal := types.GenerationStatusSucceeded
	if types.TerminalStatus(effective) {
		terminal = effective
	}

	order := []string{types.GenerationStatusQueued, types.GenerationStatusProcessing, terminal}
	effectiveIdx := timelineIndex(effective)

	steps := make([]StatusStep, 0, len(order))
	for i, s := range order {
		step := StatusStep{
			Status:    s,
			Label:     statusLabels[s],
			Timestamp: stepTimestamp(gen, s),
			Completed: i < effectiveIdx || (i == effectiveIdx && types.TerminalStatus(effective)),
			Current:   i == effectiveIdx,
		}
		steps = append(steps, step)
	}
	return steps
}

func timelineIndex(effective string) int {
	switch effective {
	case types.GenerationStatusQueued:
		return 0
	case types.GenerationStatusProcessing:
		return 1
	default:
		return 2
	}
}

func stepTimestamp(gen *types.Generation, status string) *time.Time {
	switch status {
	case types.GenerationStatusQueued:
		t := gen.CreatedAt
		if t.IsZero() {
			return nil
		}
		return &t
	case types.GenerationStatusProcessing:
		return gen.StartedAt
	case types.GenerationStatusSucceeded, types.GenerationStatusFailed:
		return gen.CompletedAt
	case types.GenerationStatusExpired:
		t := gen.ExpiresAt
		if t.IsZero() {
			return nil
		}
		return &t
	default:
		return nil
	}
}

// computeETATarget: predicted target is createdAt+eta; a terminal record
// prefers the actual completion time; a hard expiry earlier than the
// prediction wins, so the countdown never promises completion after the
// data is gone.
func computeETATarget(gen *types.Generation, effective string, opts BuildOptions) *time.Time {
	etaSeconds := gen.ETASeconds
	if opts.LiveETASeconds > 0 {
		etaSeconds = opts.LiveETASeconds
	}

	var target *time.Time
	if etaSeconds > 0 && !gen.CreatedAt.IsZero() {
		t := gen.CreatedAt.Add(time.Duration(etaSeconds) * time.Second)
		target = &t
	}

	if types.TerminalStatus(effective) && gen.CompletedAt != nil {
		target = gen.CompletedAt
	}

	if target != nil && !gen.ExpiresAt.IsZero() && gen.ExpiresAt.Before(*target) {
		t := gen.ExpiresAt
		target = &t
	}
	return target
}
