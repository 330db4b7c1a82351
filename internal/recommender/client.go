package recommender

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/config"
	"github.com/carefront/platform/internal/shared/metrics"
	"github.com/carefront/platform/internal/shared/types"
)

const defaultTimeout = 25 * time.Second

// request is the body sent to the recommender
type request struct {
	Patient          domain.PatientProfile `json:"patient"`
	AvailableNurses  []staffRef            `json:"availableNurses"`
	AvailableDoctors []staffRef            `json:"availableDoctors"`
	AvailableBeds    []bedRef              `json:"availableBeds"`
}

type staffRef struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Availability   string `json:"availability"`
}

type bedRef struct {
	ID           string `json:"id"`
	BedNumber    int    `json:"bed_number"`
	Floor        int    `json:"floor"`
	Type         string `json:"type"`
	Availability string `json:"availability"`
}

var slotFields = []struct {
	slot domain.Slot
	key  string
}{
	{domain.SlotNurse, "recommended_nurse_id"},
	{domain.SlotDoctor, "recommended_doctor_id"},
	{domain.SlotBed, "recommended_bed_id"},
}

// Client calls the external recommender over HTTP
type Client struct {
	httpClient *resty.Client
	path       string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a recommender client
func NewClient(cfg config.RecommenderConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	path := cfg.Path
	if path == "" {
		path = "/admission/recommend"
	}

	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		httpClient: httpClient,
		path:       path,
		timeout:    timeout,
		limiter:    limiter,
		logger:     logger,
	}
}

// Recommend asks the recommender for an assignment. pool should contain
// only available resources. Every failure is folded into the Result.
// The timeout bounds the whole call, limiter wait and retries included.
func (c *Client) Recommend(ctx context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) Result {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx); err != nil {
		if reason, ok := c.expired(ctx, callCtx); ok {
			return unavailable(reason, err)
		}
		return unavailable("rate_limited", err)
	}

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(callCtx).
		SetBody(buildRequest(profile, pool)).
		Post(c.path)
	metrics.RecordRecommenderCall(time.Since(start))

	if err != nil {
		if reason, ok := c.expired(ctx, callCtx); ok {
			return unavailable(reason, err)
		}
		return unavailable("transport", fmt.Errorf("recommender call failed: %w", err))
	}
	if resp.StatusCode() >= 300 || resp.StatusCode() < 200 {
		return unavailable("http_status", fmt.Errorf("recommender returned status %d", resp.StatusCode()))
	}

	decision, err := parseDecision(patientID, resp.Body())
	if err != nil {
		return malformed("invalid_body", err)
	}

	c.logger.Debug("Recommendation received",
		zap.String("patient_id", patientID.String()),
		zap.Duration("duration", time.Since(start)),
	)
	return Result{Kind: Ok, Decision: decision}
}

// expired tells a caller cancellation apart from the call running out of time
func (c *Client) expired(ctx, callCtx context.Context) (string, bool) {
	switch {
	case ctx.Err() != nil:
		return "cancelled", true
	case callCtx.Err() != nil:
		return "timeout", true
	}
	return "", false
}

func buildRequest(profile domain.PatientProfile, pool domain.Pool) request {
	req := request{
		Patient:          profile,
		AvailableNurses:  staffRefs(pool.Nurses),
		AvailableDoctors: staffRefs(pool.Doctors),
		AvailableBeds:    make([]bedRef, 0, len(pool.Beds)),
	}
	if req.Patient.Allergies == nil {
		req.Patient.Allergies = []string{}
	}
	for _, b := range pool.Beds {
		req.AvailableBeds = append(req.AvailableBeds, bedRef{
			ID:           b.ID,
			BedNumber:    b.BedNumber,
			Floor:        b.Floor,
			Type:         string(b.BedType),
			Availability: string(b.Availability),
		})
	}
	return req
}

func staffRefs(in []domain.Resource) []staffRef {
	out := make([]staffRef, 0, len(in))
	for _, r := range in {
		out = append(out, staffRef{
			ID:             r.ID,
			Name:           r.Name,
			Specialization: r.Specialization,
			Availability:   string(r.Availability),
		})
	}
	return out
}

// parseDecision validates the three slot fields. Each must be present and
// either a string or null; reasoning is optional.
func parseDecision(patientID types.ID, body []byte) (*domain.Decision, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("response is null")
	}

	var reasoning string
	if raw, ok := fields["reasoning"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &reasoning); err != nil {
			return nil, fmt.Errorf("reasoning is not a string")
		}
	}

	d := domain.NewDecision(patientID, domain.SourceExternalAI, reasoning)
	for _, f := range slotFields {
		raw, ok := fields[f.key]
		if !ok {
			return nil, fmt.Errorf("missing field %s", f.key)
		}
		if string(raw) == "null" {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("field %s is not a string", f.key)
		}
		d.SetSlot(f.slot, &id)
	}
	return d, nil
}
