package cowin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"vaccinealert/internal/domain"
)

const (
	// DefaultBaseURL is the public appointment API.
	DefaultBaseURL = "https://cdn-api.co-vin.in/api"

	calendarByPinPath      = "/v2/appointment/sessions/public/calendarByPin"
	calendarByDistrictPath = "/v2/appointment/sessions/public/calendarByDistrict"
	dateLayout             = "02-01-2006"
	maxBodyBytes           = 8 << 20
	maxLoggedBody          = 512
)

// Config holds settings for the calendar client.
type Config struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds one calendar request. Zero leaves it to the caller's context.
	Timeout time.Duration
	// TimeZone decides which calendar day a fetch time falls on.
	TimeZone *time.Location
}

type calendarResponse struct {
	Centers []domain.Center `json:"centers"`
}

// errBodyTooLarge is returned when a calendar response exceeds maxBody.
var errBodyTooLarge = errors.New("calendar response too large")

type calendarFetcher struct {
	client  *http.Client
	cfg     Config
	logger  *slog.Logger
	maxBody int64
}

// NewCalendarFetcher returns a fetcher that calls the public calendar API.
func NewCalendarFetcher(client *http.Client, cfg Config, logger *slog.Logger) domain.AvailabilityFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TimeZone == nil {
		cfg.TimeZone = time.UTC
	}
	return &calendarFetcher{client: client, cfg: cfg, logger: logger, maxBody: maxBodyBytes}
}

func (f *calendarFetcher) FetchByLocation(ctx context.Context, loc domain.Location, date time.Time) (domain.AvailabilitySnapshot, error) {
	day := date.In(f.cfg.TimeZone).Format(dateLayout)
	endpoint, err := f.calendarURL(loc, day)
	if err != nil {
		return domain.AvailabilitySnapshot{}, &domain.FetchError{Location: loc, Kind: domain.FetchInternalError, Err: err}
	}

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.AvailabilitySnapshot{}, &domain.FetchError{Location: loc, Kind: domain.FetchInternalError, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	f.logger.DebugContext(ctx, "API_REQUEST", "request_id", requestID, "method", req.Method, "url", endpoint)
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		kind := classify(err)
		f.logger.WarnContext(ctx, "API_RESPONSE",
			"request_id", requestID,
			"url", endpoint,
			"duration", time.Since(start),
			"kind", string(kind),
			"err", err,
		)
		return domain.AvailabilitySnapshot{}, &domain.FetchError{Location: loc, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		kind := classify(err)
		return domain.AvailabilitySnapshot{}, &domain.FetchError{Location: loc, Kind: kind, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBody {
		f.logger.WarnContext(ctx, "API_RESPONSE",
			"request_id", requestID,
			"url", endpoint,
			"status", resp.StatusCode,
			"duration", time.Since(start),
			"limit_bytes", f.maxBody,
		)
		return domain.AvailabilitySnapshot{}, &domain.FetchError{
			Location:   loc,
			Kind:       domain.FetchInternalError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: over %d bytes", errBodyTooLarge, f.maxBody),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.WarnContext(ctx, "API_RESPONSE",
			"request_id", requestID,
			"url", endpoint,
			"status", resp.StatusCode,
			"duration", time.Since(start),
			"body", truncate(string(body), maxLoggedBody),
		)
		return domain.AvailabilitySnapshot{}, &domain.FetchError{
			Location:   loc,
			Kind:       domain.FetchUpstreamStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("calendar api returned status: %d", resp.StatusCode),
		}
	}
	f.logger.DebugContext(ctx, "API_RESPONSE",
		"request_id", requestID,
		"url", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	var data calendarResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.AvailabilitySnapshot{}, &domain.FetchError{Location: loc, Kind: domain.FetchInternalError, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode calendar response: %w", err)}
	}
	return domain.AvailabilitySnapshot{Location: loc, Date: day, Centers: data.Centers}, nil
}

func (f *calendarFetcher) calendarURL(loc domain.Location, day string) (string, error) {
	if loc.IsZero() {
		return "", errors.New("empty location")
	}
	q := url.Values{}
	var path string
	switch loc.Kind {
	case domain.LocationDistrict:
		path = calendarByDistrictPath
		q.Set("district_id", loc.Code)
	case domain.LocationPincode, "":
		path = calendarByPinPath
		q.Set("pincode", loc.Code)
	default:
		return "", fmt.Errorf("unsupported location kind %q", loc.Kind)
	}
	q.Set("date", day)
	return f.cfg.BaseURL + path + "?" + q.Encode(), nil
}

// classify maps a transport error to a fetch error kind.
func classify(err error) domain.FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FetchGatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FetchGatewayTimeout
	}
	return domain.FetchInternalError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
