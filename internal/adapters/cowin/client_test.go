package cowin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaccinealert/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const calendarJSON = `{
  "centers": [
    {
      "center_id": 561660,
      "name": "UPHC Sector 5",
      "address": "Main Road",
      "district_name": "New Delhi",
      "pincode": 110001,
      "fee_type": "Free",
      "sessions": [
        {"session_id": "a1", "date": "10-05-2021", "available_capacity": 12, "min_age_limit": 18, "vaccine": "COVISHIELD", "slots": ["09:00AM-11:00AM"]},
        {"session_id": "a2", "date": "11-05-2021", "available_capacity": 0, "vaccine": "COVAXIN"}
      ]
    }
  ]
}`

func TestCalendarFetcher_FetchByLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on 9 May is already 10 May in IST.
	at := time.Date(2021, 5, 9, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		location  domain.Location
		wantPath  string
		wantQuery map[string]string
	}{
		{
			name:      "pincode",
			location:  domain.PincodeLocation("110001"),
			wantPath:  calendarByPinPath,
			wantQuery: map[string]string{"pincode": "110001", "date": "10-05-2021"},
		},
		{
			name:      "district",
			location:  domain.DistrictLocation("141"),
			wantPath:  calendarByDistrictPath,
			wantQuery: map[string]string{"district_id": "141", "date": "10-05-2021"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq *http.Request
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotReq = r
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, calendarJSON)
			}))
			defer srv.Close()

			f := NewCalendarFetcher(srv.Client(), Config{BaseURL: srv.URL + "/", UserAgent: "vaccinealert-test", TimeZone: ist}, discardLogger())
			snap, err := f.FetchByLocation(context.Background(), tt.location, at)
			require.NoError(t, err)

			require.NotNil(t, gotReq)
			assert.Equal(t, tt.wantPath, gotReq.URL.Path)
			for k, v := range tt.wantQuery {
				assert.Equal(t, v, gotReq.URL.Query().Get(k), k)
			}
			assert.Equal(t, "vaccinealert-test", gotReq.Header.Get("User-Agent"))
			assert.NotEmpty(t, gotReq.Header.Get("X-Request-Id"))

			assert.Equal(t, tt.location, snap.Location)
			assert.Equal(t, "10-05-2021", snap.Date)
			require.Len(t, snap.Centers, 1)
			c := snap.Centers[0]
			assert.Equal(t, 561660, c.CenterID)
			assert.Equal(t, 110001, c.Pincode)
			require.Len(t, c.Sessions, 2)
			assert.Equal(t, 18, c.Sessions[0].MinAge())
			assert.Equal(t, domain.DefaultMinAgeLimit, c.Sessions[1].MinAge())
			assert.Equal(t, []string{"09:00AM-11:00AM"}, c.Sessions[0].Slots)
		})
	}
}

func TestCalendarFetcher_failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		timeout    time.Duration
		wantKind   domain.FetchErrorKind
		wantStatus int
	}{
		{
			name: "upstream status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "rate limited", http.StatusForbidden)
			},
			wantKind:   domain.FetchUpstreamStatus,
			wantStatus: http.StatusForbidden,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"centers": [`)
			},
			wantKind:   domain.FetchInternalError,
			wantStatus: http.StatusOK,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout:  50 * time.Millisecond,
			wantKind: domain.FetchGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := NewCalendarFetcher(srv.Client(), Config{BaseURL: srv.URL, Timeout: tt.timeout}, discardLogger())
			_, err := f.FetchByLocation(context.Background(), domain.PincodeLocation("110001"), time.Now())

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrFetchFailure)
			var fe *domain.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantKind, fe.Kind)
			assert.Equal(t, tt.wantStatus, fe.StatusCode)
			assert.Equal(t, "110001", fe.Location.Code)
		})
	}
}

func TestCalendarFetcher_response_too_large(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"centers": []}`+strings.Repeat(" ", 64))
	}))
	defer srv.Close()

	f := NewCalendarFetcher(srv.Client(), Config{BaseURL: srv.URL}, discardLogger())
	f.(*calendarFetcher).maxBody = 32
	_, err := f.FetchByLocation(context.Background(), domain.PincodeLocation("110001"), time.Now())

	require.ErrorIs(t, err, errBodyTooLarge)
	assert.ErrorIs(t, err, domain.ErrFetchFailure)
	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, domain.FetchInternalError, fe.Kind)
	assert.Equal(t, http.StatusOK, fe.StatusCode)

	f.(*calendarFetcher).maxBody = 1024
	_, err = f.FetchByLocation(context.Background(), domain.PincodeLocation("110001"), time.Now())
	require.NoError(t, err)
}

func TestCalendarFetcher_connection_refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()
	ln.Close()

	f := NewCalendarFetcher(nil, Config{BaseURL: base, Timeout: time.Second}, discardLogger())
	_, err = f.FetchByLocation(context.Background(), domain.PincodeLocation("110001"), time.Now())

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, domain.FetchInternalError, fe.Kind)
}

func TestCalendarFetcher_empty_location(t *testing.T) {
	f := NewCalendarFetcher(nil, Config{}, discardLogger())
	_, err := f.FetchByLocation(context.Background(), domain.Location{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrFetchFailure)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, domain.FetchGatewayTimeout, classify(context.DeadlineExceeded))
	assert.Equal(t, domain.FetchInternalError, classify(errors.New("connection reset")))
}
