package controllers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"vaccinealert/internal/delivery/http/helpers"
	"vaccinealert/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) helpers.APIResponse {
	t.Helper()
	var envelope helpers.APIResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&envelope))
	return envelope
}

// fakeCycleRunner implements domain.CycleRunner for handler tests.
type fakeCycleRunner struct {
	report     domain.CycleReport
	ctxErr     error
	latest     *domain.CycleReport
	latestErr  error
	page       domain.CycleReportPage
	historyErr error
	lastParams domain.PaginationParams
}

func (f *fakeCycleRunner) RunNow(ctx context.Context) domain.CycleReport {
	f.ctxErr = ctx.Err()
	return f.report
}

func (f *fakeCycleRunner) Latest(ctx context.Context) (*domain.CycleReport, error) {
	return f.latest, f.latestErr
}

func (f *fakeCycleRunner) History(ctx context.Context, params domain.PaginationParams) (domain.CycleReportPage, error) {
	f.lastParams = params
	return f.page, f.historyErr
}

// fakeOpsAuthService implements domain.OpsAuthService for handler tests.
type fakeOpsAuthService struct {
	token   string
	err     error
	lastKey string
}

func (f *fakeOpsAuthService) IssueToken(ctx context.Context, apiKey string) (string, error) {
	f.lastKey = apiKey
	return f.token, f.err
}

// fakeSubscriptionService implements domain.SubscriptionService for handler tests.
type fakeSubscriptionService struct {
	email     string
	err       error
	lastToken string
}

func (f *fakeSubscriptionService) Unsubscribe(ctx context.Context, token string) (string, error) {
	f.lastToken = token
	if f.err != nil {
		return "", f.err
	}
	return f.email, nil
}
