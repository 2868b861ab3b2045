package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vaccinealert/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fixedClock() time.Time {
	return time.Date(2021, 5, 10, 9, 0, 0, 0, time.UTC)
}

func user(email string, age int, pincode string) domain.UserRecord {
	return domain.UserRecord{Email: email, AgeYears: age, LocationCode: pincode, Active: true}
}

func openSession(capacity, minAge int) domain.Session {
	return domain.Session{SessionID: fmt.Sprintf("s-%d-%d", capacity, minAge), Date: "10-05-2021", AvailableCapacity: capacity, MinAgeLimit: &minAge}
}

// fakeRegistry is an in-memory Registry for tests.
type fakeRegistry struct {
	mu            sync.Mutex
	buckets       []domain.LocationBucket
	err           error // if set, ActiveBuckets returns this error
	recordErr     error
	deactivateErr error
	sent          map[string]int
	failed        map[string]int
	deactivated   []string
}

func newFakeRegistry(buckets ...domain.LocationBucket) *fakeRegistry {
	return &fakeRegistry{
		buckets: buckets,
		sent:    make(map[string]int),
		failed:  make(map[string]int),
	}
}

func (f *fakeRegistry) ActiveBuckets(ctx context.Context) ([]domain.LocationBucket, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.buckets, nil
}

func (f *fakeRegistry) RecordAlertSent(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.sent[email]++
	return nil
}

func (f *fakeRegistry) IncrementFailedAlert(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[email]++
	return nil
}

func (f *fakeRegistry) Deactivate(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivated = append(f.deactivated, email)
	return nil
}

// fakeFetcher returns canned snapshots keyed by location code.
type fakeFetcher struct {
	mu        sync.Mutex
	snapshots map[string]domain.AvailabilitySnapshot
	errs      map[string]error
	panicOn   string
	block     chan struct{} // if set, FetchByLocation waits for it to close
	calls     []domain.Location
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		snapshots: make(map[string]domain.AvailabilitySnapshot),
		errs:      make(map[string]error),
	}
}

func (f *fakeFetcher) withCenters(code string, centers ...domain.Center) *fakeFetcher {
	f.snapshots[code] = domain.AvailabilitySnapshot{Location: domain.PincodeLocation(code), Date: "10-05-2021", Centers: centers}
	return f
}

func (f *fakeFetcher) FetchByLocation(ctx context.Context, loc domain.Location, date time.Time) (domain.AvailabilitySnapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, loc)
	f.mu.Unlock()
	if loc.Code == f.panicOn {
		panic("fetcher exploded")
	}
	if f.block != nil {
		<-f.block
		return domain.AvailabilitySnapshot{}, &domain.FetchError{Location: loc, Kind: domain.FetchGatewayTimeout, Err: ctx.Err()}
	}
	if err, ok := f.errs[loc.Code]; ok {
		return domain.AvailabilitySnapshot{}, &domain.FetchError{Location: loc, Kind: domain.FetchInternalError, Err: err}
	}
	if snap, ok := f.snapshots[loc.Code]; ok {
		return snap, nil
	}
	return domain.AvailabilitySnapshot{Location: loc, Date: date.Format("02-01-2006")}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type notifyCall struct {
	recipients []string
	n          domain.Notification
}

// fakeNotifier records NotifyAll calls and fails or dedups configured recipients.
type fakeNotifier struct {
	mu      sync.Mutex
	failFor map[string]error
	dedup   map[string]bool
	calls   []notifyCall
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: make(map[string]error), dedup: make(map[string]bool)}
}

func (f *fakeNotifier) Notify(ctx context.Context, recipient string, n domain.Notification) error {
	if f.dedup[recipient] {
		return domain.ErrAlreadyNotified
	}
	if err, ok := f.failFor[recipient]; ok {
		return &domain.NotifyError{Recipient: recipient, Kind: domain.FailureNotify, Err: err}
	}
	return nil
}

func (f *fakeNotifier) NotifyAll(ctx context.Context, recipients []string, n domain.Notification) domain.NotifyResult {
	f.mu.Lock()
	f.calls = append(f.calls, notifyCall{recipients: append([]string(nil), recipients...), n: n})
	f.mu.Unlock()
	var res domain.NotifyResult
	for _, r := range recipients {
		err := f.Notify(ctx, r, n)
		switch {
		case err == nil:
			res.Sent = append(res.Sent, r)
		case errors.Is(err, domain.ErrAlreadyNotified):
			res.Deduplicated = append(res.Deduplicated, r)
		default:
			res.Failures = append(res.Failures, domain.RecipientFailure{Recipient: r, Err: err})
		}
	}
	return res
}

// messagesTo counts the alerts a recipient was included in.
func (f *fakeNotifier) messagesTo(recipient string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.calls {
		for _, r := range c.recipients {
			if r == recipient {
				count++
			}
		}
	}
	return count
}

type sentMail struct {
	to, subject, html, text string
}

// fakeMailer records sent messages and fails configured recipients.
type fakeMailer struct {
	mu      sync.Mutex
	failFor map[string]error
	sent    []sentMail
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failFor: make(map[string]error)}
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, html, text string) error {
	if err, ok := m.failFor[to]; ok {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, html: html, text: text})
	return nil
}

// fakeRenderer renders fixed content and keeps the last data it was given.
type fakeRenderer struct {
	err      error
	lastName string
	lastData *domain.AlertEmailData
}

func (r *fakeRenderer) Render(templateName string, data any) (string, string, string, error) {
	if r.err != nil {
		return "", "", "", r.err
	}
	r.lastName = templateName
	r.lastData, _ = data.(*domain.AlertEmailData)
	return "Vaccine slots available", "<p>slots</p>", "slots", nil
}

// fakeClaimer is an in-memory Claimer for tests.
type fakeClaimer struct {
	mu       sync.Mutex
	keys     map[string]bool
	claimErr error
	released []string
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{keys: make(map[string]bool)}
}

func (c *fakeClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c.claimErr != nil {
		return false, c.claimErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *fakeClaimer) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	c.released = append(c.released, key)
	return nil
}

func (c *fakeClaimer) releasedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.released...)
}

// fakeTokens issues readable tokens of the form "subject|audience".
type fakeTokens struct {
	err error
}

func (t fakeTokens) Issue(subject, audience string, expiry time.Duration) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return subject + "|" + audience, nil
}

func (t fakeTokens) Verify(token, audience string) (string, error) {
	subject, aud, ok := strings.Cut(token, "|")
	if !ok || aud != audience {
		return "", errors.New("bad token")
	}
	return subject, nil
}

// fakeHasher treats "hashed:<key>" as the hash of key.
type fakeHasher struct{}

func (fakeHasher) Hash(key string) (string, error) { return "hashed:" + key, nil }

func (fakeHasher) Compare(hash, key string) error {
	if hash != "hashed:"+key {
		return errors.New("mismatch")
	}
	return nil
}

// fakeReportRepo is an in-memory CycleReportRepository for tests.
type fakeReportRepo struct {
	mu      sync.Mutex
	saved   []domain.CycleReport
	saveErr error
}

func (r *fakeReportRepo) Save(ctx context.Context, report *domain.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, *report)
	return nil
}

func (r *fakeReportRepo) Latest(ctx context.Context) (*domain.CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil, domain.ErrNoCycleReport
	}
	latest := r.saved[len(r.saved)-1]
	return &latest, nil
}

func (r *fakeReportRepo) List(ctx context.Context, params domain.PaginationParams) (domain.CycleReportPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page := domain.CycleReportPage{Total: len(r.saved)}
	for i := len(r.saved) - 1 - params.Offset(); i >= 0 && len(page.Reports) < params.PageSize; i-- {
		page.Reports = append(page.Reports, r.saved[i])
	}
	return page, nil
}

// fakeCycles returns a canned report and counts runs.
type fakeCycles struct {
	mu     sync.Mutex
	report domain.CycleReport
	runs   int
}

func (c *fakeCycles) RunAlertCycle(ctx context.Context) domain.CycleReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return c.report
}

func (c *fakeCycles) runCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}
