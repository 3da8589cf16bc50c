package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyd/notifyd/internal/audit"
	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/model"
	"github.com/notifyd/notifyd/internal/profile"
)

// fakeStore is an in-memory audit store. Setting raceRecord makes the next
// Create lose an insert race against that record.
type fakeStore struct {
	records map[string]model.AuditRecord

	findErr   error
	createErr error
	updateErr error

	raceRecord *model.AuditRecord

	createCalls int
	updateCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]model.AuditRecord{}}
}

func (f *fakeStore) Create(ctx context.Context, rec model.AuditRecord) error {
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if f.raceRecord != nil {
		f.records[f.raceRecord.RequestID] = *f.raceRecord
		f.raceRecord = nil
		return appErr.NewConflict("audit record for request %s already exists", rec.RequestID)
	}
	if _, ok := f.records[rec.RequestID]; ok {
		return appErr.NewConflict("audit record for request %s already exists", rec.RequestID)
	}
	f.records[rec.RequestID] = rec
	return nil
}

func (f *fakeStore) FindByRequestID(ctx context.Context, requestID string) (model.AuditRecord, error) {
	if f.findErr != nil {
		return model.AuditRecord{}, f.findErr
	}
	rec, ok := f.records[requestID]
	if !ok {
		return model.AuditRecord{}, appErr.NewNotFound("no audit record for request %s", requestID)
	}
	return rec, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, requestID string, from, to model.Status, reason *model.FailureReason) error {
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	rec, ok := f.records[requestID]
	if !ok {
		return appErr.NewNotFound("no audit record for request %s", requestID)
	}
	if rec.Status != from {
		return appErr.NewConflict("audit record for request %s is no longer %s", requestID, from)
	}
	rec.Status = to
	rec.FailureReason = reason
	f.records[requestID] = rec
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeResolver struct {
	profile *model.UserProfile
	err     error
	calls   int
}

func (f *fakeResolver) Resolve(ctx context.Context, userID string) (*model.UserProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

type fakePublisher struct {
	err   error
	calls int
	last  model.EnrichedPayload
}

func (f *fakePublisher) Publish(ctx context.Context, payload model.EnrichedPayload) error {
	f.calls++
	f.last = payload
	return f.err
}

func validRequest() model.NotificationRequest {
	return model.NotificationRequest{
		RequestID:    "req-1",
		UserID:       "usr-1",
		Channel:      model.ChannelEmail,
		TemplateCode: "welcome_v2",
		Variables:    map[string]string{"name": "Ada"},
	}
}

func optedInProfile() *model.UserProfile {
	return &model.UserProfile{
		ID:          "usr-1",
		Email:       "ada@example.com",
		Name:        "Ada",
		PushToken:   "tok-1",
		Preferences: model.Preferences{Email: true, Push: true},
	}
}

func newDispatcher(store *fakeStore, resolver *fakeResolver, publisher *fakePublisher) DispatchService {
	ledger := audit.NewLedger(store, slog.Default())
	return NewDispatchService(ledger, resolver, publisher, slog.Default())
}

func TestDispatch_HappyPathEmail(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{profile: optedInProfile()}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	res, err := svc.Dispatch(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, model.StatusQueued, res.Record.Status)

	require.Equal(t, 1, publisher.calls)
	assert.Equal(t, model.ChannelEmail, publisher.last.Channel)
	assert.Equal(t, "ada@example.com", publisher.last.EmailAddress)
	assert.Equal(t, "welcome_v2", publisher.last.TemplateCode)
	assert.False(t, publisher.last.EnqueuedAt.IsZero())

	stored := store.records["req-1"]
	assert.Equal(t, model.StatusQueued, stored.Status)

	var snapshot model.EnrichedPayload
	require.NoError(t, json.Unmarshal(stored.PayloadSnapshot, &snapshot))
	assert.Equal(t, "ada@example.com", snapshot.EmailAddress)
}

func TestDispatch_HappyPathPush(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{profile: optedInProfile()}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	req := validRequest()
	req.Channel = model.ChannelPush

	res, err := svc.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	require.Equal(t, 1, publisher.calls)
	assert.Equal(t, "tok-1", publisher.last.PushToken)
	assert.Empty(t, publisher.last.EmailAddress)
}

func TestDispatch_DuplicateShortCircuits(t *testing.T) {
	store := newFakeStore()
	store.records["req-1"] = model.AuditRecord{
		RequestID: "req-1",
		UserID:    "usr-1",
		Channel:   model.ChannelEmail,
		Status:    model.StatusDelivered,
	}
	resolver := &fakeResolver{profile: optedInProfile()}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	res, err := svc.Dispatch(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, model.StatusDelivered, res.Record.Status)

	assert.Equal(t, 0, resolver.calls, "duplicates must not touch the profile service")
	assert.Equal(t, 0, publisher.calls, "duplicates must not publish")
	assert.Equal(t, 0, store.createCalls, "duplicates must not write")
}

func TestDispatch_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.NotificationRequest)
	}{
		{name: "missing request id", mutate: func(r *model.NotificationRequest) { r.RequestID = "" }},
		{name: "missing user id", mutate: func(r *model.NotificationRequest) { r.UserID = "" }},
		{name: "unknown channel", mutate: func(r *model.NotificationRequest) { r.Channel = "FAX" }},
		{name: "missing template", mutate: func(r *model.NotificationRequest) { r.TemplateCode = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{profile: optedInProfile()}
			svc := newDispatcher(newFakeStore(), resolver, &fakePublisher{})

			req := validRequest()
			tt.mutate(&req)

			_, err := svc.Dispatch(context.Background(), req)
			require.Error(t, err)
			assert.True(t, appErr.IsValidation(err))
			assert.Equal(t, 0, resolver.calls)
		})
	}
}

func TestDispatch_UnknownUser(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{err: appErr.NewNotFound("user usr-1 unknown to profile service")}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	_, err := svc.Dispatch(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, appErr.IsNotFound(err))
	assert.Equal(t, 0, store.createCalls, "unknown users leave no audit record")
	assert.Equal(t, 0, publisher.calls)
}

func TestDispatch_DeferredWhenProfileUnavailable(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{err: profile.ErrDeferred}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	res, err := svc.Dispatch(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, model.StatusDeferredCB, res.Record.Status)
	assert.Equal(t, model.StatusDeferredCB, store.records["req-1"].Status)
	assert.Equal(t, 0, publisher.calls, "deferred requests must not publish")
}

func TestDispatch_OptOutSkips(t *testing.T) {
	store := newFakeStore()
	prof := optedInProfile()
	prof.Preferences.Email = false
	resolver := &fakeResolver{profile: prof}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	res, err := svc.Dispatch(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, model.StatusSkippedOptOut, res.Record.Status)
	assert.Equal(t, model.StatusSkippedOptOut, store.records["req-1"].Status)
	assert.Equal(t, 0, publisher.calls, "opt-outs must not publish")
}

func TestDispatch_MissingContactFails(t *testing.T) {
	store := newFakeStore()
	prof := optedInProfile()
	prof.Email = ""
	resolver := &fakeResolver{profile: prof}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	res, err := svc.Dispatch(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.StatusFailed, res.Record.Status)
	require.NotNil(t, res.Record.FailureReason)
	assert.Equal(t, "missing_contact", res.Record.FailureReason.Code)
	assert.Equal(t, 0, publisher.calls)
}

func TestDispatch_UnqueuedRecordsSnapshotRawRequest(t *testing.T) {
	tests := []struct {
		name       string
		resolver   *fakeResolver
		wantStatus model.Status
	}{
		{
			name:       "deferred",
			resolver:   &fakeResolver{err: profile.ErrDeferred},
			wantStatus: model.StatusDeferredCB,
		},
		{
			name: "opted out",
			resolver: func() *fakeResolver {
				prof := optedInProfile()
				prof.Preferences.Email = false
				return &fakeResolver{profile: prof}
			}(),
			wantStatus: model.StatusSkippedOptOut,
		},
		{
			name: "missing contact",
			resolver: func() *fakeResolver {
				prof := optedInProfile()
				prof.Email = ""
				return &fakeResolver{profile: prof}
			}(),
			wantStatus: model.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := newDispatcher(store, tt.resolver, &fakePublisher{})

			_, err := svc.Dispatch(context.Background(), validRequest())
			require.NoError(t, err)

			stored := store.records["req-1"]
			require.Equal(t, tt.wantStatus, stored.Status)
			require.NotEmpty(t, stored.PayloadSnapshot, "unqueued records must still snapshot the request")

			var snapshot model.NotificationRequest
			require.NoError(t, json.Unmarshal(stored.PayloadSnapshot, &snapshot))
			assert.Equal(t, "req-1", snapshot.RequestID)
			assert.Equal(t, "welcome_v2", snapshot.TemplateCode)
			assert.Equal(t, model.ChannelEmail, snapshot.Channel)
		})
	}
}

func TestDispatch_StoreDownSurfaces(t *testing.T) {
	store := newFakeStore()
	store.findErr = appErr.NewStoreUnavailable("connection reset")
	resolver := &fakeResolver{profile: optedInProfile()}
	svc := newDispatcher(store, resolver, &fakePublisher{})

	_, err := svc.Dispatch(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, appErr.IsStoreUnavailable(err))
	assert.Equal(t, 0, resolver.calls, "no pipeline work when admission cannot be checked")
}

func TestDispatch_AuditWriteBeforePublish(t *testing.T) {
	store := newFakeStore()
	store.createErr = appErr.NewStoreUnavailable("connection reset")
	resolver := &fakeResolver{profile: optedInProfile()}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	_, err := svc.Dispatch(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, appErr.IsStoreUnavailable(err))
	assert.Equal(t, 0, publisher.calls, "nothing may publish without its audit record")
}

func TestDispatch_PublishFailureKeepsRecordQueued(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{profile: optedInProfile()}
	publisher := &fakePublisher{err: appErr.NewPublish("channel closed")}
	svc := newDispatcher(store, resolver, publisher)

	_, err := svc.Dispatch(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, appErr.IsPublish(err))
	assert.Equal(t, model.StatusQueued, store.records["req-1"].Status,
		"a failed publish leaves the record queued, never rolled back")
}

func TestDispatch_LostInsertRaceResolvesDuplicate(t *testing.T) {
	store := newFakeStore()
	store.raceRecord = &model.AuditRecord{
		RequestID: "req-1",
		UserID:    "usr-1",
		Channel:   model.ChannelEmail,
		Status:    model.StatusQueued,
	}
	resolver := &fakeResolver{profile: optedInProfile()}
	publisher := &fakePublisher{}
	svc := newDispatcher(store, resolver, publisher)

	res, err := svc.Dispatch(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, model.StatusQueued, res.Record.Status)
	assert.Equal(t, 0, publisher.calls, "the losing request must not publish")
}
