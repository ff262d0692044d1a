package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type mockRepo struct {
	records       []Record
	timelineCalls int
	feedCalls     int
}

func (m *mockRepo) Timeline(ctx context.Context, scope shared.Scope, entityType, entityID string, page shared.Page) ([]Record, error) {
	m.timelineCalls++
	return m.records, nil
}

func (m *mockRepo) Feed(ctx context.Context, scope shared.Scope, page shared.Page) ([]Record, error) {
	m.feedCalls++
	return m.records, nil
}

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, client, logger)
}

func sampleRecords(tenantID int64) []Record {
	return []Record{
		{
			ID:         uuid.New(),
			TenantID:   tenantID,
			EntityType: EntityInvoice,
			EntityID:   "42",
			EventType:  "invoice.issued",
			Payload:    json.RawMessage(`{"from":"DRAFT","to":"ISSUED"}`),
			OccurredAt: time.Now().UTC().Truncate(time.Millisecond),
			Seq:        7,
		},
	}
}

func TestTimelineCachesSecondRead(t *testing.T) {
	repo := &mockRepo{records: sampleRecords(1)}
	svc := newTestService(t, repo)
	scope := shared.Scope{TenantID: 1}
	page := shared.Page{Limit: 20}

	first, err := svc.Timeline(context.Background(), scope, EntityInvoice, "42", page)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, repo.timelineCalls)

	second, err := svc.Timeline(context.Background(), scope, EntityInvoice, "42", page)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.timelineCalls, "second read must come from cache")
}

func TestTimelineCacheKeyIncludesPage(t *testing.T) {
	repo := &mockRepo{records: sampleRecords(1)}
	svc := newTestService(t, repo)
	scope := shared.Scope{TenantID: 1}

	_, err := svc.Timeline(context.Background(), scope, EntityInvoice, "42", shared.Page{Limit: 20})
	require.NoError(t, err)
	_, err = svc.Timeline(context.Background(), scope, EntityInvoice, "42", shared.Page{AfterID: 7, Limit: 20})
	require.NoError(t, err)
	require.Equal(t, 2, repo.timelineCalls, "different cursors must not share a cache entry")
}

func TestTimelineWorksWithoutCache(t *testing.T) {
	repo := &mockRepo{records: sampleRecords(1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, nil, logger)

	for i := 0; i < 2; i++ {
		records, err := svc.Timeline(context.Background(), shared.Scope{TenantID: 1}, EntityInvoice, "42", shared.Page{Limit: 20})
		require.NoError(t, err)
		require.Len(t, records, 1)
	}
	require.Equal(t, 2, repo.timelineCalls)
}

func TestTimelineRejectsMissingTenant(t *testing.T) {
	svc := newTestService(t, &mockRepo{})
	_, err := svc.Timeline(context.Background(), shared.Scope{}, EntityInvoice, "42", shared.Page{Limit: 20})
	require.ErrorIs(t, err, shared.ErrMissingTenant)
}

func TestFeedBypassesCache(t *testing.T) {
	repo := &mockRepo{records: sampleRecords(1)}
	svc := newTestService(t, repo)

	for i := 0; i < 2; i++ {
		_, err := svc.Feed(context.Background(), shared.Scope{TenantID: 1}, shared.Page{Limit: 20})
		require.NoError(t, err)
	}
	require.Equal(t, 2, repo.feedCalls)
}
