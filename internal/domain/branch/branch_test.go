package branch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/cache"
)

type mockRepo struct {
	branches []Branch
	err      error
	calls    int
}

func (m *mockRepo) List(context.Context) ([]Branch, error) {
	m.calls++
	return m.branches, m.err
}

func strPtr(s string) *string { return &s }

func sampleBranches() []Branch {
	return []Branch{
		{ID: 2, Name: "Central", Address: strPtr("12 Main St"), Hours: strPtr("08:00-20:00")},
		{ID: 1, Name: "Kandy"},
	}
}

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.New(client, time.Minute, zerolog.Nop()), mr
}

func TestService_ListWithoutCache(t *testing.T) {
	repo := &mockRepo{branches: sampleBranches()}
	svc := NewService(repo, nil)

	for i := 0; i < 2; i++ {
		got, err := svc.List(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 2)
	}
	require.Equal(t, 2, repo.calls)
}

func TestService_ListCachesInRedis(t *testing.T) {
	c, mr := newTestCache(t)
	repo := &mockRepo{branches: sampleBranches()}
	svc := NewService(repo, c)

	first, err := svc.List(context.Background())
	require.NoError(t, err)
	require.True(t, mr.Exists("portal:branches"))

	second, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.calls)

	mr.FastForward(2 * time.Minute)
	_, err = svc.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}

func TestService_ListEmptyIsNotNil(t *testing.T) {
	svc := NewService(&mockRepo{}, nil)

	got, err := svc.List(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestService_ListStorageError(t *testing.T) {
	svc := NewService(&mockRepo{err: errors.New("connection refused")}, nil)

	_, err := svc.List(context.Background())
	require.True(t, apperr.Is(err, apperr.KindStorage))
}

func TestHandler_List(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(NewService(&mockRepo{branches: sampleBranches()}, nil)).RegisterRoutes(e.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/branches", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, "Central", got[0]["branch_name"])
	require.Nil(t, got[1]["branch_address"])
}

func TestHandler_ListError(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(NewService(&mockRepo{err: errors.New("boom")}, nil)).RegisterRoutes(e.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/branches", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestRepoPG_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM branch ORDER BY branch_name").
		WillReturnRows(pgxmock.NewRows([]string{"branch_id", "branch_name", "branch_address", "branch_email", "branch_hours", "google_map_link"}).
			AddRow(int64(2), "Central", strPtr("12 Main St"), strPtr("central@clinic.lk"), strPtr("08:00-20:00"), strPtr("https://maps.example/central")))

	got, err := NewRepoPG(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "12 Main St", *got[0].Address)
	require.NoError(t, mock.ExpectationsWereMet())
}
