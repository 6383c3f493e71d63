package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMeUnwrapsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/me", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"id":"u1","username":"ada","name":"Ada L","avatarUrl":"https://x/a.png"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/", "tok", zap.NewNop())
	u, err := c.Me(context.Background())
	require.NoError(t, err)

	assert.Equal(t, User{ID: "u1", Username: "ada", Name: "Ada L", AvatarURL: "https://x/a.png"}, u)
	assert.Equal(t, "Ada L", u.DisplayName())
	assert.Equal(t, "bob", User{Username: "bob"}.DisplayName())
}

func TestSaveCallLogPostsEntry(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := NewClient(srv.URL, "", zap.NewNop()).SaveCallLog(context.Background(), CallLogEntry{
		ChannelID:    "c1",
		CallType:     "video",
		Duration:     42,
		Participants: []string{"a", "b"},
		StartedAt:    started,
	})
	require.NoError(t, err)

	assert.Equal(t, "c1", got["channelId"])
	assert.Equal(t, "video", got["callType"])
	assert.EqualValues(t, 42, got["duration"])
	assert.Equal(t, []any{"a", "b"}, got["participants"])
	assert.Equal(t, "2026-03-01T10:00:00Z", got["startedAt"])
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad", zap.NewNop()).Me(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "nope", se.Body)
}

type countingSource struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (s *countingSource) Me(ctx context.Context) (User, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return User{ID: "u1", Username: "ada"}, nil
}

func TestIdentityFetchesOnce(t *testing.T) {
	src := &countingSource{gate: make(chan struct{})}
	id := NewIdentity(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := id.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "u1", u.ID)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	_, err := id.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load())
}

// MockUserSource is a testify mock of UserSource.
type MockUserSource struct {
	mock.Mock
}

func (m *MockUserSource) Me(ctx context.Context) (User, error) {
	args := m.Called(ctx)
	return args.Get(0).(User), args.Error(1)
}

func TestIdentityDoesNotCacheFailure(t *testing.T) {
	ctx := context.Background()
	src := new(MockUserSource)
	src.On("Me", ctx).Return(User{}, errors.New("offline")).Once()
	src.On("Me", ctx).Return(User{ID: "u1", Username: "ada"}, nil).Once()
	id := NewIdentity(src)

	_, err := id.Get(ctx)
	assert.Error(t, err)

	u, err := id.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	u, err = id.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	src.AssertNumberOfCalls(t, "Me", 2)
	src.AssertExpectations(t)
}
