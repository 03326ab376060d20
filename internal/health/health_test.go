package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChecker struct {
	name     string
	err      error
	critical bool
}

func (f fakeChecker) Name() string                    { return f.name }
func (f fakeChecker) Critical() bool                  { return f.critical }
func (f fakeChecker) Check(ctx context.Context) error { return f.err }

func TestReportAggregation(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(fakeChecker{name: "a"})
	m.Register(fakeChecker{name: "b"})

	overall, results := m.Report(context.Background())
	assert.Equal(t, StatusHealthy, overall)
	require.Len(t, results, 2)

	m.Register(fakeChecker{name: "c", err: errors.New("slow"), critical: false})
	overall, _ = m.Report(context.Background())
	assert.Equal(t, StatusDegraded, overall)

	m.Register(fakeChecker{name: "d", err: errors.New("down"), critical: true})
	overall, results = m.Report(context.Background())
	assert.Equal(t, StatusUnhealthy, overall)
	require.Len(t, results, 4)
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(fakeChecker{name: "ok"})

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status Status        `json:"status"`
		Checks []CheckResult `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)

	m.Register(fakeChecker{name: "core", err: errors.New("down"), critical: true})
	rec = httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := RedisChecker{Client: client}
	require.NoError(t, c.Check(context.Background()))

	mr.Close()
	require.Error(t, c.Check(context.Background()))
}

func TestRoleServiceChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := RoleServiceChecker{BaseURL: srv.URL}
	require.NoError(t, c.Check(context.Background()))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	require.Error(t, RoleServiceChecker{BaseURL: bad.URL}.Check(context.Background()))
}
