package api

import (
	"alcyxob/fitness-calendar/internal/broadcast"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository/memory"
	"alcyxob/fitness-calendar/internal/service"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type recordingPublisher struct {
	mu      sync.Mutex
	origins []string
	msgs    []domain.ChangeMessage
}

func (p *recordingPublisher) Publish(_ context.Context, origin string, msg domain.ChangeMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.origins = append(p.origins, origin)
	p.msgs = append(p.msgs, msg)
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	pub    *recordingPublisher
}

func strPtr(s string) *string { return &s }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	coach := int64(1)
	store := memory.NewStore()
	store.PutUser(domain.User{ID: 1, Role: domain.RoleCoach})
	store.PutUser(domain.User{ID: 3, Role: domain.RoleAthlete, CoachID: &coach})
	store.PutUser(domain.User{ID: 4, Role: domain.RoleAthlete})
	store.PutProgram(domain.Program{ID: 7, CoachID: 1, AthleteID: 3})
	store.PutProgram(domain.Program{ID: 8, CoachID: 2, AthleteID: 4})
	store.PutWorkout(domain.Workout{ID: 42, ProgramID: 7, UserID: 3, Name: "Tempo run", ScheduledDate: strPtr("2025-06-10")})
	store.PutWorkout(domain.Workout{ID: 43, ProgramID: 7, UserID: 3, Name: "Mobility"})
	store.PutWorkout(domain.Workout{ID: 60, ProgramID: 8, UserID: 4, Name: "Not yours", ScheduledDate: strPtr("2025-06-10")})

	pub := &recordingPublisher{}
	svc := service.NewCalendarService(store.Workouts(), store.Exercises(), store.Programs(), store.Users(), pub)
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)

	router := gin.New()
	SetupRoutes(router, testSecret, svc, hub, time.UTC)
	return &testServer{router: router, store: store, pub: pub}
}

func token(t *testing.T, uid string, role domain.Role, ttl time.Duration) string {
	t.Helper()
	claims := jwtClaims{
		UserID: uid,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/me", token(t, "1", domain.RoleCoach, -time.Minute), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")

	w = s.do(t, http.MethodGet, "/api/v1/me", token(t, "1", "admin", time.Hour), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/me", token(t, "abc", domain.RoleCoach, time.Hour), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/me", token(t, "1", domain.RoleCoach, time.Hour), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":1,"role":"coach"}`, w.Body.String())
}

func TestGetCalendar(t *testing.T) {
	s := newTestServer(t)
	coach := token(t, "1", domain.RoleCoach, time.Hour)
	athlete := token(t, "3", domain.RoleAthlete, time.Hour)

	w := s.do(t, http.MethodGet, "/api/v1/calendar?programId=7", coach, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CalendarResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "program", resp.Scope)
	assert.Equal(t, []string{"calendar:program:7"}, resp.Channels)
	require.Len(t, resp.Days["2025-06-10"], 1)
	assert.Equal(t, int64(42), resp.Days["2025-06-10"][0].ID)
	require.Len(t, resp.Unscheduled, 1)
	assert.Equal(t, int64(43), resp.Unscheduled[0].ID)

	w = s.do(t, http.MethodGet, "/api/v1/calendar", athlete, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = CalendarResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "visible", resp.Scope)
	assert.Equal(t, []string{"calendar:program:7", "calendar:user:3"}, resp.Channels)

	w = s.do(t, http.MethodGet, "/api/v1/calendar?userId=3", coach, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/calendar?programId=8", athlete, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/calendar?userId=4", coach, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/calendar?programId=99", coach, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/calendar?programId=x", coach, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCalendarEmptyUnscheduled(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/calendar?programId=8", token(t, "4", domain.RoleAthlete, time.Hour), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unscheduled":[]`)
}

func TestScheduleWorkout(t *testing.T) {
	s := newTestServer(t)
	coach := token(t, "1", domain.RoleCoach, time.Hour)

	w := s.do(t, http.MethodPatch, "/api/v1/workouts/42/schedule", coach,
		ScheduleWorkoutRequest{Date: "2025-06-15", TZ: "Europe/Berlin"}, OriginHeader, "tab-a")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ScheduleWorkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Unchanged)
	require.NotNil(t, resp.Workout.ScheduledDate)
	assert.Equal(t, "2025-06-15T00:00:00+02:00", *resp.Workout.ScheduledDate)

	require.Len(t, s.pub.msgs, 1)
	assert.Equal(t, "tab-a", s.pub.origins[0])
	assert.Equal(t, int64(42), s.pub.msgs[0].WorkoutID)

	// Same day again: acknowledged without a write.
	w = s.do(t, http.MethodPatch, "/api/v1/workouts/42/schedule", coach, ScheduleWorkoutRequest{Date: "2025-06-15"})
	require.Equal(t, http.StatusOK, w.Code)
	resp = ScheduleWorkoutResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Unchanged)
	assert.Equal(t, 1, s.store.Calls(memory.OpWorkoutSchedule))
	assert.Len(t, s.pub.msgs, 1)
}

func TestScheduleWorkoutErrors(t *testing.T) {
	s := newTestServer(t)
	coach := token(t, "1", domain.RoleCoach, time.Hour)
	athlete := token(t, "3", domain.RoleAthlete, time.Hour)

	tests := []struct {
		name   string
		path   string
		bearer string
		body   any
		want   int
	}{
		{"missing date", "/api/v1/workouts/42/schedule", coach, map[string]string{}, http.StatusBadRequest},
		{"bad date", "/api/v1/workouts/42/schedule", coach, ScheduleWorkoutRequest{Date: "15/06/2025"}, http.StatusBadRequest},
		{"bad tz", "/api/v1/workouts/42/schedule", coach, ScheduleWorkoutRequest{Date: "2025-06-15", TZ: "Mars/Olympus"}, http.StatusBadRequest},
		{"bad id", "/api/v1/workouts/abc/schedule", coach, ScheduleWorkoutRequest{Date: "2025-06-15"}, http.StatusBadRequest},
		{"missing workout", "/api/v1/workouts/999/schedule", coach, ScheduleWorkoutRequest{Date: "2025-06-15"}, http.StatusNotFound},
		{"foreign program", "/api/v1/workouts/60/schedule", coach, ScheduleWorkoutRequest{Date: "2025-06-15"}, http.StatusForbidden},
		{"foreign athlete", "/api/v1/workouts/60/schedule", athlete, ScheduleWorkoutRequest{Date: "2025-06-15"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPatch, tt.path, tt.bearer, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, s.store.Calls(memory.OpWorkoutSchedule))
	assert.Empty(t, s.pub.msgs)
}

func TestDuplicateWorkout(t *testing.T) {
	s := newTestServer(t)
	athlete := token(t, "3", domain.RoleAthlete, time.Hour)

	w := s.do(t, http.MethodPost, "/api/v1/workouts/42/duplicate", athlete, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp DuplicateWorkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Tempo run (Copy)", resp.Workout.Name)
	assert.Nil(t, resp.Workout.ScheduledDate)
	assert.NotNil(t, resp.Exercises)
	assert.Empty(t, resp.ChildError)

	w = s.do(t, http.MethodPost, "/api/v1/workouts/42/duplicate", athlete, DuplicateWorkoutRequest{Date: strPtr("2025-06-20")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp = DuplicateWorkoutResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Workout.ScheduledDate)
	assert.Equal(t, "2025-06-20T00:00:00Z", *resp.Workout.ScheduledDate)

	require.Len(t, s.pub.msgs, 2)
	assert.Equal(t, domain.ChangeCreated, s.pub.msgs[0].Type)
	assert.Equal(t, defaultOrigin, s.pub.origins[0])

	w = s.do(t, http.MethodPost, "/api/v1/workouts/60/duplicate", athlete, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
