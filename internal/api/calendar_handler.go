// internal/api/calendar_handler.go
package api

import (
	"alcyxob/fitness-calendar/internal/calendar"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/service"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// OriginHeader lets a client stamp its writes so its own subscriptions skip
// the echo.
const OriginHeader = "X-Calendar-Origin"

const defaultOrigin = "api"

type CalendarHandler struct {
	calendarService service.CalendarService
	location        *time.Location
}

func NewCalendarHandler(calendarService service.CalendarService, location *time.Location) *CalendarHandler {
	if location == nil {
		location = time.Local
	}
	return &CalendarHandler{calendarService: calendarService, location: location}
}

// --- DTOs ---

type CalendarResponse struct {
	Scope       string                      `json:"scope"`
	Channels    []string                    `json:"channels"`
	Days        map[string][]domain.Workout `json:"days"`
	Unscheduled []domain.Workout            `json:"unscheduled"`
}

type ScheduleWorkoutRequest struct {
	Date string `json:"date" binding:"required"` // YYYY-MM-DD
	TZ   string `json:"tz"`
}

type ScheduleWorkoutResponse struct {
	Workout   domain.Workout `json:"workout"`
	Unchanged bool           `json:"unchanged,omitempty"`
}

type DuplicateWorkoutRequest struct {
	Date *string `json:"date"`
	TZ   string  `json:"tz"`
}

type DuplicateWorkoutResponse struct {
	Workout    domain.Workout           `json:"workout"`
	Exercises  []domain.WorkoutExercise `json:"exercises"`
	ChildError string                   `json:"childError,omitempty"`
}

// --- Handlers ---

// GetCalendar godoc
// @Summary Get the calendar of a scope
// @Description Returns the caller's workouts bucketed by day. programId pins a program; userId (coaches only) pins an athlete.
// @Tags Calendar
// @Produce json
// @Security BearerAuth
// @Param programId query int false "Program ID"
// @Param userId query int false "Athlete ID"
// @Success 200 {object} CalendarResponse
// @Failure 400 {object} gin.H "Invalid query parameter"
// @Failure 403 {object} gin.H "Forbidden"
// @Failure 404 {object} gin.H "Program or athlete not found"
// @Router /calendar [get]
func (h *CalendarHandler) GetCalendar(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		return
	}
	programID, err := optionalIDQuery(c, "programId")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid programId.")
		return
	}
	userID, err := optionalIDQuery(c, "userId")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid userId.")
		return
	}

	if err := h.calendarService.AuthorizeScope(c.Request.Context(), viewer, programID, userID); err != nil {
		h.abortWithServiceError(c, err, "Failed to open calendar.")
		return
	}

	scope := calendar.ResolveScope(calendar.ScopeParams{
		Role:      viewer.Role,
		ViewerID:  viewer.ID,
		ProgramID: programID,
		UserID:    userID,
	})
	workouts, err := h.calendarService.ListWorkouts(c.Request.Context(), scope.Filter())
	if err != nil {
		log.Printf("ERROR: listing calendar for user %d: %v", viewer.ID, err)
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve workouts.")
		return
	}
	if scope.Kind == calendar.ScopeVisible {
		scope = calendar.ResolveScope(calendar.ScopeParams{Role: viewer.Role, ViewerID: viewer.ID, Visible: workouts})
	}

	ix := calendar.BuildIndex(workouts)
	resp := CalendarResponse{
		Scope:       scope.Kind.String(),
		Channels:    scope.Channels(),
		Days:        ix.Days(),
		Unscheduled: ix.Unscheduled(),
	}
	if resp.Unscheduled == nil {
		resp.Unscheduled = []domain.Workout{}
	}
	c.JSON(http.StatusOK, resp)
}

// ScheduleWorkout godoc
// @Summary Reschedule a workout
// @Description Moves a workout to local midnight of the given day and broadcasts the change.
// @Tags Calendar
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Workout ID"
// @Param request body ScheduleWorkoutRequest true "Target day"
// @Success 200 {object} ScheduleWorkoutResponse
// @Failure 400 {object} gin.H "Invalid input"
// @Failure 403 {object} gin.H "Forbidden"
// @Failure 404 {object} gin.H "Workout not found"
// @Router /workouts/{id}/schedule [patch]
func (h *CalendarHandler) ScheduleWorkout(c *gin.Context) {
	var req ScheduleWorkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	day, err := calendar.ParseDay(req.Date)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD.")
		return
	}
	loc, err := h.locationFor(req.TZ)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Unknown timezone.")
		return
	}
	workout, ok := h.authorizedWorkout(c)
	if !ok {
		return
	}

	res, err := h.calendarService.MoveWorkout(c.Request.Context(), service.MoveRequest{
		Workout:  *workout,
		Day:      day,
		Location: loc,
		Origin:   originOf(c),
	})
	if errors.Is(err, service.ErrUnchanged) {
		c.JSON(http.StatusOK, ScheduleWorkoutResponse{Workout: *workout, Unchanged: true})
		return
	}
	if err != nil {
		h.abortWithServiceError(c, err, "Failed to reschedule workout.")
		return
	}
	c.JSON(http.StatusOK, ScheduleWorkoutResponse{Workout: res.Workout})
}

// DuplicateWorkout godoc
// @Summary Duplicate a workout
// @Description Copies a workout (and the exercises of a strength workout), optionally onto a day.
// @Tags Calendar
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Workout ID"
// @Param request body DuplicateWorkoutRequest false "Optional target day"
// @Success 201 {object} DuplicateWorkoutResponse
// @Failure 400 {object} gin.H "Invalid input"
// @Failure 403 {object} gin.H "Forbidden"
// @Failure 404 {object} gin.H "Workout not found"
// @Router /workouts/{id}/duplicate [post]
func (h *CalendarHandler) DuplicateWorkout(c *gin.Context) {
	var req DuplicateWorkoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
			return
		}
	}
	var target *calendar.Day
	if req.Date != nil && *req.Date != "" {
		day, err := calendar.ParseDay(*req.Date)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD.")
			return
		}
		target = &day
	}
	loc, err := h.locationFor(req.TZ)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Unknown timezone.")
		return
	}
	workout, ok := h.authorizedWorkout(c)
	if !ok {
		return
	}

	res, err := h.calendarService.DuplicateWorkout(c.Request.Context(), service.DuplicateRequest{
		WorkoutID: workout.ID,
		Target:    target,
		Location:  loc,
		Origin:    originOf(c),
	})
	if err != nil {
		h.abortWithServiceError(c, err, "Failed to duplicate workout.")
		return
	}

	resp := DuplicateWorkoutResponse{Workout: res.Workout, Exercises: res.Exercises}
	if resp.Exercises == nil {
		resp.Exercises = []domain.WorkoutExercise{}
	}
	if res.ChildErr != nil {
		log.Printf("WARN: duplicate of workout %d: %v", workout.ID, res.ChildErr)
		resp.ChildError = res.ChildErr.Error()
	}
	c.JSON(http.StatusCreated, resp)
}

// --- Helpers ---

// authorizedWorkout loads the :id workout and checks the caller may change it.
func (h *CalendarHandler) authorizedWorkout(c *gin.Context) (*domain.Workout, bool) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		return nil, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, http.StatusBadRequest, "Invalid workout ID format in URL path.")
		return nil, false
	}
	workout, err := h.calendarService.GetWorkout(c.Request.Context(), id)
	if err != nil {
		h.abortWithServiceError(c, err, "Failed to load workout.")
		return nil, false
	}
	if err := h.calendarService.AuthorizeWorkout(c.Request.Context(), viewer, workout); err != nil {
		h.abortWithServiceError(c, err, "Failed to load workout.")
		return nil, false
	}
	return workout, true
}

func (h *CalendarHandler) locationFor(tz string) (*time.Location, error) {
	if tz == "" {
		return h.location, nil
	}
	return time.LoadLocation(tz)
}

// abortWithServiceError maps service errors to HTTP status codes.
func (h *CalendarHandler) abortWithServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrWorkoutNotFound),
		errors.Is(err, service.ErrProgramNotFound),
		errors.Is(err, service.ErrAthleteNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAccessDenied):
		abortWithError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrReadOnly):
		abortWithError(c, http.StatusConflict, err.Error())
	default:
		log.Printf("ERROR: %s: %v", fallback, err)
		abortWithError(c, http.StatusInternalServerError, fallback)
	}
}

func viewerFromContext(c *gin.Context) (service.Viewer, bool) {
	id, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return service.Viewer{}, false
	}
	role, err := getUserRoleFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify role from token.")
		return service.Viewer{}, false
	}
	return service.Viewer{ID: id, Role: role}, true
}

func optionalIDQuery(c *gin.Context, key string) (*int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("invalid id")
	}
	return &id, nil
}

func originOf(c *gin.Context) string {
	if o := c.GetHeader(OriginHeader); o != "" {
		return o
	}
	return defaultOrigin
}
