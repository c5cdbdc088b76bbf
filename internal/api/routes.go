package api

import (
	"alcyxob/fitness-calendar/internal/broadcast"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/service"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	calendarService service.CalendarService,
	hub *broadcast.Hub,
	location *time.Location,
) {
	calendarHandler := NewCalendarHandler(calendarService, location)
	authMiddleware := AuthMiddleware(jwtSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		// Relay observers are trusted; the upgrade is not authenticated.
		apiV1.GET("/realtime", func(c *gin.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware, RoleMiddleware(domain.RoleCoach, domain.RoleAthlete))
	{
		protected.GET("/me", func(c *gin.Context) {
			viewer, ok := viewerFromContext(c)
			if !ok {
				return
			}
			c.JSON(http.StatusOK, gin.H{"userId": viewer.ID, "role": viewer.Role})
		})

		// GET /api/v1/calendar?programId=&userId=
		protected.GET("/calendar", calendarHandler.GetCalendar)

		workoutGroup := protected.Group("/workouts")
		{
			// PATCH /api/v1/workouts/{id}/schedule
			workoutGroup.PATCH("/:id/schedule", calendarHandler.ScheduleWorkout)
			// POST /api/v1/workouts/{id}/duplicate
			workoutGroup.POST("/:id/duplicate", calendarHandler.DuplicateWorkout)
		}
	}
}
