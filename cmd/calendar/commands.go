package main

import (
	"alcyxob/fitness-calendar/internal/app"
	"alcyxob/fitness-calendar/internal/broadcast"
	"alcyxob/fitness-calendar/internal/calendar"
	"alcyxob/fitness-calendar/internal/calendar/view"
	"alcyxob/fitness-calendar/internal/config"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/reconcile"
	"alcyxob/fitness-calendar/internal/service"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	configDir string
	role      string
	viewer    int64
	timezone  string
}

// session is everything one CLI invocation talks to.
type session struct {
	cfg     config.Config
	loc     *time.Location
	stores  *app.Stores
	engine  *broadcast.Engine
	queue   *reconcile.SQLiteQueue
	service service.CalendarService
	viewer  service.Viewer
	closers []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "calendar",
		Short:         "Shared coach/athlete workout calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config", ".", "directory holding config.yaml")
	cmd.PersistentFlags().StringVar(&opts.role, "role", string(domain.RoleAthlete), "viewer role (coach|athlete)")
	cmd.PersistentFlags().Int64Var(&opts.viewer, "viewer", 0, "viewer user id")
	cmd.PersistentFlags().StringVar(&opts.timezone, "tz", "", "IANA timezone (defaults to calendar.timezone)")
	_ = cmd.MarkPersistentFlagRequired("viewer")

	cmd.AddCommand(newWatchCmd(opts), newMoveCmd(opts), newDuplicateCmd(opts))
	return cmd
}

// openSession connects storage and every propagation path the config
// enables. Transports that cannot start are logged and left out.
func openSession(ctx context.Context, opts *options) (*session, error) {
	role := domain.Role(opts.role)
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", opts.role)
	}
	cfg, err := config.LoadConfig(opts.configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.timezone != "" {
		cfg.Calendar.Timezone = opts.timezone
	}
	loc, err := cfg.Calendar.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Calendar.Timezone, err)
	}

	stores, err := app.OpenStores(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, loc: loc, stores: stores, viewer: service.Viewer{ID: opts.viewer, Role: role}}
	s.closers = append(s.closers, stores.Close)

	engineOpts := []broadcast.Option{
		broadcast.WithChangeFeed(stores.Feed),
		broadcast.WithDedupeSize(cfg.Sync.DedupeSize),
	}
	if device, err := broadcast.SameDevice(nil, cfg.Sync.DeviceDir, cfg.Sync.StorageEventTTL); err != nil {
		log.Printf("WARN: same-device channel unavailable: %v", err)
	} else {
		engineOpts = append(engineOpts, broadcast.WithTransport(device))
		if c, ok := device.(io.Closer); ok {
			s.closers = append(s.closers, func() { _ = c.Close() })
		}
	}
	if cfg.Sync.RelayURL != "" {
		relay, err := broadcast.DialRelay(ctx, cfg.Sync.RelayURL)
		if err != nil {
			log.Printf("WARN: relay unavailable, cross-device updates arrive via refetch only: %v", err)
		} else {
			engineOpts = append(engineOpts, broadcast.WithTransport(relay))
			s.closers = append(s.closers, func() { _ = relay.Close() })
		}
	}
	if cfg.Queue.Path != "" {
		q, err := reconcile.OpenSQLiteQueue(cfg.Queue.Path, cfg.Queue.MaxEntries)
		if err != nil {
			log.Printf("WARN: pending-change queue unavailable: %v", err)
		} else {
			s.queue = q
			engineOpts = append(engineOpts, broadcast.WithPendingQueue(q))
			s.closers = append(s.closers, func() { _ = q.Close() })
		}
	}

	s.engine = broadcast.NewEngine(engineOpts...)
	s.service = service.NewCalendarService(stores.Workouts, stores.Exercises, stores.Programs, stores.Users, s.engine)
	log.Printf("INFO: sync transports: %v", s.engine.Transports())
	return s, nil
}

func (s *session) deps(withQueue bool) view.Deps {
	deps := view.Deps{
		Scheduler: s.service,
		Sync:      s.engine,
		Gesture: calendar.GestureConfig{
			EdgeThreshold:  s.cfg.Calendar.EdgeThreshold,
			EdgeBuffer:     s.cfg.Calendar.EdgeBuffer,
			InitialDelay:   s.cfg.Calendar.EdgeInitialDelay,
			RepeatInterval: s.cfg.Calendar.EdgeRepeatInterval,
		},
		WeekStart: time.Monday,
	}
	if withQueue && s.queue != nil {
		deps.Queue = s.queue
	}
	return deps
}

// workoutView mounts a view over the program of workoutID, for one-shot
// edits. It does not drain the queue, which belongs to long-lived views.
func (s *session) workoutView(ctx context.Context, workoutID int64) (*view.View, error) {
	w, err := s.service.GetWorkout(ctx, workoutID)
	if err != nil {
		return nil, err
	}
	if err := s.service.AuthorizeWorkout(ctx, s.viewer, w); err != nil {
		return nil, err
	}
	programID := w.ProgramID
	scope := calendar.ResolveScope(calendar.ScopeParams{Role: s.viewer.Role, ViewerID: s.viewer.ID, ProgramID: &programID})
	fetchedAt := time.Now()
	workouts, err := s.service.ListWorkouts(ctx, scope.Filter())
	if err != nil {
		return nil, err
	}
	v := view.New(view.Props{
		Workouts:  workouts,
		Role:      s.viewer.Role,
		ViewerID:  s.viewer.ID,
		ProgramID: &programID,
		Location:  s.loc,
		FetchedAt: fetchedAt,
	}, s.deps(false))
	return v, v.Mount(ctx)
}

func newWatchCmd(opts *options) *cobra.Command {
	var programID, userID int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the calendar and follow changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			pinnedProgram := optionalID(programID)
			pinnedUser := optionalID(userID)
			if err := s.service.AuthorizeScope(ctx, s.viewer, pinnedProgram, pinnedUser); err != nil {
				return err
			}
			scope := calendar.ResolveScope(calendar.ScopeParams{
				Role: s.viewer.Role, ViewerID: s.viewer.ID, ProgramID: pinnedProgram, UserID: pinnedUser,
			})
			fetchedAt := time.Now()
			workouts, err := s.service.ListWorkouts(ctx, scope.Filter())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			v := view.New(view.Props{
				Workouts:        workouts,
				OnWorkoutUpdate: func(ws []domain.Workout) { printAgenda(out, ws) },
				Role:            s.viewer.Role,
				ViewerID:        s.viewer.ID,
				ProgramID:       pinnedProgram,
				UserID:          pinnedUser,
				ReadOnly:        true,
				Location:        s.loc,
				FetchedAt:       fetchedAt,
			}, s.deps(true))
			printAgenda(out, v.Workouts())
			if err := v.Mount(ctx); err != nil {
				return err
			}
			defer v.Unmount()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Int64Var(&programID, "program", 0, "pin one program")
	cmd.Flags().Int64Var(&userID, "user", 0, "pin one athlete (coaches only)")
	return cmd
}

func newMoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "move <workoutId> <YYYY-MM-DD>",
		Short: "Reschedule a workout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workoutID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid workout id %q", args[0])
			}
			day, err := calendar.ParseDay(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.workoutView(ctx, workoutID)
			if err != nil {
				return err
			}
			defer v.Unmount()

			if err := v.Move(ctx, workoutID, day); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workout %d scheduled on %s\n", workoutID, day)
			return nil
		},
	}
}

func newDuplicateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <workoutId> [YYYY-MM-DD]",
		Short: "Copy a workout, unscheduled unless a day is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workoutID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid workout id %q", args[0])
			}
			var target *calendar.Day
			if len(args) == 2 {
				day, err := calendar.ParseDay(args[1])
				if err != nil {
					return err
				}
				target = &day
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.workoutView(ctx, workoutID)
			if err != nil {
				return err
			}
			defer v.Unmount()

			dup, err := v.Duplicate(ctx, workoutID, target)
			if err != nil {
				if errors.Is(err, service.ErrReadOnly) {
					return fmt.Errorf("calendar is read-only")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created workout %d %q\n", dup.ID, dup.Name)
			return nil
		},
	}
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func printAgenda(out io.Writer, workouts []domain.Workout) {
	ix := calendar.BuildIndex(workouts)
	fmt.Fprintln(out, "---")
	for _, key := range ix.Keys() {
		for _, w := range ix.Lookup(key) {
			fmt.Fprintf(out, "%s  #%d %s%s\n", key, w.ID, w.Name, doneMark(w))
		}
	}
	for _, w := range ix.Unscheduled() {
		fmt.Fprintf(out, "unscheduled  #%d %s%s\n", w.ID, w.Name, doneMark(w))
	}
}

func doneMark(w domain.Workout) string {
	if w.Completed {
		return " (done)"
	}
	return ""
}
