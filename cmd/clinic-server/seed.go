package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/lock"
)

var specializations = []string{
	"Pediatrics",
	"Speech Therapy",
	"Physiotherapy",
	"Child Psychology",
	"Occupational Therapy",
	"Neurology",
}

var timezones = []string{"UTC", "Europe/Warsaw", "Europe/London"}

// SeedOptions sizes a demo data set.
type SeedOptions struct {
	Practitioners int
	Guardians     int
	Bookings      int
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo practitioners, families and bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := SeedOptions{}
			opts.Practitioners, _ = cmd.Flags().GetInt("practitioners")
			opts.Guardians, _ = cmd.Flags().GetInt("guardians")
			opts.Bookings, _ = cmd.Flags().GetInt("bookings")
			seed, _ := cmd.Flags().GetInt64("seed")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			faker := gofakeit.New(uint64(seed))

			txm := db.NewTxManager(pool, db.TxOptions{MaxRetries: cfg.TxMaxRetries}, logger)
			practitioners := scheduling.NewPractitionerRepoPG(pool)
			calendar := scheduling.NewCalendarRepoPG(pool)
			resolver := scheduling.NewResolver(calendar)
			ledger := scheduling.NewLedger(practitioners, scheduling.NewBookingRepoPG(pool), resolver,
				txm, lock.NewAdvisory(txm), events.NewOutbox(pool), logger)

			s := &seeder{
				faker:    faker,
				schedule: scheduling.NewService(practitioners, calendar, resolver, ledger, txm),
				ledger:   ledger,
				profiles: patient.NewService(patient.NewGuardianRepoPG(pool), patient.NewChildRepoPG(pool), txm),
				logger:   logger,
			}
			return s.run(ctx, opts)
		},
	}
	cmd.Flags().Int("practitioners", 10, "Number of practitioners")
	cmd.Flags().Int("guardians", 200, "Number of guardians (each with one to three children)")
	cmd.Flags().Int("bookings", 300, "Number of booking attempts over the next two weeks")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one from the clock)")
	return cmd
}

type family struct {
	guardianID uuid.UUID
	childIDs   []uuid.UUID
}

type seeder struct {
	faker    *gofakeit.Faker
	schedule *scheduling.Service
	ledger   *scheduling.Ledger
	profiles *patient.Service
	logger   zerolog.Logger
}

func (s *seeder) run(ctx context.Context, opts SeedOptions) error {
	practitioners, err := s.seedPractitioners(ctx, opts.Practitioners)
	if err != nil {
		return fmt.Errorf("seed practitioners: %w", err)
	}
	families, err := s.seedFamilies(ctx, opts.Guardians)
	if err != nil {
		return fmt.Errorf("seed families: %w", err)
	}
	if err := s.seedBookings(ctx, practitioners, families, opts.Bookings); err != nil {
		return fmt.Errorf("seed bookings: %w", err)
	}
	s.logger.Info().Msg("seed complete")
	return nil
}

// seedPractitioners creates practitioners working Monday to Friday, 08:00 to
// 16:00 local time.
func (s *seeder) seedPractitioners(ctx context.Context, count int) ([]*scheduling.Practitioner, error) {
	out := make([]*scheduling.Practitioner, 0, count)
	for i := 0; i < count; i++ {
		p := &scheduling.Practitioner{
			Name:           "Dr. " + s.faker.Name(),
			Specialization: specializations[s.faker.Number(0, len(specializations)-1)],
			BufferMinutes:  []int{0, 5, 10, 15}[s.faker.Number(0, 3)],
			Timezone:       timezones[s.faker.Number(0, len(timezones)-1)],
			Active:         true,
		}
		if err := s.schedule.CreatePractitioner(ctx, p); err != nil {
			return nil, err
		}

		var week []scheduling.WeeklyAvailability
		for day := 1; day <= 5; day++ {
			week = append(week, scheduling.WeeklyAvailability{
				PractitionerID: p.ID,
				DayOfWeek:      day,
				StartTime:      8 * 60,
				EndTime:        16 * 60,
				Active:         true,
			})
		}
		if err := s.schedule.ReplaceWeeklyAvailability(ctx, p.ID, week); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	s.logger.Info().Int("count", count).Msg("practitioners seeded")
	return out, nil
}

func (s *seeder) seedFamilies(ctx context.Context, count int) ([]family, error) {
	staff := auth.Scope{UserID: uuid.Nil}
	out := make([]family, 0, count)
	for i := 0; i < count; i++ {
		g := &patient.Guardian{
			FirstName: s.faker.FirstName(),
			LastName:  s.faker.LastName(),
			Email:     s.faker.Email(),
			Phone:     s.faker.Phone(),
			Address:   s.faker.Address().Address,
		}
		if err := s.profiles.CreateGuardian(ctx, staff, g); err != nil {
			return nil, err
		}

		f := family{guardianID: g.ID}
		for n := s.faker.Number(1, 3); n > 0; n-- {
			born := s.faker.DateRange(time.Now().AddDate(-17, 0, 0), time.Now().AddDate(-1, 0, 0))
			c := &patient.Child{
				GuardianID: g.ID,
				FirstName:  s.faker.FirstName(),
				LastName:   g.LastName,
				BirthDate:  born.Format(time.DateOnly),
			}
			if err := s.profiles.CreateChild(ctx, staff, c); err != nil {
				return nil, err
			}
			f.childIDs = append(f.childIDs, c.ID)
		}
		out = append(out, f)

		if (i+1)%100 == 0 {
			s.logger.Info().Int("done", i+1).Int("total", count).Msg("families seeded")
		}
	}
	return out, nil
}

// seedBookings books random half-hour slots over the next two weeks. Attempts
// that collide with a booking or fall on a day off are counted and skipped.
func (s *seeder) seedBookings(ctx context.Context, practitioners []*scheduling.Practitioner, families []family, attempts int) error {
	if len(practitioners) == 0 || len(families) == 0 {
		return nil
	}
	staff := auth.Scope{UserID: uuid.Nil}
	today := scheduling.DateOf(time.Now().UTC())
	serviceID := uuid.New()

	var created, rejected int
	for i := 0; i < attempts; i++ {
		p := practitioners[s.faker.Number(0, len(practitioners)-1)]
		f := families[s.faker.Number(0, len(families)-1)]
		child := f.childIDs[s.faker.Number(0, len(f.childIDs)-1)]

		loc, err := p.Location()
		if err != nil {
			return err
		}
		day := today.AddDays(s.faker.Number(1, 14))
		start := day.At(scheduling.TimeOfDay(8*60+30*s.faker.Number(0, 15)), loc)

		_, err = s.ledger.Reserve(ctx, staff, scheduling.ReserveRequest{
			PractitionerID: p.ID,
			ServiceID:      serviceID,
			ChildID:        &child,
			GuardianID:     &f.guardianID,
			StartAt:        start,
			EndAt:          start.Add(30 * time.Minute),
			Source:         scheduling.SourceStaff,
			Confirm:        s.faker.Bool(),
		})
		switch {
		case err == nil:
			created++
		case conflict.KindOf(err) == conflict.DoubleBooked, conflict.KindOf(err) == conflict.DoctorUnavailable:
			rejected++
		default:
			return err
		}
	}
	s.logger.Info().Int("created", created).Int("rejected", rejected).Msg("bookings seeded")
	return nil
}
