package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const (
	doctorCount  = 50
	patientCount = 5000
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage != config.StoragePostgres {
		fmt.Fprintln(os.Stderr, "seed only works with STORAGE=postgres")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, true, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), pool, faker, doctorCount, logger); err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedPatients(context.Background(), pool, faker, patientCount, logger); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete")
}

// weeklyTemplates are the schedules doctors are drawn from. Each entry is a
// list of windows applied to every listed weekday.
var weeklyTemplates = []struct {
	days    []scheduling.Weekday
	windows [][2]scheduling.Clock
}{
	{
		days:    []scheduling.Weekday{scheduling.Monday, scheduling.Tuesday, scheduling.Wednesday, scheduling.Thursday, scheduling.Friday},
		windows: [][2]scheduling.Clock{{scheduling.NewClock(9, 0), scheduling.NewClock(12, 0)}, {scheduling.NewClock(13, 0), scheduling.NewClock(17, 0)}},
	},
	{
		days:    []scheduling.Weekday{scheduling.Monday, scheduling.Wednesday, scheduling.Friday},
		windows: [][2]scheduling.Clock{{scheduling.NewClock(8, 0), scheduling.NewClock(14, 0)}},
	},
	{
		days:    []scheduling.Weekday{scheduling.Tuesday, scheduling.Thursday, scheduling.Saturday},
		windows: [][2]scheduling.Clock{{scheduling.NewClock(10, 0), scheduling.NewClock(18, 0)}},
	},
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger *zap.Logger) error {
	logger.Info("seeding doctors", zap.Int("count", count))

	slotLengths := []int{15, 20, 30, 45}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		slotMinutes := slotLengths[faker.Number(0, len(slotLengths)-1)]
		phone := faker.Phone()

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, phone, default_slot_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, "Dr. "+faker.Name(), phone, slotMinutes)
		if err != nil {
			return err
		}

		if err := seedWeekly(ctx, tx, faker, id, slotMinutes); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info("doctors seeded")
	return nil
}

func seedWeekly(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, doctorID uuid.UUID, slotMinutes int) error {
	tpl := weeklyTemplates[faker.Number(0, len(weeklyTemplates)-1)]
	modality := scheduling.ModalityInPerson
	if faker.Bool() {
		modality = scheduling.ModalityTelemedicine
	}

	for _, day := range tpl.days {
		for _, w := range tpl.windows {
			_, err := tx.Exec(ctx, `
				INSERT INTO weekly_availability (id, doctor_id, weekday, start_time, end_time, slot_minutes, modality, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4::time, $5::time, $6, $7, true, now(), now())
			`, uuid.New(), doctorID, int16(day), w[0].String(), w[1].String(), slotMinutes, string(modality))
			if err != nil {
				return fmt.Errorf("weekly availability for %s: %w", doctorID, err)
			}
		}
	}
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger *zap.Logger) error {
	logger.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			var phone, email *string
			if faker.Number(0, 2) > 0 {
				p := faker.Phone()
				phone = &p
			}
			if phone == nil || faker.Bool() {
				e := faker.Email()
				email = &e
			}
			batch.Queue(`
				INSERT INTO patients (id, name, phone, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), faker.Name(), phone, email)
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return nil
}
