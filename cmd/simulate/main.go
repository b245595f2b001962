package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	RaceSize     int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
	DaysAhead    int
	PatientLimit int
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Slots   OperationMetrics
	Booking OperationMetrics
	Race    OperationMetrics
	Status  OperationMetrics
	Read    OperationMetrics
	Counts  OperationMetrics

	// raceWinners counts races by how many requests won; anything other
	// than exactly one winner is a double booking or a lost slot.
	raceMu      sync.Mutex
	raceWinners map[int]int
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

type slot struct {
	Date  string `json:"date"`
	Start string `json:"start"`
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(baseCfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("race_size", cfg.RaceSize),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, false, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data loaded", zap.Int("doctors", len(dataPool.Doctors)), zap.Int("patients", len(dataPool.Patients)))

	sim := &Simulator{
		config:  cfg,
		pool:    dataPool,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: Metrics{raceWinners: make(map[int]int)},
		logger:  logger,
	}

	if err := sim.Run(); err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		RaceSize:     getInt("SIM_RACE_SIZE", 5),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 14),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
	}

	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RaceSize < 2 {
		cfg.RaceSize = 2
	}
	return cfg
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	load := func(query string, dst *[]uuid.UUID, args ...any) error {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			*dst = append(*dst, id)
		}
		return rows.Err()
	}

	if err := load(`SELECT DISTINCT doctor_id FROM weekly_availability WHERE active`, &dataPool.Doctors); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	if err := load(`SELECT id FROM patients LIMIT $1`, &dataPool.Patients, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with availability, run cmd/seed first")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			s.worker(ctx, int64(i))
			return nil
		})
	}
	return g.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int64) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + workerID))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			if rng.Intn(4) == 0 {
				s.doRace(ctx, rng)
			} else {
				s.doBooking(ctx, rng)
			}
		case r < s.config.BookingRatio+s.config.StatusRatio:
			s.doStatus(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doRead(ctx, rng)
			} else {
				s.doCounts(ctx, rng)
			}
		}
	}
}

func (s *Simulator) randomDoctor(rng *rand.Rand) uuid.UUID {
	return s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
}

func (s *Simulator) randomPatient(rng *rand.Rand) uuid.UUID {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

// pickSlot lists a doctor's free slots on a random upcoming day and returns one.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand, doctorID uuid.UUID) (slot, bool) {
	date := time.Now().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)).Format("2006-01-02")

	var resp struct {
		Slots []slot `json:"slots"`
	}
	status, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/doctors/%s/slots?date=%s", doctorID, date), nil, &resp)
	s.metrics.Slots.Record(latency, status, err)
	if err != nil || status != http.StatusOK || len(resp.Slots) == 0 {
		return slot{}, false
	}
	return resp.Slots[rng.Intn(len(resp.Slots))], true
}

func (s *Simulator) book(ctx context.Context, doctorID, patientID uuid.UUID, sl slot) (int, time.Duration, error) {
	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", map[string]string{
		"doctor_id":  doctorID.String(),
		"patient_id": patientID.String(),
		"date":       sl.Date,
		"time":       sl.Start,
	}, &appt)
	if err == nil && status == http.StatusCreated && appt.ID != uuid.Nil {
		s.pool.AddAppointment(appt.ID)
	}
	return status, latency, err
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.randomDoctor(rng)
	sl, ok := s.pickSlot(ctx, rng, doctorID)
	if !ok {
		return
	}
	status, latency, err := s.book(ctx, doctorID, s.randomPatient(rng), sl)
	s.metrics.Booking.Record(latency, status, err)
}

// doRace fires RaceSize concurrent bookings at one free slot. Exactly one
// should succeed and the rest should get 409.
func (s *Simulator) doRace(ctx context.Context, rng *rand.Rand) {
	doctorID := s.randomDoctor(rng)
	sl, ok := s.pickSlot(ctx, rng, doctorID)
	if !ok {
		return
	}

	patients := make([]uuid.UUID, s.config.RaceSize)
	for i := range patients {
		patients[i] = s.randomPatient(rng)
	}

	var winners int64
	var g errgroup.Group
	for _, patientID := range patients {
		g.Go(func() error {
			status, latency, err := s.book(ctx, doctorID, patientID, sl)
			s.metrics.Race.Record(latency, status, err)
			if err == nil && status == http.StatusCreated {
				atomic.AddInt64(&winners, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return
	}
	s.metrics.raceMu.Lock()
	s.metrics.raceWinners[int(winners)]++
	s.metrics.raceMu.Unlock()
	if winners > 1 {
		s.logger.Error("double booking detected",
			zap.Stringer("doctor_id", doctorID),
			zap.String("date", sl.Date),
			zap.String("time", sl.Start),
			zap.Int64("winners", winners),
		)
	}
}

var nextStatus = []string{"confirmed", "checked_in", "completed", "cancelled", "no_show"}

func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/appointments/%s/status", apptID),
		map[string]string{"status": nextStatus[rng.Intn(len(nextStatus))]}, nil)
	s.metrics.Status.Record(latency, status, err)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/appointments/%s", apptID), nil, nil)
	s.metrics.Read.Record(latency, status, err)
}

func (s *Simulator) doCounts(ctx context.Context, rng *rand.Rand) {
	from := time.Now().Format("2006-01-02")
	status, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/doctors/%s/availability-counts?from=%s&days=30", s.randomDoctor(rng), from), nil, nil)
	s.metrics.Counts.Record(latency, status, err)
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("List slots", &s.metrics.Slots)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Race booking", &s.metrics.Race)
	printOperationReport("Status change", &s.metrics.Status)
	printOperationReport("Read by ID", &s.metrics.Read)
	printOperationReport("Availability counts", &s.metrics.Counts)

	s.metrics.raceMu.Lock()
	defer s.metrics.raceMu.Unlock()
	if len(s.metrics.raceWinners) > 0 {
		fmt.Println("Races by number of winners:")
		keys := make([]int, 0, len(s.metrics.raceWinners))
		for k := range s.metrics.raceWinners {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			fmt.Printf("  %d winner(s): %d\n", k, s.metrics.raceWinners[k])
		}
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
