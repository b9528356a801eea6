package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/dental-booking/internal/appointment"
	"github.com/hackgods/dental-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	SlotRatio  float64
	Patients   int // distinct contacts; fewer means more duplicate rejections
	Callers    int // distinct client IPs; fewer means more rate limiting
	DaysAhead  int
}

type patient struct {
	Name  string
	Email string
	Phone string
}

// OperationMetrics counts responses by HTTP status code. Code 0 is a
// transport error.
type OperationMetrics struct {
	mu        sync.Mutex
	byStatus  map[int]int
	latencies map[int][]time.Duration
}

func newOperationMetrics() *OperationMetrics {
	return &OperationMetrics{
		byStatus:  map[int]int{},
		latencies: map[int][]time.Duration{},
	}
}

func (om *OperationMetrics) Record(status int, latency time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.byStatus[status]++
	om.latencies[status] = append(om.latencies[status], latency)
}

func percentiles(latencies []time.Duration) (avg, p50, p95, max time.Duration) {
	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	idx := func(pct int) time.Duration {
		i := len(sorted) * pct / 100
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}
	return sum / time.Duration(len(sorted)), idx(50), idx(95), sorted[len(sorted)-1]
}

type Simulator struct {
	config   SimConfig
	patients []patient
	callers  []string
	services []string
	client   *http.Client
	logger   *logrus.Logger

	booking *OperationMetrics
	slots   *OperationMetrics
	rmu     sync.Mutex
	reasons map[string]int
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid config")
	}

	logger.WithFields(logrus.Fields{
		"base_url": cfg.APIBaseURL,
		"duration": cfg.Duration.String(),
		"workers":  cfg.Workers,
		"patients": cfg.Patients,
		"callers":  cfg.Callers,
	}).Info("simulator starting")

	gofakeit.Seed(time.Now().UnixNano())
	sim := &Simulator{
		config:   cfg,
		patients: fakePatients(cfg.Patients),
		callers:  fakeCallers(cfg.Callers),
		services: []string{"Dental Cleaning", "Teeth Whitening", "Root Canal", "Consultation"},
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		booking:  newOperationMetrics(),
		slots:    newOperationMetrics(),
		reasons:  map[string]int{},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:   getDuration("SIM_DURATION", 30*time.Second),
		Workers:    getInt("SIM_WORKERS", 10),
		SlotRatio:  getFloat("SIM_SLOT_RATIO", 0.3),
		Patients:   getInt("SIM_PATIENTS", 50),
		Callers:    getInt("SIM_CALLERS", 20),
		DaysAhead:  getInt("SIM_DAYS_AHEAD", 14),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Callers <= 0 {
		return fmt.Errorf("SIM_PATIENTS and SIM_CALLERS must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func fakePatients(n int) []patient {
	out := make([]patient, n)
	for i := range out {
		out[i] = patient{
			Name:  gofakeit.Name(),
			Email: gofakeit.Email(),
			Phone: fmt.Sprintf("+9665%08d", gofakeit.Number(0, 99999999)),
		}
	}
	return out
}

func fakeCallers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = gofakeit.IPv4Address()
	}
	return out
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			date := time.Now().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)).Format("2006-01-02")
			if rng.Float64() < s.config.SlotRatio {
				s.doSlots(ctx, date)
			} else {
				s.doBooking(ctx, rng, date)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, date string) {
	p := s.patients[rng.Intn(len(s.patients))]
	slot := rng.Intn(24)

	body, _ := json.Marshal(appointment.Submission{
		Name:    p.Name,
		Email:   p.Email,
		Phone:   p.Phone,
		Service: s.services[rng.Intn(len(s.services))],
		Date:    date,
		Time:    fmt.Sprintf("%02d:%02d", 9+slot/2, (slot%2)*30),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", s.callers[rng.Intn(len(s.callers))])

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.booking.Record(0, latency)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			s.countReason(fmt.Sprintf("%d %s", resp.StatusCode, e.Error))
		}
	}
	s.booking.Record(resp.StatusCode, latency)
}

func (s *Simulator) doSlots(ctx context.Context, date string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/slots?check_date="+date, nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.slots.Record(0, latency)
		}
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	s.slots.Record(resp.StatusCode, latency)
}

func (s *Simulator) countReason(reason string) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	s.reasons[reason]++
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d  Patients: %d  Callers: %d\n", s.config.Workers, s.config.Patients, s.config.Callers)
	fmt.Println()

	printOperationReport("Booking", s.booking)
	printOperationReport("Slot lookup", s.slots)

	fmt.Println("Booking rejections:")
	s.rmu.Lock()
	defer s.rmu.Unlock()
	keys := make([]string, 0, len(s.reasons))
	for k := range s.reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-60s %d\n", k, s.reasons[k])
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	om.mu.Lock()
	defer om.mu.Unlock()

	total := 0
	codes := make([]int, 0, len(om.byStatus))
	for code, n := range om.byStatus {
		total += n
		codes = append(codes, code)
	}
	if total == 0 {
		return
	}
	sort.Ints(codes)

	fmt.Printf("%s: %d requests\n", name, total)
	for _, code := range codes {
		n := om.byStatus[code]
		avg, p50, p95, max := percentiles(om.latencies[code])
		label := strconv.Itoa(code)
		if code == 0 {
			label = "transport error"
		}
		fmt.Printf("  %-16s %6d (%5.1f%%)  avg=%s p50=%s p95=%s max=%s\n",
			label, n, float64(n)/float64(total)*100,
			avg.Round(time.Millisecond), p50.Round(time.Millisecond),
			p95.Round(time.Millisecond), max.Round(time.Millisecond))
	}
	fmt.Println()
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
