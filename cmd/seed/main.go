package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"

	"github.com/hackgods/dental-booking/internal/appointment"
	"github.com/hackgods/dental-booking/internal/db"
	"github.com/hackgods/dental-booking/internal/logging"
)

var services = []string{
	"Dental Cleaning",
	"Teeth Whitening",
	"Root Canal",
	"Dental Implants",
	"Orthodontics",
	"Tooth Extraction",
	"Dental Fillings",
	"Consultation",
}

var statuses = []appointment.AppointmentStatus{
	appointment.StatusPendingDoctor,
	appointment.StatusPendingDoctor,
	appointment.StatusPendingPatient,
	appointment.StatusConfirmed,
	appointment.StatusConfirmed,
	appointment.StatusCancelledByPatient,
	appointment.StatusRejectedByDoctor,
}

var sources = []appointment.Source{
	appointment.SourceBookingForm,
	appointment.SourceBookingForm,
	appointment.SourceVoiceAssistant,
	appointment.SourceAdminBooking,
}

var sampleNotes = []string{
	"Sensitive to cold drinks",
	"First visit",
	"Prefers a female dentist",
	"Follow up on last treatment",
	"Bleeding gums when brushing",
}

func main() {
	count := flag.Int("count", 200, "appointments to create")
	weeks := flag.Int("weeks", 4, "spread appointments over this many weeks from today")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))
	logger.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.DefaultPoolOptions())
	if err != nil {
		logger.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	repo := appointment.NewPgRepository(pool)
	gofakeit.Seed(time.Now().UnixNano())

	created := 0
	for i := 0; i < *count; i++ {
		in := fakeAppointment(*weeks)
		if _, err := repo.CreateAppointment(context.Background(), in); err != nil {
			logger.WithError(err).Fatal("seed appointment")
		}
		created++
		if created%50 == 0 {
			logger.WithField("created", created).Info("seeding progress")
		}
	}

	logger.WithField("created", created).Info("seed complete")
}

func fakeAppointment(weeks int) appointment.NewAppointment {
	day := time.Now().AddDate(0, 0, gofakeit.Number(0, weeks*7-1))
	// 09:00 through 20:30 in 30 minute steps.
	slot := gofakeit.Number(0, 23)
	at := fmt.Sprintf("%02d:%02d:00", 9+slot/2, (slot%2)*30)

	var notes *string
	if gofakeit.Bool() {
		n := sampleNotes[gofakeit.Number(0, len(sampleNotes)-1)]
		notes = &n
	}

	return appointment.NewAppointment{
		Name:    gofakeit.Name(),
		Email:   gofakeit.Email(),
		Phone:   fmt.Sprintf("+9665%08d", gofakeit.Number(0, 99999999)),
		Service: services[gofakeit.Number(0, len(services)-1)],
		Date:    day.Format("2006-01-02"),
		Time:    at,
		Notes:   notes,
		Status:  statuses[gofakeit.Number(0, len(statuses)-1)],
		Source:  sources[gofakeit.Number(0, len(sources)-1)],
	}
}
