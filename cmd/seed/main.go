package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"sanskrit-enrollment/internal/config"
	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	pg "sanskrit-enrollment/internal/infra/db/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	dev := flag.Bool("dev", true, "developer mode")
	reset := flag.Bool("reset", false, "wipe ledger, enrollment and webhook tables first (manual end-to-end runs)")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*configPath, *dev)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if *reset {
		const q = `TRUNCATE webhook_events, enrollments, payment_transaction_events, payment_transactions;`
		if _, err := pool.Exec(ctx, q); err != nil {
			log.Fatalf("reset: %v", err)
		}
		fmt.Println("reset: ledger, enrollments and webhook receipts cleared")
	}

	courses := pg.NewCourseRepo(pool)

	// Sample catalogue for exercising the payment flow. Prices are in paise.
	seed := []struct {
		ID, Guru, Title string
		Price           int64
		Devices         int
	}{
		{"sanskrit-101", "guru-vidya", "Devanagari and Sandhi Basics", 149_900, 2},
		{"gita-path", "guru-vidya", "Reading the Bhagavad Gita", 299_900, 3},
		{"panini-sutras", "guru-ashtadhyayi", "Introduction to the Ashtadhyayi", 499_900, 0},
	}

	for _, s := range seed {
		if existing, err := courses.FindByID(ctx, nil, s.ID); err == nil {
			fmt.Printf("exists: %s (%s, price=%d %s)\n", existing.ID, existing.Title, existing.Price, existing.Currency)
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			log.Fatalf("lookup course %q: %v", s.ID, err)
		}
		c, err := model.NewCourse(s.ID, s.Guru, s.Title, s.Price, model.DefaultCurrency, s.Devices)
		if err != nil {
			log.Fatalf("build course %q: %v", s.ID, err)
		}
		if err := courses.Save(ctx, nil, c); err != nil {
			log.Fatalf("save course %q: %v", s.ID, err)
		}
		fmt.Printf("seeded: %s (%s, price=%d %s, devices=%d)\n", c.ID, c.Title, c.Price, c.Currency, c.DeviceLimit)
	}

	fmt.Println("Seeding complete.")
}
