package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"propmarket-payments/internal/config"
	"propmarket-payments/internal/domain/model"
	pg "propmarket-payments/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	// seeding is a development task, so dev rules apply to validation
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	planRepo := pg.NewPostgresPlanRepo(pool)

	existing, err := planRepo.ListActive(ctx, nil)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(existing))
		for _, p := range existing {
			fmt.Printf("  - %s [%s] %s %s for %d days\n", p.ID, p.Category, p.Price.StringFixed(2), p.Currency, p.DurationDays)
		}
		return
	}

	seed := []struct {
		ID       string
		Category model.Role
		Name     string
		Price    string
		Days     int
		Features map[string]any
	}{
		{"buyer-free", model.RoleBuyer, "Buyer Free", "0", 30, map[string]any{"saved_searches": 3, "contact_unlocks": 5}},
		{"buyer-plus", model.RoleBuyer, "Buyer Plus", "199", 30, map[string]any{"saved_searches": 25, "contact_unlocks": 50}},
		{"owner-basic", model.RoleOwner, "Owner Basic", "499", 30, map[string]any{"listings": 1, "photos": 10}},
		{"owner-premium", model.RoleOwner, "Owner Premium", "1499", 90, map[string]any{"listings": 3, "photos": 30, "featured": true}},
		{"agent-pro", model.RoleAgent, "Agent Pro", "2999", 30, map[string]any{"listings": 50, "leads": true}},
	}

	for _, s := range seed {
		p, err := model.NewPlan(s.ID, s.Category, s.Name, decimal.RequireFromString(s.Price), cfg.Payment.Currency, s.Days, s.Features)
		if err != nil {
			log.Fatalf("build plan %q: %v", s.ID, err)
		}
		if err := planRepo.Save(ctx, nil, p); err != nil {
			log.Fatalf("save plan %q: %v", s.ID, err)
		}
		fmt.Printf("seeded: %s [%s] %s %s for %d days (%d minor units)\n", p.ID, p.Category, p.Price.StringFixed(2), p.Currency, p.DurationDays, p.MinorUnits())
	}

	fmt.Println("Seeding complete.")
}
