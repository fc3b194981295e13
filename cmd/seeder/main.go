// cmd/seeder/main.go fills the configured store with a demo campaign and
// simulated engagement so the dashboard has something to show. No email is
// sent.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/app"
	"github.com/unclebandit/phishsim-backend/internal/config"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/repository"
)

type demoTarget struct {
	row       model.TargetRow
	clicked   bool
	submitted bool
	reported  bool
}

var demoTargets = []demoTarget{
	{row: model.TargetRow{Email: "alice@example.com", Name: "Alice Moreno", Department: "Finance"}, clicked: true, submitted: true},
	{row: model.TargetRow{Email: "bob@example.com", Name: "Bob Otieno", Department: "Sales"}, clicked: true},
	{row: model.TargetRow{Email: "carol@example.com", Name: "Carol Wu", Department: "Engineering"}, reported: true},
	{row: model.TargetRow{Email: "dan@example.com", Name: "Dan Kowalski", Department: "HR"}},
}

func main() {
	defer func() { _ = logging.Sync() }()
	log := logging.L()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		logging.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	campaign, err := seed(ctx, a.Store, time.Now().UTC())
	if err != nil {
		logging.Fatal("seed failed", zap.Error(err))
	}
	fmt.Fprintf(os.Stdout, "Seeded campaign %d (%s) with %d targets\n", campaign.ID, campaign.Name, len(demoTargets))
}

// seed creates the demo campaign and replays its tracking events through
// the same conditional writes the live endpoints use.
func seed(ctx context.Context, store repository.Store, now time.Time) (*model.Campaign, error) {
	campaign, err := store.CreateCampaign(ctx, "Demo: Q1 Password Reset", "it_password_reset")
	if err != nil {
		return nil, err
	}

	rows := make([]model.TargetRow, 0, len(demoTargets))
	for _, d := range demoTargets {
		rows = append(rows, d.row)
	}
	targets, err := store.AddTargets(ctx, campaign.ID, rows)
	if err != nil {
		return nil, fmt.Errorf("add targets: %w", err)
	}

	sentAt := now.Add(-2 * time.Hour)
	for i, t := range targets {
		d := demoTargets[i]
		if _, err := store.MarkSent(ctx, t.ID, sentAt); err != nil {
			return nil, err
		}
		if d.clicked {
			if _, err := store.MarkClicked(ctx, t.ID, sentAt.Add(time.Duration(i+1)*10*time.Minute), "198.51.100.7", "Mozilla/5.0 (demo)"); err != nil {
				return nil, err
			}
		}
		if d.submitted {
			if _, err := store.MarkSubmitted(ctx, t.ID, sentAt.Add(time.Hour)); err != nil {
				return nil, err
			}
		}
		if d.reported {
			if err := store.MarkReported(ctx, t.ID); err != nil {
				return nil, err
			}
		}
	}
	return campaign, nil
}
