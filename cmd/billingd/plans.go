package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/svc/billing/pgstore"
)

var (
	flagPlansOutput string
	flagPlansFile   string
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the plan catalog",
	Long: `Print the plans the server would load: BILLING_PLANS_FILE when set, the
billing_plans table for postgres storage, the built-in plans otherwise.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := loadAppConfig()
		if err != nil {
			return err
		}
		catalog, err := catalogForCLI(cmd.Context(), app)
		if err != nil {
			return err
		}
		return printPlans(cmd.OutOrStdout(), catalog.List(), flagPlansOutput)
	},
}

var plansSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert plans from a YAML file into postgres",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		app, err := loadAppConfig()
		if err != nil {
			return err
		}
		log := newLogger(app)

		path := flagPlansFile
		if path == "" {
			path = app.PlansFile
		}
		var plans []subscription.Plan
		if path == "" {
			plans = defaultPlans()
		} else {
			// Loading through a catalog validates the document before anything is written.
			catalog, err := subscription.NewCatalog(ctx, subscription.NewYAMLSource(path))
			if err != nil {
				return err
			}
			plans = catalog.List()
		}

		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pgstore.NewPlanSource(pool, pgstore.WithLogger(log)).Upsert(ctx, plans...); err != nil {
			return err
		}
		log.Info("plans synced", "count", len(plans))
		return nil
	},
}

func init() {
	plansCmd.Flags().StringVarP(&flagPlansOutput, "output", "o", "table", "Output format: table, json, yaml")
	plansSyncCmd.Flags().StringVarP(&flagPlansFile, "file", "f", "", "YAML plan file (default BILLING_PLANS_FILE, then built-in plans)")
	plansCmd.AddCommand(plansSyncCmd)
}

func catalogForCLI(ctx context.Context, app AppConfig) (*subscription.Catalog, error) {
	if app.PlansFile != "" || app.Storage != storagePostgres {
		return loadCatalog(ctx, app, nil)
	}
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	return loadCatalog(ctx, app, pool)
}

func printPlans(w io.Writer, plans []subscription.Plan, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plans)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(plans)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPRICE\tPERIOD\tTRIAL\tPUBLIC\tLIMITS")
		for _, p := range plans {
			limits := make([]string, 0, len(p.Limits))
			for _, k := range p.LimitKeys() {
				v := fmt.Sprint(p.Limits[k])
				if p.Limits[k] == subscription.Unlimited {
					v = "unlimited"
				}
				limits = append(limits, k+"="+v)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
				p.ID, p.Name, p.Price.Format(language.English), p.Period, p.TrialDays, p.Public, strings.Join(limits, " "))
		}
		return tw.Flush()
	default:
		return errors.New("unknown output format: " + format)
	}
}

// defaultPlans is the catalog used when neither a plans file nor postgres
// plans are configured.
func defaultPlans() []subscription.Plan {
	return []subscription.Plan{
		{
			ID:          "free",
			Name:        "Free",
			Description: "For trying things out",
			Price:       subscription.NewMoney(0, "USD"),
			Period:      subscription.PeriodMonthly,
			Limits: map[string]int64{
				"max_projects":          3,
				"max_courses":           1,
				"max_tasks":             50,
				"storage_gb":            1,
				"ai_requests_per_month": 20,
			},
			Public: true,
		},
		{
			ID:          "pro",
			Name:        "Pro",
			Description: "For individuals shipping real work",
			Price:       subscription.NewMoney(1999, "USD"),
			Period:      subscription.PeriodMonthly,
			TrialDays:   14,
			Limits: map[string]int64{
				"max_projects":          25,
				"max_courses":           10,
				"max_tasks":             subscription.Unlimited,
				"storage_gb":            50,
				"ai_requests_per_month": 1000,
			},
			Features: []string{"priority_support"},
			Public:   true,
		},
		{
			ID:          "business",
			Name:        "Business",
			Description: "For teams",
			Price:       subscription.NewMoney(19900, "USD"),
			Period:      subscription.PeriodYearly,
			TrialDays:   14,
			Limits: map[string]int64{
				"max_projects":          subscription.Unlimited,
				"max_courses":           subscription.Unlimited,
				"max_tasks":             subscription.Unlimited,
				"storage_gb":            500,
				"ai_requests_per_month": subscription.Unlimited,
			},
			Features: []string{"priority_support", "sso"},
			Public:   true,
		},
	}
}
