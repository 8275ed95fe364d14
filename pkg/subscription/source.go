package subscription

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// NewMemorySource returns a Source serving the given plans.
func NewMemorySource(plans ...Plan) Source {
	return SourceFunc(func(context.Context) ([]Plan, error) {
		out := make([]Plan, len(plans))
		for i, p := range plans {
			out[i] = p.Clone()
		}
		return out, nil
	})
}

type yamlCatalog struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlPlan struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Price       decimal.Decimal   `yaml:"price"`
	Currency    string            `yaml:"currency"`
	Period      Period            `yaml:"period"`
	TrialDays   int               `yaml:"trial_days"`
	Public      *bool             `yaml:"public"`
	Limits      map[string]int64  `yaml:"limits"`
	Features    []string          `yaml:"features"`
	PriceIDs    map[string]string `yaml:"price_ids"`
}

// NewYAMLSource reads plans from a YAML file on every Load.
//
//	plans:
//	  - id: pro
//	    name: Pro
//	    price: "19.99"
//	    currency: USD
//	    period: monthly
//	    trial_days: 14
//	    limits: {max_projects: 10, storage_gb: 5, ai_requests: -1}
//	    price_ids: {stripe: price_123, paddle: pri_123}
func NewYAMLSource(path string) Source {
	return SourceFunc(func(context.Context) ([]Plan, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plans file: %w", err)
		}
		return ParseYAML(data)
	})
}

// ParseYAML decodes a YAML plan document. Prices are decimal strings in major
// units; currency defaults to USD and public defaults to true.
func ParseYAML(data []byte) ([]Plan, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlanConfiguration, err)
	}

	plans := make([]Plan, 0, len(doc.Plans))
	for _, yp := range doc.Plans {
		code := yp.Currency
		if code == "" {
			code = "USD"
		}
		price, err := MoneyFromDecimal(yp.Price, code)
		if err != nil {
			return nil, fmt.Errorf("%w: plan %q: %w", ErrInvalidPlanConfiguration, yp.ID, err)
		}
		public := true
		if yp.Public != nil {
			public = *yp.Public
		}
		plans = append(plans, Plan{
			ID:          yp.ID,
			Name:        yp.Name,
			Description: yp.Description,
			Price:       price,
			Period:      yp.Period,
			Limits:      yp.Limits,
			Features:    yp.Features,
			TrialDays:   yp.TrialDays,
			Public:      public,
			PriceIDs:    yp.PriceIDs,
		})
	}
	return plans, nil
}
