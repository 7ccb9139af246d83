package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/factory"
)

type normalizeOutput struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Cadence  string          `json:"cadence"`
	On       string          `json:"on"`
	Base     string          `json:"base_currency"`
	Monthly  decimal.Decimal `json:"monthly"`
}

func newNormalizeCmd(opts *options) *cobra.Command {
	var (
		amount, currency, cadence, base, on string
		rates                               []string
	)
	c := &cobra.Command{
		Use:   "normalize",
		Short: "Convert a raw cost figure to its monthly base-currency amount",
		Long: `Convert an amount in any currency and cadence to the monthly equivalent in
the base currency. Rates come from --rate flags and, when given, the snapshot.

Examples:
  abcctl normalize --amount 1200 --currency EUR --cadence annual --rate EUR:UAH=43.5
  abcctl normalize --snapshot costs.json --amount 36000 --cadence quarterly`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			date := time.Now()
			if on != "" {
				if date, err = time.Parse("2006-01-02", on); err != nil {
					return fmt.Errorf("invalid --on %q: %w", on, err)
				}
			}

			table := costing.NewRateTable()
			baseCurrency := costing.Currency(base)
			if opts.snapshot != "" {
				data, err := os.ReadFile(opts.snapshot)
				if err != nil {
					return fmt.Errorf("read snapshot: %w", err)
				}
				snap, err := factory.ParseSnapshot(data)
				if err != nil {
					return err
				}
				if err := snap.ApplyRates(table); err != nil {
					return err
				}
				if baseCurrency == "" {
					baseCurrency = snap.Base(opts.cfg.BaseCurrency)
				}
			}
			if baseCurrency == "" {
				baseCurrency = opts.cfg.BaseCurrency
			}
			for _, r := range rates {
				if err := parseRateFlag(table, r); err != nil {
					return err
				}
			}

			n := costing.Normalizer{Base: baseCurrency, Converter: table}
			monthly, err := n.Monthly(cmd.Context(), value, costing.Currency(currency), costing.Cadence(cadence), date)
			if err != nil {
				return err
			}
			out := normalizeOutput{
				Amount:   value,
				Currency: currency,
				Cadence:  cadence,
				On:       date.Format("2006-01-02"),
				Base:     string(baseCurrency),
				Monthly:  monthly,
			}
			return opts.render(cmd.OutOrStdout(), out, func(w io.Writer) error {
				cur := out.Currency
				if cur == "" {
					cur = out.Base
				}
				_, err := fmt.Fprintf(w, "%s %s %s = %s %s/month\n", out.Amount, cur, out.Cadence, monthly.StringFixed(2), out.Base)
				return err
			})
		},
	}
	c.Flags().StringVar(&amount, "amount", "", "raw amount")
	c.Flags().StringVar(&currency, "currency", "", "currency of the amount (default: base)")
	c.Flags().StringVar(&cadence, "cadence", string(costing.CadenceMonthly), "monthly, quarterly, annual or one_time")
	c.Flags().StringVar(&base, "base", "", "base currency (default: snapshot or ABC_BASE_CURRENCY)")
	c.Flags().StringVar(&on, "on", "", "conversion date (YYYY-MM-DD, default today)")
	c.Flags().StringArrayVar(&rates, "rate", nil, "exchange rate FROM:TO=rate, repeatable")
	_ = c.MarkFlagRequired("amount")
	return c
}

// parseRateFlag reads FROM:TO=rate into an always-effective table entry.
func parseRateFlag(table *costing.RateTable, s string) error {
	pair, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("invalid --rate %q: want FROM:TO=rate", s)
	}
	from, to, ok := strings.Cut(pair, ":")
	if !ok || from == "" || to == "" {
		return fmt.Errorf("invalid --rate %q: want FROM:TO=rate", s)
	}
	rate, err := decimal.NewFromString(value)
	if err != nil || !rate.IsPositive() {
		return fmt.Errorf("invalid --rate %q: rate must be a positive number", s)
	}
	table.Set(costing.Currency(strings.ToUpper(from)), costing.Currency(strings.ToUpper(to)), rate, time.Time{})
	return nil
}
