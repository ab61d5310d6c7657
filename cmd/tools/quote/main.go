package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tld-quote/internal/app"
	"github.com/noah-isme/tld-quote/internal/config"
	"github.com/noah-isme/tld-quote/internal/obs"
	"github.com/noah-isme/tld-quote/internal/pricing"
)

type flags struct {
	extension   string
	domain      string
	currency    string
	codes       string
	transaction string
	policy      string
	fractional  bool
	at          string
	list        bool
	// fractionalSet distinguishes -fractional=false from the configured default.
	fractionalSet bool
}

func main() {
	var f flags
	flag.StringVar(&f.extension, "extension", "", "extension to price, e.g. com or .com.ng")
	flag.StringVar(&f.domain, "domain", "", "full domain name; its longest priced suffix is quoted")
	flag.StringVar(&f.currency, "currency", "USD", "ISO currency code of the quote")
	flag.StringVar(&f.codes, "codes", "", "comma separated discount codes")
	flag.StringVar(&f.transaction, "transaction", "create", "create, renew, restore or transfer")
	flag.StringVar(&f.policy, "policy", "", "discount policy override: max or stack")
	flag.BoolVar(&f.fractional, "fractional", false, "keep two decimal places instead of whole units")
	flag.StringVar(&f.at, "at", "", "RFC3339 time to price at; defaults to now")
	flag.BoolVar(&f.list, "list", false, "print priced extensions and currencies instead of a quote")
	flag.Parse()
	flag.Visit(func(fl *flag.Flag) {
		if fl.Name == "fractional" {
			f.fractionalSet = true
		}
	})

	cfg, err := config.Load()
	if err != nil {
		bootLogger := obs.NewLogger("console", "info")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := obs.NewLogger("console", cfg.LogLevel)
	if err := run(logger.WithContext(context.Background()), cfg, f, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("quote")
	}
}

func run(ctx context.Context, cfg *config.Config, f flags, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	calc, err := app.NewCalculator(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initialise pricing: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if f.list {
		return enc.Encode(map[string][]string{"extensions": calc.Extensions(), "currencies": calc.Currencies()})
	}

	opts, err := f.options()
	if err != nil {
		return err
	}
	var q pricing.Quote
	switch {
	case f.domain != "":
		q, err = calc.QuoteDomain(ctx, f.domain, f.currency, opts)
	case f.extension != "":
		q, err = calc.Quote(ctx, f.extension, f.currency, opts)
	default:
		return errors.New("one of -extension or -domain is required")
	}
	if err != nil {
		zerolog.Ctx(ctx).Debug().Str("kind", string(pricing.KindOf(err))).Msg("quote_rejected")
		return err
	}
	return enc.Encode(q)
}

func (f flags) options() (pricing.Options, error) {
	tx, ok := pricing.ParseTransaction(f.transaction)
	if !ok {
		return pricing.Options{}, fmt.Errorf("unknown transaction %q", f.transaction)
	}
	opts := pricing.Options{Transaction: tx}
	if f.policy != "" {
		p, ok := pricing.ParseDiscountPolicy(f.policy)
		if !ok {
			return pricing.Options{}, fmt.Errorf("unknown discount policy %q", f.policy)
		}
		opts.DiscountPolicy = p
	}
	if f.codes != "" {
		opts.DiscountCodes = strings.Split(f.codes, ",")
	}
	if f.fractionalSet {
		fractional := f.fractional
		opts.AllowFractionalAmounts = &fractional
	}
	if f.at != "" {
		ts, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return pricing.Options{}, fmt.Errorf("parse -at: %w", err)
		}
		opts.Now = ts
	}
	return opts, nil
}
