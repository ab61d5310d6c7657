package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/tld-quote/internal/common"
	"github.com/noah-isme/tld-quote/internal/obs"
	"github.com/noah-isme/tld-quote/internal/pricing"
	"github.com/noah-isme/tld-quote/internal/security"
)

// Engine is the subset of pricing.Calculator the handlers need.
type Engine interface {
	Quote(ctx context.Context, extension, currency string, opts pricing.Options) (pricing.Quote, error)
	QuoteDomain(ctx context.Context, domain, currency string, opts pricing.Options) (pricing.Quote, error)
	Extensions() []string
	Currencies() []string
}

var _ Engine = (*pricing.Calculator)(nil)

// Request is the quote input shared by the GET query string and the POST body.
type Request struct {
	Extension   string   `json:"extension" validate:"required_without=Domain,max=63"`
	Domain      string   `json:"domain" validate:"max=253"`
	Currency    string   `json:"currency" validate:"required,max=16"`
	Codes       []string `json:"codes" validate:"max=20,dive,max=64"`
	Transaction string   `json:"transaction" validate:"omitempty,oneof=create renew restore transfer"`
	Policy      string   `json:"policy" validate:"omitempty,oneof=max stack"`
	Fractional  *bool    `json:"fractional"`
}

// HandlerConfig groups Handler dependencies.
type HandlerConfig struct {
	Engine       Engine
	Validator    *validator.Validate
	Now          func() time.Time
	// MaxBodyBytes caps POST bodies; zero means 64 KiB.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 64 << 10

// Handler exposes quotes over HTTP.
type Handler struct {
	engine   Engine
	validate *validator.Validate
	now      func() time.Time
	maxBody  int64
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{engine: cfg.Engine, validate: v, now: now, maxBody: maxBody}
}

// Routes mounts the quote endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/quote", h.Get)
	r.Post("/quote", h.Post)
	r.Get("/extensions", h.Extensions)
	r.Get("/currencies", h.Currencies)
}

// Get prices the query string parameters.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serve(w, r, req)
}

// Post prices a JSON body.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if security.TooLarge(w, err) {
			return
		}
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	h.serve(w, r, req)
}

// Extensions lists every priced extension.
func (h *Handler) Extensions(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeNotReady, "pricing engine not ready", nil)
		return
	}
	common.Data(w, http.StatusOK, h.engine.Extensions())
}

// Currencies lists every currency a quote can be requested in.
func (h *Handler) Currencies(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeNotReady, "pricing engine not ready", nil)
		return
	}
	common.Data(w, http.StatusOK, h.engine.Currencies())
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, req Request) {
	if h.engine == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeNotReady, "pricing engine not ready", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, validationError(err))
		return
	}
	tx, _ := pricing.ParseTransaction(req.Transaction)
	var policy pricing.DiscountPolicy
	policyLabel := "default"
	if req.Policy != "" {
		policy, _ = pricing.ParseDiscountPolicy(req.Policy)
		policyLabel = string(policy)
	}
	opts := pricing.Options{
		DiscountCodes:          req.Codes,
		Now:                    h.now(),
		DiscountPolicy:         policy,
		Transaction:            tx,
		AllowFractionalAmounts: req.Fractional,
	}

	ctx, span := otel.Tracer("quote").Start(r.Context(), "quote.compute")
	defer span.End()
	span.SetAttributes(
		attribute.String("quote.extension", req.Extension),
		attribute.String("quote.domain", req.Domain),
		attribute.String("quote.currency", req.Currency),
		attribute.String("quote.transaction", string(tx)),
		attribute.Int("quote.codes", len(req.Codes)),
	)

	start := time.Now()
	var (
		q   pricing.Quote
		err error
	)
	if strings.TrimSpace(req.Domain) != "" {
		q, err = h.engine.QuoteDomain(ctx, req.Domain, req.Currency, opts)
	} else {
		q, err = h.engine.Quote(ctx, req.Extension, req.Currency, opts)
	}
	elapsed := obs.Millis(time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obs.RecordQuote(string(tx), resultLabel(err), elapsed, policyLabel, 0)
		zerolog.Ctx(ctx).Debug().Err(err).Msg("quote_rejected")
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.Float64("quote.total", q.TotalPrice),
		attribute.StringSlice("quote.applied_codes", q.AppliedCodes),
	)
	obs.RecordQuote(string(tx), "ok", elapsed, policyLabel, len(q.AppliedCodes))
	common.Data(w, http.StatusOK, q)
}

func requestFromQuery(r *http.Request) (Request, error) {
	q := r.URL.Query()
	req := Request{
		Extension:   q.Get("extension"),
		Domain:      q.Get("domain"),
		Currency:    q.Get("currency"),
		Transaction: q.Get("transaction"),
		Policy:      q.Get("policy"),
	}
	for _, raw := range append(q["codes"], q["code"]...) {
		for _, code := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(code); trimmed != "" {
				req.Codes = append(req.Codes, trimmed)
			}
		}
	}
	if raw := strings.TrimSpace(q.Get("fractional")); raw != "" {
		fractional, err := strconv.ParseBool(raw)
		if err != nil {
			return Request{}, common.Invalid("fractional must be a boolean", err)
		}
		req.Fractional = &fractional
	}
	return req, nil
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.Invalid("invalid request", err)
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: strings.ToLower(fe.Field()), Rule: fe.Tag()})
	}
	return common.Invalid("invalid request", err).WithDetails(details)
}

func resultLabel(err error) string {
	switch pricing.KindOf(err) {
	case pricing.KindUnsupportedExtension:
		return "unsupported_extension"
	case pricing.KindUnsupportedCurrency:
		return "unsupported_currency"
	default:
		return "error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pricingErr *pricing.Error
	if errors.As(err, &pricingErr) {
		message := fmt.Sprintf("%s %q is not supported", kindNoun(pricingErr.Kind), pricingErr.Value)
		err = common.Unprocessable(string(pricingErr.Kind), message, err)
	}
	common.WriteError(w, r, err)
}

func kindNoun(kind pricing.Kind) string {
	if kind == pricing.KindUnsupportedCurrency {
		return "currency"
	}
	return "extension"
}
