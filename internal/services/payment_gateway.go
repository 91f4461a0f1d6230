package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/metrics"
)

type VerifyPaymentResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"` // minor units
		GatewayResponse string `json:"gateway_response"`
		PaidAt          string `json:"paid_at"`
		Channel         string `json:"channel"`
		Currency        string `json:"currency"`
	} `json:"data"`
}

// PaymentGateway verifies payment references against a Paystack-style API.
type PaymentGateway struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Entry
}

func NewPaymentGateway(baseURL, secretKey string, timeout time.Duration, log *logrus.Entry) *PaymentGateway {
	g := &PaymentGateway{
		client: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(secretKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout).
			SetRetryCount(0), // the breaker decides when to stop calling
		log: log,
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PaymentGateway",
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.GatewayBreakerState.Set(breakerStateValue(to))
			log.WithFields(logrus.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	metrics.GatewayBreakerState.Set(0)

	return g
}

// VerifyPayment checks that reference is a successful payment of exactly
// amount. Transport failures are UNAVAILABLE; a declined or mismatched
// payment is a VALIDATION_ERROR.
func (g *PaymentGateway) VerifyPayment(ctx context.Context, reference string, amount int64) error {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		var result VerifyPaymentResponse
		resp, err := g.client.R().
			SetContext(ctx).
			SetPathParam("reference", reference).
			SetResult(&result).
			SetError(&result).
			Get("/transaction/verify/{reference}")
		if err != nil {
			return nil, fmt.Errorf("HTTP error: %w", err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("payment gateway returned status %d", resp.StatusCode())
		}
		// 4xx is an answer about the payment, not a gateway failure.
		return &result, nil
	})
	if err != nil {
		g.log.WithField("reference", reference).WithError(err).Warn("Payment verification unavailable")
		return apperrors.Wrap(apperrors.CodeUnavailable, "payment gateway unavailable", err)
	}

	result := out.(*VerifyPaymentResponse)
	switch {
	case !result.Status:
		return apperrors.Validation(fmt.Sprintf("payment verification failed: %s", result.Message))
	case result.Data.Status != "success":
		return apperrors.Validation(fmt.Sprintf("payment was not successful: %s", result.Data.Status))
	case result.Data.Amount != amount:
		return apperrors.Validation(fmt.Sprintf("payment amount %d does not match transaction amount %d", result.Data.Amount, amount))
	}

	g.log.WithFields(logrus.Fields{
		"reference": reference,
		"channel":   result.Data.Channel,
	}).Info("Payment verified")
	return nil
}

func (g *PaymentGateway) State() gobreaker.State {
	return g.breaker.State()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
