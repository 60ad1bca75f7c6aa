package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const statusThrottleScope = "payment-status"

// Settler applies verified outcomes. *orders.Machine implements it.
type Settler interface {
	SettlePayment(ctx context.Context, in orders.SettleInput) (orders.SettleResult, error)
}

type throttleStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ThrottleKey(scope, id string) string
}

// CallbackResult is returned to the gateway endpoints.
type CallbackResult struct {
	PaymentID uuid.UUID            `json:"paymentId"`
	OrderID   uuid.UUID            `json:"orderId"`
	Result    enums.CallbackResult `json:"result"`
	Status    enums.PaymentStatus  `json:"status"`
}

// ReconcileOptions tunes one query-path resolution. Only the poller may let a
// gateway EXPIRED cancel the order.
type ReconcileOptions struct {
	AllowExpire bool
}

type ReconcileResult struct {
	PaymentID uuid.UUID
	OrderID   uuid.UUID
	Result    enums.CallbackResult
	Status    enums.PaymentStatus
}

// StatusView is the customer-facing payment poll response.
type StatusView struct {
	PaymentID uuid.UUID           `json:"paymentId"`
	OrderID   uuid.UUID           `json:"orderId"`
	Status    enums.PaymentStatus `json:"status"`
	ExpiresAt *time.Time          `json:"expiresAt,omitempty"`
}

type Service interface {
	HandleCallback(ctx context.Context, gateway enums.PaymentMethod, req CallbackRequest) (*CallbackResult, error)
	HandleWalletReturn(ctx context.Context, req CallbackRequest) (*CallbackResult, error)
	Reconcile(ctx context.Context, paymentID uuid.UUID, opts ReconcileOptions) (*ReconcileResult, error)
	Expire(ctx context.Context, paymentID uuid.UUID) (*ReconcileResult, error)
	Status(ctx context.Context, paymentID uuid.UUID, actor orders.Actor) (*StatusView, error)
	ListReconcilable(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
}

type ServiceParams struct {
	Registry   *Registry
	Repo       Repository
	Settler    Settler
	Guard      *CallbackGuard
	Throttle   throttleStore
	PollWindow time.Duration
	Metrics    *metrics.OrderMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	registry   *Registry
	repo       Repository
	settler    Settler
	guard      *CallbackGuard
	throttle   throttleStore
	pollWindow time.Duration
	metrics    *metrics.OrderMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Registry == nil {
		return nil, fmt.Errorf("adapter registry required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if p.Settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	if p.Guard == nil {
		return nil, fmt.Errorf("callback guard required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	window := p.PollWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	return &service{
		registry:   p.Registry,
		repo:       p.Repo,
		settler:    p.Settler,
		guard:      p.Guard,
		throttle:   p.Throttle,
		pollWindow: window,
		metrics:    p.Metrics,
		logg:       p.Logger,
		now:        now,
	}, nil
}

func (s *service) HandleCallback(ctx context.Context, gateway enums.PaymentMethod, req CallbackRequest) (*CallbackResult, error) {
	parser, err := s.registry.Parser(gateway)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "gateway", gateway.Slug())

	outcome, err := parser.ParseCallback(ctx, req)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
			s.logg.Security(ctx, "payment callback signature rejected", err)
			s.metrics.IncCallback(gateway.Slug(), "invalid_signature")
		}
		return nil, err
	}

	payment, err := s.resolve(ctx, outcome)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	key := guardKey(gateway, payment, outcome.Result())
	claimed, prior, err := s.guard.Claim(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "callback guard")
	}
	if !claimed {
		if prior == nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "callback is already being processed")
		}
		s.metrics.IncCallback(gateway.Slug(), string(enums.CallbackResultDuplicate))
		if prior.Rejected() {
			return nil, prior.Err()
		}
		return &CallbackResult{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Result:    enums.CallbackResultDuplicate,
			Status:    payment.Status,
		}, nil
	}

	res, err := s.settler.SettlePayment(ctx, settleInput(payment, outcome, enums.CauseGatewayWebhook))
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && terminalRejection(err) {
			s.completeGuard(ctx, key, CallbackRecord{Code: string(typed.Code()), Message: typed.Message()})
		} else if relErr := s.guard.Release(ctx, key); relErr != nil {
			s.logg.Error(ctx, "failed to release callback guard", relErr)
		}
		return nil, err
	}
	status := statusOf(res, payment)
	s.completeGuard(ctx, key, CallbackRecord{Result: res.Result, Status: status})
	return &CallbackResult{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Result:    res.Result,
		Status:    status,
	}, nil
}

// completeGuard failures only cost an extra settle attempt on redelivery,
// which the payment row absorbs as a duplicate.
func (s *service) completeGuard(ctx context.Context, key string, rec CallbackRecord) {
	if err := s.guard.Complete(ctx, key, rec); err != nil {
		s.logg.Error(ctx, "failed to complete callback guard", err)
	}
}

func (s *service) HandleWalletReturn(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	req.Body = nil
	return s.HandleCallback(ctx, enums.PaymentMethodWallet, req)
}

func (s *service) Reconcile(ctx context.Context, paymentID uuid.UUID, opts ReconcileOptions) (*ReconcileResult, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsFinal() {
		return &ReconcileResult{PaymentID: payment.ID, OrderID: payment.OrderID, Result: enums.CallbackResultDuplicate, Status: payment.Status}, nil
	}
	querier, ok := s.registry.Querier(payment.Gateway)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment gateway cannot be queried")
	}
	order, err := s.repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(s.logg.WithPaymentID(ctx, payment.ID.String()), order.ID.String())

	started := s.now()
	outcome, err := querier.Query(ctx, PaymentContext{Order: *order, Payment: *payment})
	s.metrics.ObserveGatewayQuery(payment.Gateway.Slug(), queryLabel(outcome, err), s.now().Sub(started))
	if err != nil {
		return nil, err
	}

	in := settleInput(payment, outcome, enums.CausePollResolution)
	if in.Status == enums.PaymentStatusExpired && !opts.AllowExpire {
		in.Status = enums.PaymentStatusPending
	}
	res, err := s.settler.SettlePayment(ctx, in)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{PaymentID: payment.ID, OrderID: payment.OrderID, Result: res.Result, Status: statusOf(res, payment)}, nil
}

// Expire closes a payment whose window elapsed without a gateway answer.
func (s *service) Expire(ctx context.Context, paymentID uuid.UUID) (*ReconcileResult, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	res, err := s.settler.SettlePayment(ctx, orders.SettleInput{
		PaymentID: payment.ID,
		Gateway:   payment.Gateway,
		Status:    enums.PaymentStatusExpired,
		Cause:     enums.CausePollResolution,
		Message:   "payment window elapsed",
	})
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{PaymentID: payment.ID, OrderID: payment.OrderID, Result: res.Result, Status: statusOf(res, payment)}, nil
}

// Status returns the payment state. A PENDING bank transfer also triggers at
// most one aggregator lookup per poll window.
func (s *service) Status(ctx context.Context, paymentID uuid.UUID, actor orders.Actor) (*StatusView, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != actor.ID && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}

	if payment.Status == enums.PaymentStatusPending && payment.Gateway == enums.PaymentMethodBankQR && s.throttle != nil {
		ctx = s.logg.WithPaymentID(ctx, payment.ID.String())
		acquired, err := s.throttle.SetNX(ctx, s.throttle.ThrottleKey(statusThrottleScope, payment.ID.String()), "1", s.pollWindow)
		switch {
		case err != nil:
			s.logg.Error(ctx, "payment status throttle unavailable", err)
		case acquired:
			if _, err := s.Reconcile(ctx, payment.ID, ReconcileOptions{}); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "fallback reconcile failed")
			} else if fresh, err := s.repo.FindByID(ctx, payment.ID); err == nil {
				payment = fresh
			}
		}
	}

	return &StatusView{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Status:    payment.Status,
		ExpiresAt: payment.ExpiresAt,
	}, nil
}

func (s *service) ListReconcilable(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	return s.repo.ListReconcilable(ctx, cutoff, limit)
}

func (s *service) resolve(ctx context.Context, outcome Outcome) (*models.Payment, error) {
	if err := outcome.Validate(); err != nil {
		return nil, err
	}
	lookup := outcome.Lookup()
	switch {
	case lookup.PaymentID != "":
		id, err := uuid.Parse(lookup.PaymentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
		}
		return s.repo.FindByID(ctx, id)
	case lookup.Memo != "":
		return s.repo.FindByMemo(ctx, lookup.Memo)
	case lookup.OrderNumber != "":
		return s.repo.FindByOrderNumber(ctx, outcome.Gateway(), lookup.OrderNumber)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outcome carries no payment lookup")
	}
}

func settleInput(payment *models.Payment, outcome Outcome, cause enums.TransitionCause) orders.SettleInput {
	r := outcome.Result()
	return orders.SettleInput{
		PaymentID:         payment.ID,
		Gateway:           payment.Gateway,
		Status:            r.Status,
		Amount:            r.Amount,
		ProviderReference: r.ProviderReference,
		Cause:             cause,
		Message:           r.Message,
		RawPayload:        r.Raw,
	}
}

func guardKey(gateway enums.PaymentMethod, payment *models.Payment, r Result) string {
	ref := r.ProviderReference
	if ref == "" {
		ref = payment.ID.String()
	}
	return fmt.Sprintf("%s:%s:%s", gateway.Slug(), ref, r.Status)
}

// terminalRejection reports errors a redelivery cannot fix, so the guard
// stores them for replay.
func terminalRejection(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeAmountMismatch, pkgerrors.CodeInvalidTransition, pkgerrors.CodeConflict, pkgerrors.CodeValidation:
		return true
	default:
		return false
	}
}

func statusOf(res orders.SettleResult, fallback *models.Payment) enums.PaymentStatus {
	if res.Payment != nil {
		return res.Payment.Status
	}
	return fallback.Status
}

func queryLabel(outcome Outcome, err error) string {
	switch {
	case err == nil && outcome != nil:
		return string(outcome.Result().Status)
	case pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
