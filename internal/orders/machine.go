package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/ledger"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InventoryService moves reserved stock along with the order status.
type InventoryService interface {
	Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// Dispatcher receives every applied transition after commit. Delivery is
// best effort; failures stay inside the dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, event payloads.OrderStatusChangedEvent)
}

const cancelledPaymentReason = "order cancelled"

// ApplyInput asks for one status change.
type ApplyInput struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	Cause   enums.TransitionCause
	ActorID *uuid.UUID
	Note    *string
}

// TransitionResult reports what Apply did. Changed is false when the order
// was already in the requested status.
type TransitionResult struct {
	OrderID    uuid.UUID         `json:"orderId"`
	From       enums.OrderStatus `json:"fromStatus"`
	To         enums.OrderStatus `json:"status"`
	Changed    bool              `json:"changed"`
	Sequence   int               `json:"sequence,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// SettleInput is a verified gateway outcome for one payment.
type SettleInput struct {
	PaymentID         uuid.UUID
	Gateway           enums.PaymentMethod
	Status            enums.PaymentStatus
	Amount            int64
	ProviderReference string
	Cause             enums.TransitionCause
	ActorID           *uuid.UUID
	Message           string
	RawPayload        json.RawMessage
}

// SettleResult classifies the outcome. Transition is set when the order moved.
type SettleResult struct {
	Result     enums.CallbackResult
	Payment    *models.Payment
	Transition *TransitionResult
}

type MachineParams struct {
	Repo       Repository
	Tx         txRunner
	Inventory  InventoryService
	Outbox     outboxPublisher
	Ledger     ledger.Service
	Dispatcher Dispatcher
	Metrics    *metrics.OrderMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Machine is the only writer of Order.status and Payment.status. Every call
// runs under a per-order lock, a row lock and a version check.
type Machine struct {
	repo       Repository
	tx         txRunner
	inventory  InventoryService
	outbox     outboxPublisher
	ledger     ledger.Service
	dispatcher Dispatcher
	metrics    *metrics.OrderMetrics
	logg       *logger.Logger
	now        func() time.Time
	locks      *keyedMutex
}

func NewMachine(p MachineParams) (*Machine, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{
		repo:       p.Repo,
		tx:         p.Tx,
		inventory:  p.Inventory,
		outbox:     p.Outbox,
		ledger:     p.Ledger,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
		logg:       p.Logger,
		now:        now,
		locks:      newKeyedMutex(),
	}, nil
}

// Apply moves an order to in.To if the graph and payment state allow it.
func (m *Machine) Apply(ctx context.Context, in ApplyInput) (TransitionResult, error) {
	if in.OrderID == uuid.Nil {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !in.To.IsValid() {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown target status")
	}
	if !in.Cause.IsValid() {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown transition cause")
	}
	ctx = m.logg.WithOrderID(ctx, in.OrderID.String())

	unlock := m.locks.Lock(in.OrderID)
	defer unlock()

	var (
		result TransitionResult
		event  *payloads.OrderStatusChangedEvent
	)
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := m.repo.WithTx(tx).LockByID(ctx, in.OrderID)
		if err != nil {
			return notFoundOr(err, "order not found", "load order")
		}
		result, event, err = m.transition(ctx, tx, order, in)
		return err
	})
	if err != nil {
		m.reject(err)
		return TransitionResult{}, err
	}
	m.afterCommit(ctx, event)
	return result, nil
}

// SettlePayment applies a gateway outcome to its payment and order. Rejected
// outcomes are still recorded in payment_callbacks, flagged for review.
func (m *Machine) SettlePayment(ctx context.Context, in SettleInput) (SettleResult, error) {
	if in.PaymentID == uuid.Nil {
		return SettleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if !in.Status.IsValid() {
		return SettleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status")
	}
	if !in.Cause.IsValid() {
		return SettleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown transition cause")
	}
	if in.Amount < 0 {
		return SettleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	if in.Status == enums.PaymentStatusExpired {
		in.Cause = enums.CausePollResolution
	}

	payment, err := m.repo.FindPayment(ctx, in.PaymentID)
	if err != nil {
		return SettleResult{}, notFoundOr(err, "payment not found", "load payment")
	}
	orderID := payment.OrderID
	ctx = m.logg.WithOrderID(m.logg.WithPaymentID(ctx, payment.ID.String()), orderID.String())

	unlock := m.locks.Lock(orderID)
	defer unlock()

	var (
		out     SettleResult
		event   *payloads.OrderStatusChangedEvent
		flagged *flaggedOutcome
	)
	err = m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "order not found", "load order")
		}
		current, err := repo.FindPayment(ctx, in.PaymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		if current.Gateway != in.Gateway {
			return pkgerrors.New(pkgerrors.CodeValidation, "gateway does not match payment")
		}

		out, event, flagged, err = m.settle(ctx, tx, order, current, in)
		if err != nil {
			return err
		}
		return repo.CreateCallback(ctx, m.callbackRow(order, current, in, out.Result, ""))
	})
	if err != nil {
		if flagged != nil {
			m.recordFlagged(ctx, flagged, in)
			m.metrics.IncCallback(in.Gateway.Slug(), string(flagged.result))
			return SettleResult{Result: flagged.result, Payment: flagged.payment}, err
		}
		m.reject(err)
		return SettleResult{}, err
	}
	m.metrics.IncCallback(in.Gateway.Slug(), string(out.Result))
	m.afterCommit(ctx, event)
	return out, nil
}

type flaggedOutcome struct {
	result  enums.CallbackResult
	order   *models.Order
	payment *models.Payment
	detail  string
}

func (m *Machine) settle(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, in SettleInput) (SettleResult, *payloads.OrderStatusChangedEvent, *flaggedOutcome, error) {
	repo := m.repo.WithTx(tx)
	now := m.now()
	out := SettleResult{Payment: payment}

	flag := func(result enums.CallbackResult, code pkgerrors.Code, detail string) (SettleResult, *payloads.OrderStatusChangedEvent, *flaggedOutcome, error) {
		f := &flaggedOutcome{result: result, order: order, payment: payment, detail: detail}
		return SettleResult{}, nil, f, pkgerrors.New(code, detail).WithDetails(map[string]any{
			"paymentId": payment.ID,
			"orderId":   order.ID,
		})
	}

	switch in.Status {
	case enums.PaymentStatusPending:
		updates := map[string]any{
			"last_checked_at": now,
			"check_attempts":  gorm.Expr("check_attempts + 1"),
			"updated_at":      now,
		}
		if _, err := repo.UpdatePayment(ctx, payment.ID, payment.Status, updates); err != nil {
			return out, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment check")
		}
		out.Result = enums.CallbackResultPending
		return out, nil, nil, nil

	case enums.PaymentStatusPaid:
		if payment.Status == enums.PaymentStatusPaid {
			if in.ProviderReference == "" || payment.ProviderReference == nil || *payment.ProviderReference == in.ProviderReference {
				out.Result = enums.CallbackResultDuplicate
				return out, nil, nil, nil
			}
			return flag(enums.CallbackResultConflict, pkgerrors.CodeConflict, "payment already settled with a different reference")
		}
		if in.ProviderReference != "" {
			other, err := repo.FindPaymentByReference(ctx, in.Gateway, in.ProviderReference)
			if err != nil {
				return out, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check provider reference")
			}
			if other != nil && other.ID != payment.ID {
				return flag(enums.CallbackResultConflict, pkgerrors.CodeConflict, "provider reference already used by another payment")
			}
		}
		if in.Amount != order.TotalAmount {
			return flag(enums.CallbackResultAmountMismatch, pkgerrors.CodeAmountMismatch,
				fmt.Sprintf("reported amount %d does not match order total %d", in.Amount, order.TotalAmount))
		}
		if order.Status != enums.OrderStatusPending || payment.Status != enums.PaymentStatusPending {
			return flag(enums.CallbackResultInvalidTransition, pkgerrors.CodeInvalidTransition,
				fmt.Sprintf("payment reported PAID for %s order", order.Status))
		}

		updates := map[string]any{
			"status":          enums.PaymentStatusPaid,
			"paid_at":         now,
			"last_checked_at": now,
			"updated_at":      now,
		}
		if in.ProviderReference != "" {
			updates["provider_reference"] = in.ProviderReference
		}
		if len(in.RawPayload) > 0 {
			updates["raw_callback_payload"] = in.RawPayload
		}
		ok, err := repo.UpdatePayment(ctx, payment.ID, enums.PaymentStatusPending, updates)
		if err != nil {
			return out, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment paid")
		}
		if !ok {
			return out, nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed concurrently")
		}
		if _, err := m.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			OrderID:   order.ID,
			PaymentID: payment.ID,
			ActorID:   in.ActorID,
			Type:      enums.LedgerEventTypePaymentCaptured,
			Amount:    in.Amount,
			Metadata:  referenceMetadata(in),
		}); err != nil {
			return out, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment captured")
		}
		payment.Status = enums.PaymentStatusPaid
		payment.PaidAt = &now
		if in.ProviderReference != "" {
			ref := in.ProviderReference
			payment.ProviderReference = &ref
		}
		if err := m.emitPaymentSettled(ctx, tx, order, payment, now); err != nil {
			return out, nil, nil, err
		}

		transition, event, err := m.transition(ctx, tx, order, ApplyInput{
			OrderID: order.ID,
			To:      enums.OrderStatusConfirmed,
			Cause:   in.Cause,
			ActorID: in.ActorID,
		})
		if err != nil {
			return out, nil, nil, err
		}
		out.Result = enums.CallbackResultAccepted
		out.Transition = &transition
		return out, event, nil, nil

	default:
		if payment.Status == in.Status {
			out.Result = enums.CallbackResultDuplicate
			return out, nil, nil, nil
		}
		if payment.Status == enums.PaymentStatusPaid {
			return flag(enums.CallbackResultConflict, pkgerrors.CodeConflict,
				fmt.Sprintf("payment reported %s after it was paid", in.Status))
		}
		if payment.Status != enums.PaymentStatusPending {
			out.Result = enums.CallbackResultDuplicate
			return out, nil, nil, nil
		}

		reason := in.Message
		if reason == "" {
			reason = fmt.Sprintf("gateway reported %s", in.Status)
		}
		updates := map[string]any{
			"status":          in.Status,
			"failure_reason":  reason,
			"last_checked_at": now,
			"updated_at":      now,
		}
		if in.ProviderReference != "" {
			updates["provider_reference"] = in.ProviderReference
		}
		if len(in.RawPayload) > 0 {
			updates["raw_callback_payload"] = in.RawPayload
		}
		ok, err := repo.UpdatePayment(ctx, payment.ID, enums.PaymentStatusPending, updates)
		if err != nil {
			return out, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment "+string(in.Status))
		}
		if !ok {
			return out, nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed concurrently")
		}
		ledgerType := enums.LedgerEventTypePaymentFailed
		if in.Status == enums.PaymentStatusExpired {
			ledgerType = enums.LedgerEventTypePaymentExpired
		}
		if _, err := m.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			OrderID:   order.ID,
			PaymentID: payment.ID,
			ActorID:   in.ActorID,
			Type:      ledgerType,
			Amount:    payment.Amount,
			Metadata:  referenceMetadata(in),
		}); err != nil {
			return out, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment "+string(in.Status))
		}
		payment.Status = in.Status
		payment.FailureReason = &reason
		if err := m.emitPaymentSettled(ctx, tx, order, payment, now); err != nil {
			return out, nil, nil, err
		}

		out.Result = enums.CallbackResultAccepted
		if order.Status != enums.OrderStatusPending {
			return out, nil, nil, nil
		}
		transition, event, err := m.transition(ctx, tx, order, ApplyInput{
			OrderID: order.ID,
			To:      enums.OrderStatusCancelled,
			Cause:   in.Cause,
			ActorID: in.ActorID,
		})
		if err != nil {
			return out, nil, nil, err
		}
		out.Transition = &transition
		return out, event, nil, nil
	}
}

// transition runs inside the caller's transaction with the order row locked.
func (m *Machine) transition(ctx context.Context, tx *gorm.DB, order *models.Order, in ApplyInput) (TransitionResult, *payloads.OrderStatusChangedEvent, error) {
	repo := m.repo.WithTx(tx)
	from := order.Status
	now := m.now()

	if from == in.To {
		return TransitionResult{OrderID: order.ID, From: from, To: from, OccurredAt: now}, nil, nil
	}
	if !CanTransition(from, in.To) {
		return TransitionResult{}, nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move order from %s to %s", from, in.To)).
			WithDetails(map[string]any{"from": from, "to": in.To, "allowed": Successors(from)})
	}
	if in.To == enums.OrderStatusConfirmed && order.PaymentMethod.IsPrepaid() {
		latest, err := repo.LatestPayment(ctx, order.ID)
		if err != nil {
			return TransitionResult{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if latest == nil || latest.Status != enums.PaymentStatusPaid {
			return TransitionResult{}, nil, pkgerrors.New(pkgerrors.CodePaymentNotSettled, "payment has not been settled")
		}
	}

	var adminNote *string
	if in.Cause == enums.CauseAdminOverride {
		adminNote = in.Note
	}
	ok, err := repo.UpdateStatus(ctx, order.ID, order.Version, in.To, adminNote)
	if err != nil {
		return TransitionResult{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return TransitionResult{}, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently")
	}

	seq, err := repo.NextSequence(ctx, order.ID)
	if err != nil {
		return TransitionResult{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "next status sequence")
	}
	fromStatus := from
	if err := repo.AppendStatusEvent(ctx, &models.StatusEvent{
		OrderID:    order.ID,
		Sequence:   seq,
		FromStatus: &fromStatus,
		ToStatus:   in.To,
		Cause:      in.Cause,
		ActorID:    in.ActorID,
		Note:       in.Note,
		OccurredAt: now,
	}); err != nil {
		return TransitionResult{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status event")
	}

	switch in.To {
	case enums.OrderStatusConfirmed:
		if err := m.inventory.Commit(ctx, tx, order.ID); err != nil {
			return TransitionResult{}, nil, err
		}
	case enums.OrderStatusCancelled:
		if err := m.inventory.Release(ctx, tx, order.ID); err != nil {
			return TransitionResult{}, nil, err
		}
		if err := repo.FailPendingPayments(ctx, order.ID, cancelledPaymentReason, now); err != nil {
			return TransitionResult{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail pending payments")
		}
	}

	event := payloads.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		FromStatus:  from,
		ToStatus:    in.To,
		Cause:       in.Cause,
		ActorID:     in.ActorID,
		Sequence:    int64(seq),
		OccurredAt:  now,
	}
	if order.ContactEmail != nil {
		event.ContactEmail = *order.ContactEmail
	}
	if in.Note != nil {
		event.Note = *in.Note
	}
	if err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorFor(in.Cause, in.ActorID),
		Data:          event,
		OccurredAt:    now,
	}); err != nil {
		return TransitionResult{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status changed")
	}

	order.Status = in.To
	order.Version++
	return TransitionResult{
		OrderID:    order.ID,
		From:       from,
		To:         in.To,
		Changed:    true,
		Sequence:   seq,
		OccurredAt: now,
	}, &event, nil
}

func (m *Machine) emitPaymentSettled(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, at time.Time) error {
	data := payloads.PaymentSettledEvent{
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Method:      payment.Gateway,
		Status:      payment.Status,
		Amount:      payment.Amount,
		SettledAt:   at,
	}
	if payment.ProviderReference != nil {
		data.ProviderReference = *payment.ProviderReference
	}
	if err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data:          data,
		OccurredAt:    at,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment settled")
	}
	return nil
}

// recordFlagged writes the audit row and the review event after the main
// transaction rolled back.
func (m *Machine) recordFlagged(ctx context.Context, f *flaggedOutcome, in SettleInput) {
	now := m.now()
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := m.repo.WithTx(tx).CreateCallback(ctx, m.callbackRow(f.order, f.payment, in, f.result, f.detail)); err != nil {
			return err
		}
		return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFlagged,
			AggregateType: enums.AggregatePayment,
			AggregateID:   f.payment.ID,
			Data: payloads.PaymentFlaggedEvent{
				PaymentID:         f.payment.ID,
				OrderID:           f.order.ID,
				OrderNumber:       f.order.OrderNumber,
				Gateway:           in.Gateway,
				Result:            f.result,
				ProviderReference: in.ProviderReference,
				ReportedAmount:    in.Amount,
				ExpectedAmount:    f.order.TotalAmount,
				Detail:            f.detail,
				FlaggedAt:         now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		m.logg.Error(ctx, "failed to record flagged payment outcome", err)
		return
	}
	m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
		"result":  f.result,
		"gateway": in.Gateway.Slug(),
	}), "payment outcome flagged for review: "+f.detail)
}

func (m *Machine) callbackRow(order *models.Order, payment *models.Payment, in SettleInput, result enums.CallbackResult, detail string) *models.PaymentCallback {
	orderID := order.ID
	paymentID := payment.ID
	row := &models.PaymentCallback{
		PaymentID:      &paymentID,
		OrderID:        &orderID,
		Gateway:        in.Gateway,
		Cause:          in.Cause,
		ReportedStatus: in.Status,
		ReportedAmount: in.Amount,
		Result:         result,
		NeedsReview:    result.NeedsReview(),
		Payload:        in.RawPayload,
	}
	if in.ProviderReference != "" {
		ref := in.ProviderReference
		row.ProviderReference = &ref
	}
	if detail != "" {
		row.Detail = &detail
	}
	return row
}

func (m *Machine) afterCommit(ctx context.Context, event *payloads.OrderStatusChangedEvent) {
	if event == nil {
		return
	}
	m.metrics.IncTransition(string(event.FromStatus), string(event.ToStatus), string(event.Cause))
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"from":     event.FromStatus,
		"to":       event.ToStatus,
		"cause":    event.Cause,
		"sequence": event.Sequence,
	}), "order status changed")
	if m.dispatcher != nil {
		m.dispatcher.Dispatch(ctx, *event)
	}
}

func (m *Machine) reject(err error) {
	if typed := pkgerrors.As(err); typed != nil {
		m.metrics.IncRejected(string(typed.Code()))
		return
	}
	m.metrics.IncRejected(string(pkgerrors.CodeInternal))
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func actorFor(cause enums.TransitionCause, actorID *uuid.UUID) *outbox.ActorRef {
	if actorID == nil {
		return nil
	}
	role := enums.ActorRoleSystem
	switch cause {
	case enums.CauseCustomerAction:
		role = enums.ActorRoleCustomer
	case enums.CauseAdminOverride:
		role = enums.ActorRoleAdmin
	}
	return &outbox.ActorRef{ActorID: *actorID, Role: string(role)}
}

func referenceMetadata(in SettleInput) json.RawMessage {
	raw, err := json.Marshal(map[string]any{
		"providerReference": in.ProviderReference,
		"cause":             in.Cause,
	})
	if err != nil {
		return nil
	}
	return raw
}
