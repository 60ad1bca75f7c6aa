package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func bankBody(orderNumber string, amount int64, status string) string {
	return fmt.Sprintf(`{"transactionId":"BT-%s","orderNumber":%q,"amount":%d,"status":%q,"paidAt":"2026-10-18T09:31:00Z"}`,
		orderNumber, orderNumber, amount, status)
}

func TestBankWebhookSettlesOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, enums.PaymentMethodBankWebhook)
	body := bankBody(res.OrderNumber, res.TotalAmount, "SUCCESS")

	out, err := h.svc.HandleCallback(ctx, enums.PaymentMethodBankWebhook, bankWebhookRequest(t, body, testNow))
	require.NoError(t, err)
	require.Equal(t, enums.CallbackResultAccepted, out.Result)
	require.Equal(t, enums.PaymentStatusPaid, out.Status)
	require.Equal(t, res.PaymentID, out.PaymentID)

	require.Equal(t, enums.OrderStatusConfirmed, h.order(t, res.OrderID).Status)
	payment := h.payment(t, res.PaymentID)
	require.Equal(t, enums.PaymentStatusPaid, payment.Status)
	require.NotNil(t, payment.ProviderReference)
	require.Equal(t, "BT-"+res.OrderNumber, *payment.ProviderReference)

	key := h.store.IdempotencyKey("payment-callback", "bank-webhook:BT-"+res.OrderNumber+":PAID")
	require.Equal(t, time.Hour, h.store.ttl(key))

	again, err := h.svc.HandleCallback(ctx, enums.PaymentMethodBankWebhook, bankWebhookRequest(t, body, testNow))
	require.NoError(t, err)
	require.Equal(t, enums.CallbackResultDuplicate, again.Result)
	require.Equal(t, enums.PaymentStatusPaid, again.Status)
	require.Len(t, h.callbacks(t, res.PaymentID), 1)
}

func TestAmountMismatchIsFlaggedAndGuarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, enums.PaymentMethodBankWebhook)
	body := bankBody(res.OrderNumber, res.TotalAmount-15000, "SUCCESS")

	_, err := h.svc.HandleCallback(ctx, enums.PaymentMethodBankWebhook, bankWebhookRequest(t, body, testNow))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch))
	require.Equal(t, enums.OrderStatusPending, h.order(t, res.OrderID).Status)
	require.Equal(t, enums.PaymentStatusPending, h.payment(t, res.PaymentID).Status)

	rows := h.callbacks(t, res.PaymentID)
	require.Len(t, rows, 1)
	require.True(t, rows[0].NeedsReview)
	require.Equal(t, enums.CallbackResultAmountMismatch, rows[0].Result)
	require.True(t, h.store.has(h.store.IdempotencyKey("payment-callback", "bank-webhook:BT-"+res.OrderNumber+":PAID")))

	flagged := h.logs.line("payment outcome flagged for review")
	require.NotEmpty(t, flagged)
	require.Equal(t, 1, strings.Count(flagged, `"payment_id"`))
	require.Equal(t, 1, strings.Count(flagged, `"gateway"`))
	require.Contains(t, flagged, `"gateway":"bank-webhook"`)

	// The redelivery gets the same rejection back, not a 200 duplicate.
	_, again := h.svc.HandleCallback(ctx, enums.PaymentMethodBankWebhook, bankWebhookRequest(t, body, testNow))
	require.True(t, pkgerrors.IsCode(again, pkgerrors.CodeAmountMismatch))
	require.Equal(t, pkgerrors.As(err).Message(), pkgerrors.As(again).Message())
	require.Len(t, h.callbacks(t, res.PaymentID), 1)
}

func TestStaleCallbackClaimExpiresAndRedeliverySettles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, enums.PaymentMethodBankWebhook)
	body := bankBody(res.OrderNumber, res.TotalAmount, "SUCCESS")
	guardID := "bank-webhook:BT-" + res.OrderNumber + ":PAID"
	key := h.store.IdempotencyKey("payment-callback", guardID)

	// A delivery that crashed after claiming and before settling.
	claimed, _, err := h.guard.Claim(ctx, guardID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, time.Minute, h.store.ttl(key))

	_, err = h.svc.HandleCallback(ctx, enums.PaymentMethodBankWebhook, bankWebhookRequest(t, body, testNow))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	require.Equal(t, enums.OrderStatusPending, h.order(t, res.OrderID).Status)

	h.store.expire(key)

	out, err := h.svc.HandleCallback(ctx, enums.PaymentMethodBankWebhook, bankWebhookRequest(t, body, testNow))
	require.NoError(t, err)
	require.Equal(t, enums.CallbackResultAccepted, out.Result)
	require.Equal(t, enums.OrderStatusConfirmed, h.order(t, res.OrderID).Status)
	require.Equal(t, enums.PaymentStatusPaid, h.payment(t, res.PaymentID).Status)
	require.Equal(t, time.Hour, h.store.ttl(key))
}

func TestCallbackGuardReleasesOnTransientFailure(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewCallbackGuard(store, time.Hour, time.Minute, "payment-callback")
	require.NoError(t, err)
	ctx := context.Background()

	claimed, _, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, prior, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.False(t, claimed)
	require.Nil(t, prior)

	require.NoError(t, guard.Release(ctx, "k"))
	claimed, _, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, claimed)

	rec := CallbackRecord{Code: string(pkgerrors.CodeInvalidTransition), Message: "payment is already final"}
	require.NoError(t, guard.Complete(ctx, "k", rec))
	claimed, prior, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.False(t, claimed)
	require.True(t, prior.Rejected())
	require.True(t, pkgerrors.IsCode(prior.Err(), pkgerrors.CodeInvalidTransition))

	_, err = NewCallbackGuard(store, time.Minute, time.Hour, "payment-callback")
	require.Error(t, err)
}

func TestInvalidSignatureTouchesNothing(t *testing.T) {
	h := newHarness(t)
	res := h.place(t, enums.PaymentMethodBankWebhook)
	body := bankBody(res.OrderNumber, res.TotalAmount, "SUCCESS")
	req := bankWebhookRequest(t, body, testNow)
	req.Header.Set(bankSignatureHeader, signTimestamped("forged", testNow.Unix(), []byte(body)))

	_, err := h.svc.HandleCallback(context.Background(), enums.PaymentMethodBankWebhook, req)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature))
	require.Equal(t, enums.OrderStatusPending, h.order(t, res.OrderID).Status)
	require.Empty(t, h.callbacks(t, res.PaymentID))
}

func TestCODHasNoCallback(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.HandleCallback(context.Background(), enums.PaymentMethodCOD, CallbackRequest{Body: []byte(`{}`)})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUnknownOrderNumberIsNotFound(t *testing.T) {
	h := newHarness(t)
	body := bankBody("261018999999", 115000, "SUCCESS")
	_, err := h.svc.HandleCallback(context.Background(), enums.PaymentMethodBankWebhook, bankWebhookRequest(t, body, testNow))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestBankQRPushResolvesByMemo(t *testing.T) {
	h := newHarness(t)
	res := h.place(t, enums.PaymentMethodBankQR)
	require.NotNil(t, res.PaymentHint)
	require.Equal(t, orders.BankMemo(res.OrderNumber), res.PaymentHint.Memo)

	body := fmt.Sprintf(`{"id":"AG-1","amount":%d,"description":"chuyen tien %s"}`, res.TotalAmount, res.PaymentHint.Memo)
	out, err := h.svc.HandleCallback(context.Background(), enums.PaymentMethodBankQR, aggregatorRequest(body))
	require.NoError(t, err)
	require.Equal(t, enums.CallbackResultAccepted, out.Result)
	require.Equal(t, enums.OrderStatusConfirmed, h.order(t, res.OrderID).Status)
}

func TestWalletReturnAndFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	paid := h.place(t, enums.PaymentMethodWallet)
	q := url.Values{}
	for k, v := range signedWalletFields(paid.OrderNumber, "W-1", "0", "115000") {
		q.Set(k, v)
	}
	out, err := h.svc.HandleWalletReturn(ctx, CallbackRequest{Query: q, Body: []byte("ignored")})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, out.Status)
	require.Equal(t, enums.OrderStatusConfirmed, h.order(t, paid.OrderID).Status)

	failed := h.place(t, enums.PaymentMethodWallet)
	fields := signedWalletFields(failed.OrderNumber, "0", "1006", "115000")
	body := fmt.Sprintf(`{"partnerCode":"ORDERFLOW","orderId":%q,"requestId":"req-1","amount":115000,"transId":0,"resultCode":1006,"message":"ok","responseTime":1792315800000,"signature":%q}`,
		failed.OrderNumber, fields[signatureField])
	out, err = h.svc.HandleCallback(ctx, enums.PaymentMethodWallet, CallbackRequest{Body: []byte(body)})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusFailed, out.Status)
	require.Equal(t, enums.OrderStatusCancelled, h.order(t, failed.OrderID).Status)
}

func TestReconcileBankQR(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, enums.PaymentMethodBankQR)

	h.provider.respond(http.StatusOK, `{"data":[]}`)
	out, err := h.svc.Reconcile(ctx, res.PaymentID, ReconcileOptions{AllowExpire: true})
	require.NoError(t, err)
	require.Equal(t, enums.CallbackResultPending, out.Result)
	payment := h.payment(t, res.PaymentID)
	require.Equal(t, 1, payment.CheckAttempts)
	require.NotNil(t, payment.LastCheckedAt)

	h.provider.respond(http.StatusServiceUnavailable, `{}`)
	_, err = h.svc.Reconcile(ctx, res.PaymentID, ReconcileOptions{AllowExpire: true})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	require.Equal(t, enums.OrderStatusPending, h.order(t, res.OrderID).Status)

	h.clock.Advance(16 * time.Minute)
	h.provider.respond(http.StatusOK, `{"data":[]}`)
	out, err = h.svc.Reconcile(ctx, res.PaymentID, ReconcileOptions{})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, out.Status, "only the poller may expire")

	out, err = h.svc.Reconcile(ctx, res.PaymentID, ReconcileOptions{AllowExpire: true})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusExpired, out.Status)
	require.Equal(t, enums.OrderStatusCancelled, h.order(t, res.OrderID).Status)

	again, err := h.svc.Reconcile(ctx, res.PaymentID, ReconcileOptions{AllowExpire: true})
	require.NoError(t, err)
	require.Equal(t, enums.CallbackResultDuplicate, again.Result)
}

func TestReconcileRejectsCOD(t *testing.T) {
	h := newHarness(t)
	res := h.place(t, enums.PaymentMethodCOD)
	_, err := h.svc.Reconcile(context.Background(), res.PaymentID, ReconcileOptions{AllowExpire: true})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestExpireCancelsOrder(t *testing.T) {
	h := newHarness(t)
	res := h.place(t, enums.PaymentMethodWallet)

	out, err := h.svc.Expire(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusExpired, out.Status)
	require.Equal(t, enums.OrderStatusCancelled, h.order(t, res.OrderID).Status)

	var reservations []models.InventoryReservation
	require.NoError(t, h.conn.Where("order_id = ?", res.OrderID).Find(&reservations).Error)
	for _, r := range reservations {
		require.Equal(t, enums.ReservationStateReleased, r.State)
	}
}

func TestStatusOwnershipAndFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.place(t, enums.PaymentMethodBankQR)
	owner := orders.Actor{ID: h.order(t, res.OrderID).CustomerID, Role: enums.ActorRoleCustomer}

	_, err := h.svc.Status(ctx, res.PaymentID, orders.Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	h.provider.respond(http.StatusOK, `{"data":[]}`)
	view, err := h.svc.Status(ctx, res.PaymentID, owner)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, view.Status)
	require.NotNil(t, view.ExpiresAt)
	require.EqualValues(t, 1, h.provider.hits.Load())

	h.provider.respond(http.StatusOK, fmt.Sprintf(`{"data":[{"id":"AG-2","amount":%d,"description":"%s"}]}`, res.TotalAmount, orders.BankMemo(res.OrderNumber)))
	view, err = h.svc.Status(ctx, res.PaymentID, owner)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, view.Status, "throttled inside the poll window")
	require.EqualValues(t, 1, h.provider.hits.Load())

	require.NoError(t, h.store.Del(ctx, h.store.ThrottleKey(statusThrottleScope, res.PaymentID.String())))
	view, err = h.svc.Status(ctx, res.PaymentID, owner)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, view.Status)
	require.Equal(t, enums.OrderStatusConfirmed, h.order(t, res.OrderID).Status)

	adminView, err := h.svc.Status(ctx, res.PaymentID, orders.Actor{ID: uuid.New(), Role: enums.ActorRoleAdmin})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, adminView.Status)
}

func TestListReconcilable(t *testing.T) {
	h := newHarness(t)
	pending := h.place(t, enums.PaymentMethodBankQR)
	h.place(t, enums.PaymentMethodCOD)
	settled := h.place(t, enums.PaymentMethodBankWebhook)
	_, err := h.svc.HandleCallback(context.Background(), enums.PaymentMethodBankWebhook,
		bankWebhookRequest(t, bankBody(settled.OrderNumber, settled.TotalAmount, "SUCCESS"), testNow))
	require.NoError(t, err)

	rows, err := h.svc.ListReconcilable(context.Background(), time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, pending.PaymentID, rows[0].ID)

	rows, err = h.svc.ListReconcilable(context.Background(), time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}
