// Package dbtest opens throwaway SQLite databases carrying the same tables
// as the goose migrations, for repository and service tests.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

var counter atomic.Int64

var schema = []string{
	`CREATE TABLE catalog_items (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		variant_id TEXT NULL,
		name TEXT NOT NULL,
		unit_price INTEGER NOT NULL,
		sale_price INTEGER NULL,
		weight_grams INTEGER NOT NULL DEFAULT 0,
		length_cm INTEGER NOT NULL DEFAULT 0,
		width_cm INTEGER NOT NULL DEFAULT 0,
		height_cm INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		updated_at DATETIME
	)`,
	`CREATE TABLE inventory_items (
		sku_id TEXT PRIMARY KEY,
		available_qty INTEGER NOT NULL DEFAULT 0 CHECK (available_qty >= 0),
		reserved_qty INTEGER NOT NULL DEFAULT 0 CHECK (reserved_qty >= 0),
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL,
		contact_email TEXT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		subtotal INTEGER NOT NULL,
		shipping_fee INTEGER NOT NULL,
		discount_amount INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL,
		address_snapshot TEXT NOT NULL,
		admin_note TEXT NULL,
		customer_note TEXT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME,
		CHECK (total_amount = subtotal + shipping_fee - discount_amount)
	)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		variant_id TEXT NULL,
		sku_id TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price INTEGER NOT NULL,
		sale_price_at_purchase INTEGER NOT NULL,
		line_total INTEGER NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE status_events (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		from_status TEXT NULL,
		to_status TEXT NOT NULL,
		cause TEXT NOT NULL,
		actor_id TEXT NULL,
		note TEXT NULL,
		occurred_at DATETIME NOT NULL,
		UNIQUE (order_id, sequence)
	)`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		gateway TEXT NOT NULL,
		provider_reference TEXT NULL,
		status TEXT NOT NULL,
		amount INTEGER NOT NULL,
		memo TEXT NULL UNIQUE,
		expires_at DATETIME NULL,
		paid_at DATETIME NULL,
		raw_callback_payload TEXT NULL,
		failure_reason TEXT NULL,
		last_checked_at DATETIME NULL,
		check_attempts INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (gateway, provider_reference)
	)`,
	`CREATE TABLE payment_callbacks (
		id TEXT PRIMARY KEY,
		payment_id TEXT NULL,
		order_id TEXT NULL,
		gateway TEXT NOT NULL,
		cause TEXT NOT NULL,
		provider_reference TEXT NULL,
		reported_status TEXT NOT NULL,
		reported_amount INTEGER NOT NULL,
		result TEXT NOT NULL,
		needs_review BOOLEAN NOT NULL DEFAULT 0,
		detail TEXT NULL,
		payload TEXT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE ledger_events (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		actor_id TEXT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		metadata TEXT NULL,
		created_at DATETIME,
		UNIQUE (payment_id, type)
	)`,
	`CREATE TABLE inventory_reservations (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		order_item_id TEXT NOT NULL UNIQUE,
		sku_id TEXT NOT NULL,
		reserved_quantity INTEGER NOT NULL CHECK (reserved_quantity >= 1),
		state TEXT NOT NULL,
		committed_at DATETIME NULL,
		released_at DATETIME NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NULL
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a private in-memory database with the full schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:orderflow_%d_%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano(), counter.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in a db.Client.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromGorm(conn), conn
}

// SKU seeds a catalog item with stock and returns it.
func SKU(t testing.TB, conn *gorm.DB, price int64, stock int) models.CatalogItem {
	t.Helper()
	item := models.CatalogItem{
		ID:          uuid.New(),
		ProductID:   uuid.New(),
		Name:        fmt.Sprintf("Item %d", counter.Add(1)),
		UnitPrice:   price,
		WeightGrams: 500,
		LengthCm:    20,
		WidthCm:     15,
		HeightCm:    10,
		Active:      true,
	}
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed catalog item: %v", err)
	}
	if err := conn.Create(&models.InventoryItem{SKUID: item.ID, AvailableQty: stock}).Error; err != nil {
		t.Fatalf("seed inventory item: %v", err)
	}
	return item
}

// Address is a deliverable shipping address for seeded orders.
func Address() types.Address {
	return types.Address{
		RecipientName: "Nguyen Van A",
		Phone:         "0901234567",
		Line1:         "12 Le Loi",
		District:      "District 1",
		Province:      "Ho Chi Minh",
		Country:       "VN",
	}
}

// Order seeds a PENDING order with one item per SKU (quantity 1 each) and
// no payment or reservations. Totals are derived from the SKU prices.
func Order(t testing.TB, conn *gorm.DB, method enums.PaymentMethod, skus ...models.CatalogItem) models.Order {
	t.Helper()
	order := models.Order{
		OrderNumber:     fmt.Sprintf("261018%06d", counter.Add(1)%1000000),
		CustomerID:      uuid.New(),
		Status:          enums.OrderStatusPending,
		PaymentMethod:   method,
		AddressSnapshot: Address(),
		Version:         1,
	}
	for _, sku := range skus {
		price := sku.EffectivePrice()
		order.Items = append(order.Items, models.OrderItem{
			ProductID:           sku.ProductID,
			SKUID:               sku.ID,
			Name:                sku.Name,
			Quantity:            1,
			UnitPrice:           sku.UnitPrice,
			SalePriceAtPurchase: price,
			LineTotal:           price,
		})
		order.Subtotal += price
	}
	order.TotalAmount = order.Subtotal
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}
