package persist

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no entity exists for the given id.
	ErrNotFound = errors.New("not found")
	// ErrStaleGeneration is returned when a transition supplies a
	// generation that is no longer current. The caller must re-read and
	// retry; the store never silently overwrites.
	ErrStaleGeneration = errors.New("stale generation")
)

// Store persists the LSPS1 order lifecycle. All state transitions are
// append-only: a transition inserts a new (entity, generation) row and the
// composite primary key rejects concurrent writers racing for the same slot.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OrderView is the current state of an order joined across its state rows,
// payment and channel.
type OrderView struct {
	Order           Order
	OrderState      string
	OrderGeneration uint64

	Payment           PaymentDetails
	PaymentState      string
	PaymentGeneration uint64

	Channel *Channel
}

// CreateOrder atomically records a new order with its payment details and
// the initial state rows for both.
func (s *Store) CreateOrder(order *Order, payment *PaymentDetails, orderState, paymentState string) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if err := tx.Create(&OrderStateRow{
			OrderId:    order.Id,
			Generation: 0,
			State:      orderState,
			CreatedAt:  now,
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		return tx.Create(&PaymentStateRow{
			PaymentId:  payment.Id,
			Generation: 0,
			State:      paymentState,
			CreatedAt:  now,
		}).Error
	})
}

// GetOrder returns the current view of an order.
func (s *Store) GetOrder(orderId string) (*OrderView, error) {
	var view OrderView

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&view.Order, "id = ?", orderId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var orderState OrderStateRow
		if err := tx.Where("order_id = ?", orderId).
			Order("generation DESC").
			First(&orderState).Error; err != nil {
			return err
		}
		view.OrderState = orderState.State
		view.OrderGeneration = orderState.Generation

		if err := tx.First(&view.Payment, "order_id = ?", orderId).Error; err != nil {
			return err
		}

		var paymentState PaymentStateRow
		if err := tx.Where("payment_id = ?", view.Payment.Id).
			Order("generation DESC").
			First(&paymentState).Error; err != nil {
			return err
		}
		view.PaymentState = paymentState.State
		view.PaymentGeneration = paymentState.Generation

		var channel Channel
		err := tx.First(&channel, "order_id = ?", orderId).Error
		if err == nil {
			view.Channel = &channel
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// GetOrderByInvoiceLabel resolves a settled invoice back to its order by the
// label the invoice was created with.
func (s *Store) GetOrderByInvoiceLabel(label string) (*OrderView, error) {
	var payment PaymentDetails
	if err := s.db.First(&payment, "invoice_label = ?", label).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetOrder(payment.OrderId)
}

// GetOrderByPaymentHash resolves an order by the payment hash of its
// invoice. Fallback path for settlements whose label was lost to a restart.
func (s *Store) GetOrderByPaymentHash(hash string) (*OrderView, error) {
	var payment PaymentDetails
	if err := s.db.First(&payment, "payment_hash = ?", hash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetOrder(payment.OrderId)
}

// ListOrders returns the current view of every order for a client, newest
// first. An empty clientNodeId lists all orders.
func (s *Store) ListOrders(clientNodeId string) ([]*OrderView, error) {
	var orders []Order
	q := s.db.Order("created_at DESC")
	if clientNodeId != "" {
		q = q.Where("client_node_id = ?", clientNodeId)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}

	views := make([]*OrderView, 0, len(orders))
	for _, order := range orders {
		view, err := s.GetOrder(order.Id)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// TransitionOrder appends a new state row for the order. fromGeneration must
// be the generation the caller last read; if the stored state has moved on
// the write fails with ErrStaleGeneration.
func (s *Store) TransitionOrder(orderId string, fromGeneration uint64, newState string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var current OrderStateRow
		if err := tx.Where("order_id = ?", orderId).
			Order("generation DESC").
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if current.Generation != fromGeneration {
			return ErrStaleGeneration
		}
		return appendStateRow(tx, &OrderStateRow{
			OrderId:    orderId,
			Generation: fromGeneration + 1,
			State:      newState,
			CreatedAt:  time.Now(),
		})
	})
}

// TransitionPayment appends a new state row for the payment with the same
// generation discipline as TransitionOrder.
func (s *Store) TransitionPayment(paymentId string, fromGeneration uint64, newState string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var current PaymentStateRow
		if err := tx.Where("payment_id = ?", paymentId).
			Order("generation DESC").
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if current.Generation != fromGeneration {
			return ErrStaleGeneration
		}
		return appendStateRow(tx, &PaymentStateRow{
			PaymentId:  paymentId,
			Generation: fromGeneration + 1,
			State:      newState,
			CreatedAt:  time.Now(),
		})
	})
}

// appendStateRow inserts a transition row. A concurrent writer may have
// claimed the same generation between the read and the insert; the composite
// primary key catches that race.
func appendStateRow(tx *gorm.DB, row any) error {
	if err := tx.Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrStaleGeneration
		}
		return err
	}
	return nil
}

// CreateChannel records the provisioned channel for an order. At most one
// channel may ever exist per order.
func (s *Store) CreateChannel(channel *Channel) error {
	err := s.db.Create(channel).Error
	if err != nil && isUniqueViolation(err) {
		return errors.New("channel already recorded for order")
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
