package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fast-fab/Seller-service/internal/apperr"
)

// Store persists notifications, order responses and order/seller status.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// validSellerID rejects ids the uuid column would refuse, before a
// transaction is opened.
func validSellerID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Invalid("invalid seller id %q", id)
	}
	return nil
}

// A response always wins: it overwrites whatever status the pair had.
const upsertResponseStatusSQL = `INSERT INTO order_seller_status (order_id, seller_id, status, updated_at)
	 VALUES ($1, $2::uuid, $3, NOW())
	 ON CONFLICT (order_id, seller_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

// NOTIFIED only creates the row. A seller that answered before the dispatch
// finished, or before a redelivered order, keeps ACCEPTED or REJECTED.
const insertNotifiedSQL = `INSERT INTO order_seller_status (order_id, seller_id, status, updated_at)
	 VALUES ($1, $2::uuid, '` + StatusNotified + `', NOW())
	 ON CONFLICT (order_id, seller_id) DO NOTHING`

// InsertNotifications writes all records and marks each (order, seller) pair
// NOTIFIED in one transaction. It returns the records with their generated
// id and created_at.
func (s *Store) InsertNotifications(ctx context.Context, records []Notification) ([]Notification, error) {
	if len(records) == 0 {
		return nil, nil
	}
	for _, n := range records {
		if err := validSellerID(n.SellerID); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, n := range records {
		metadata := n.Metadata
		if metadata == nil {
			metadata = json.RawMessage("{}")
		}
		batch.Queue(
			`INSERT INTO notifications (seller_id, order_id, title, message, type, metadata, delivered)
			 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
			 RETURNING id::text, created_at`,
			n.SellerID, n.OrderID, n.Title, n.Message, n.Type, metadata, n.Delivered,
		)
	}
	for _, n := range records {
		batch.Queue(insertNotifiedSQL, n.OrderID, n.SellerID)
	}

	out := make([]Notification, len(records))
	copy(out, records)

	results := tx.SendBatch(ctx, batch)
	for i := range out {
		if err := results.QueryRow().Scan(&out[i].ID, &out[i].CreatedAt); err != nil {
			results.Close()
			return nil, fmt.Errorf("insert notification for seller %s: %w", out[i].SellerID, apperr.FromPG(err, "seller"))
		}
	}
	for _, n := range out {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return nil, fmt.Errorf("mark seller %s notified: %w", n.SellerID, apperr.FromPG(err, "seller"))
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit notifications: %w", err)
	}
	return out, nil
}

// ListBySeller returns a seller's notifications, newest first, and the
// total count.
func (s *Store) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]Notification, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if validSellerID(sellerID) != nil {
		return []Notification{}, 0, nil
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE seller_id = $1::uuid`,
		sellerID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, seller_id::text, order_id, title, message, type, metadata, delivered, created_at
		 FROM notifications WHERE seller_id = $1::uuid
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		sellerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.SellerID, &n.OrderID, &n.Title, &n.Message, &n.Type, &n.Metadata, &n.Delivered, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

// InsertResponse appends the response and moves the pair's status to
// ACCEPTED or REJECTED in the same transaction. It fills r.ID and
// r.ResponseTime.
func (s *Store) InsertResponse(ctx context.Context, r *OrderResponse) error {
	if err := validSellerID(r.SellerID); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var reason *string
	if r.Reason != "" {
		reason = &r.Reason
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO order_responses (order_id, seller_id, accepted, reason)
		 VALUES ($1, $2::uuid, $3, $4)
		 RETURNING id::text, response_time`,
		r.OrderID, r.SellerID, r.Accepted, reason,
	).Scan(&r.ID, &r.ResponseTime)
	if err != nil {
		return fmt.Errorf("insert response: %w", apperr.FromPG(err, "seller"))
	}

	if _, err := tx.Exec(ctx, upsertResponseStatusSQL, r.OrderID, r.SellerID, responseStatus(r.Accepted)); err != nil {
		return fmt.Errorf("update order status: %w", apperr.FromPG(err, "seller"))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit response: %w", err)
	}
	return nil
}

// ListStatus returns the status rows of an order. A non-empty sellerID
// restricts the result to that seller.
func (s *Store) ListStatus(ctx context.Context, orderID, sellerID string) ([]OrderStatus, error) {
	var seller *string
	if sellerID != "" {
		if validSellerID(sellerID) != nil {
			return []OrderStatus{}, nil
		}
		seller = &sellerID
	}
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, seller_id::text, status, updated_at
		 FROM order_seller_status
		 WHERE order_id = $1 AND ($2::uuid IS NULL OR seller_id = $2::uuid)
		 ORDER BY updated_at`,
		orderID, seller,
	)
	if err != nil {
		return nil, fmt.Errorf("list order status: %w", err)
	}
	defer rows.Close()

	statuses := []OrderStatus{}
	for rows.Next() {
		var st OrderStatus
		if err := rows.Scan(&st.OrderID, &st.SellerID, &st.Status, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}
