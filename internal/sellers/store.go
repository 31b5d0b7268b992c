package sellers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fast-fab/Seller-service/internal/apperr"
	"github.com/fast-fab/Seller-service/internal/geo"
)

// Store reads and updates sellers and their products.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// validID reports whether id can match a uuid key. A malformed id is treated
// like a missing row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ListCandidates returns the active, verified sellers that carry productID
// with stock left. Each candidate's Products holds the matching line only.
func (s *Store) ListCandidates(ctx context.Context, productID string) ([]geo.Candidate, error) {
	if !validID(productID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT s.id::text, s.is_active, s.is_verified, s.latitude, s.longitude,
		        p.id::text, p.stock
		 FROM sellers s
		 JOIN products p ON p.seller_id = s.id
		 WHERE s.is_active AND s.is_verified AND p.id = $1::uuid AND p.stock > 0
		 ORDER BY s.id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []geo.Candidate
	index := map[string]int{}
	for rows.Next() {
		var c geo.Candidate
		var line geo.ProductLine
		if err := rows.Scan(&c.ID, &c.IsActive, &c.IsVerified, &c.Latitude, &c.Longitude, &line.ID, &line.Stock); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if i, ok := index[c.ID]; ok {
			candidates[i].Products = append(candidates[i].Products, line)
			continue
		}
		c.Products = []geo.ProductLine{line}
		index[c.ID] = len(candidates)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *Store) DeviceToken(ctx context.Context, sellerID string) (string, error) {
	if !validID(sellerID) {
		return "", apperr.NotFound("seller %s not found", sellerID)
	}
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT device_token FROM sellers WHERE id = $1::uuid`,
		sellerID,
	).Scan(&token)
	if err != nil {
		return "", apperr.FromPG(err, "seller")
	}
	return token, nil
}

// UpdateStock sets a product's stock and returns the previous value.
func (s *Store) UpdateStock(ctx context.Context, sellerID, productID string, stock int) (int, error) {
	if !validID(sellerID) || !validID(productID) {
		return 0, apperr.NotFound("product %s not found", productID)
	}
	var previous int
	err := s.pool.QueryRow(ctx,
		`WITH prev AS (
		     SELECT id, stock FROM products
		     WHERE id = $1::uuid AND seller_id = $2::uuid
		     FOR UPDATE
		 )
		 UPDATE products p SET stock = $3, updated_at = NOW()
		 FROM prev WHERE p.id = prev.id
		 RETURNING prev.stock`,
		productID, sellerID, stock,
	).Scan(&previous)
	if err != nil {
		return 0, apperr.FromPG(err, "product")
	}
	return previous, nil
}

// SetActive updates the seller's active flag and returns the previous value.
func (s *Store) SetActive(ctx context.Context, sellerID string, active bool) (bool, error) {
	if !validID(sellerID) {
		return false, apperr.NotFound("seller %s not found", sellerID)
	}
	var previous bool
	err := s.pool.QueryRow(ctx,
		`WITH prev AS (
		     SELECT id, is_active FROM sellers WHERE id = $1::uuid FOR UPDATE
		 )
		 UPDATE sellers s SET is_active = $2, updated_at = NOW()
		 FROM prev WHERE s.id = prev.id
		 RETURNING prev.is_active`,
		sellerID, active,
	).Scan(&previous)
	if err != nil {
		return false, apperr.FromPG(err, "seller")
	}
	return previous, nil
}

func (s *Store) SetDeviceToken(ctx context.Context, sellerID, token string) error {
	if !validID(sellerID) {
		return apperr.NotFound("seller %s not found", sellerID)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sellers SET device_token = $2, updated_at = NOW() WHERE id = $1::uuid`,
		sellerID, token,
	)
	if err != nil {
		return apperr.FromPG(err, "seller")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("seller %s not found", sellerID)
	}
	return nil
}
