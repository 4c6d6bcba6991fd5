package pgshipping

import (
	"context"
	"strings"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `id, workspace_id, order_number, status, tracking_number, customer_email`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(&o.ID, &o.WorkspaceID, &o.OrderNumber, &o.Status, &o.TrackingNumber, &o.CustomerEmail); err != nil {
		return nil, err
	}
	return &o, nil
}

func orderKey(ref string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(ref), "#"))
}

// FindOrderByNumber ищет точное совпадение номера заказа без учёта регистра и ведущего '#'.
func (s *Storage) FindOrderByNumber(ctx context.Context, ref string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE upper(ltrim(order_number, '#')) = $1
ORDER BY id
LIMIT 1
`, orderKey(ref)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// FindOrdersByNumberLike returns up to limit orders whose number contains ref
// or is contained in it.
func (s *Storage) FindOrdersByNumberLike(ctx context.Context, ref string, limit int) ([]*models.Order, error) {
	key := orderKey(ref)
	if key == "" {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE strpos(upper(order_number), $1) > 0
   OR strpos($1, upper(ltrim(order_number, '#'))) > 0
ORDER BY id
LIMIT $2
`, key, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select orders like")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// SaveOrder is used by the order side (and tests) to mirror orders into this store.
func (s *Storage) SaveOrder(ctx context.Context, o models.Order) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO orders (id, workspace_id, order_number, status, tracking_number, customer_email, updated_at)
VALUES ($1,$2,$3,$4,$5,$6, now())
ON CONFLICT (id) DO UPDATE SET
  workspace_id = EXCLUDED.workspace_id,
  order_number = EXCLUDED.order_number,
  status = EXCLUDED.status,
  tracking_number = EXCLUDED.tracking_number,
  customer_email = EXCLUDED.customer_email,
  updated_at = now()
`, o.ID, o.WorkspaceID, o.OrderNumber, o.Status, o.TrackingNumber, o.CustomerEmail)
	return errors.Wrap(err, "save order")
}
