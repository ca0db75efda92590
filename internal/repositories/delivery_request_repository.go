package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/quickreach/backend/internal/db"
	"github.com/quickreach/backend/internal/models"
)

const deliveryRequestColumns = `id, item_name, category, pickup_location, dropoff_location,
        instructions, price, priority, status, owner_id, created_at, updated_at`

// PostgresDeliveryRequestRepository provides PostgreSQL-backed persistence for delivery requests.
type PostgresDeliveryRequestRepository struct {
	pool db.Pool
}

// NewPostgresDeliveryRequestRepository constructs a delivery request repository backed by PostgreSQL.
func NewPostgresDeliveryRequestRepository(pool db.Pool) *PostgresDeliveryRequestRepository {
	return &PostgresDeliveryRequestRepository{pool: pool}
}

// Create persists a new delivery request.
func (r *PostgresDeliveryRequestRepository) Create(ctx context.Context, req models.DeliveryRequest) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO delivery_requests (`+deliveryRequestColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, req.ID, req.ItemName, req.Category, req.PickupLocation, req.DropoffLocation,
		req.Instructions, req.Price, req.Priority, string(req.Status), req.OwnerID,
		req.CreatedAt.UTC(), req.UpdatedAt.UTC())
	if err != nil {
		switch pgCode(err) {
		case uniqueViolation:
			return ErrConflict
		case checkViolation, foreignKeyViolation:
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return fmt.Errorf("insert delivery request: %w", err)
	}

	return nil
}

// FindByID fetches a delivery request regardless of owner.
func (r *PostgresDeliveryRequestRepository) FindByID(ctx context.Context, id string) (models.DeliveryRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.DeliveryRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+deliveryRequestColumns+` FROM delivery_requests WHERE id = $1`, id)
	req, err := scanDeliveryRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DeliveryRequest{}, ErrNotFound
		}
		return models.DeliveryRequest{}, fmt.Errorf("select delivery request: %w", err)
	}
	return req, nil
}

// ListByOwner returns every request owned by ownerID, newest first.
func (r *PostgresDeliveryRequestRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.DeliveryRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+deliveryRequestColumns+`
        FROM delivery_requests
        WHERE owner_id = $1
        ORDER BY created_at DESC, id ASC
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list delivery requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.DeliveryRequest, 0)
	for rows.Next() {
		req, err := scanDeliveryRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery requests: %w", err)
	}

	return requests, nil
}

// Update applies patch to the stored request inside a retried transaction and
// returns the new state. Fields absent from the patch keep their stored values.
func (r *PostgresDeliveryRequestRepository) Update(ctx context.Context, id string, patch models.RequestPatch, updatedAt time.Time) (models.DeliveryRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.DeliveryRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var updated models.DeliveryRequest
	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+deliveryRequestColumns+` FROM delivery_requests WHERE id = $1 FOR UPDATE`, id)
		current, err := scanDeliveryRequest(row)
		if err != nil {
			return err
		}

		next := patch.Apply(current)
		next.UpdatedAt = updatedAt.UTC()

		_, err = tx.Exec(ctx, `
            UPDATE delivery_requests
            SET item_name = $2, category = $3, pickup_location = $4, dropoff_location = $5,
                instructions = $6, price = $7, priority = $8, status = $9, updated_at = $10
            WHERE id = $1
        `, id, next.ItemName, next.Category, next.PickupLocation, next.DropoffLocation,
			next.Instructions, next.Price, next.Priority, string(next.Status), next.UpdatedAt)
		if err != nil {
			return err
		}

		updated = next
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DeliveryRequest{}, ErrNotFound
		}
		if pgCode(err) == checkViolation {
			return models.DeliveryRequest{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return models.DeliveryRequest{}, fmt.Errorf("update delivery request: %w", err)
	}

	return updated, nil
}

// Delete removes a request and returns the row as it was before deletion.
func (r *PostgresDeliveryRequestRepository) Delete(ctx context.Context, id string) (models.DeliveryRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.DeliveryRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `DELETE FROM delivery_requests WHERE id = $1 RETURNING `+deliveryRequestColumns, id)
	req, err := scanDeliveryRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DeliveryRequest{}, ErrNotFound
		}
		return models.DeliveryRequest{}, fmt.Errorf("delete delivery request: %w", err)
	}
	return req, nil
}

func scanDeliveryRequest(row pgx.Row) (models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	var status string
	if err := row.Scan(
		&req.ID,
		&req.ItemName,
		&req.Category,
		&req.PickupLocation,
		&req.DropoffLocation,
		&req.Instructions,
		&req.Price,
		&req.Priority,
		&status,
		&req.OwnerID,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return models.DeliveryRequest{}, err
	}
	req.Status = models.Status(status)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return req, nil
}

var _ DeliveryRequestRepository = (*PostgresDeliveryRequestRepository)(nil)
