package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var product domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, image_url, stock, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Name, &product.PriceMinor, &product.ImageURL,
		&product.Stock, &product.Active, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	return product, nil
}

// ReserveStock списывает остатки по всем позициям в одной транзакции.
// Каждое списание — атомарный условный UPDATE: "decrement where stock >= qty".
// Ноль затронутых строк означает нехватку остатка или отсутствие товара,
// транзакция откатывается целиком, и ни один остаток не меняется.
func (r *productRepository) ReserveStock(items []domain.StockAdjustment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, adj := range items {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2,
			    updated_at = $3
			WHERE id = $1
			  AND active
			  AND stock >= $2
		`, adj.ProductID, adj.Qty, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("reserve stock for %s: %w", adj.ProductID, err)
		}

		var affected int64
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reserve rows affected: %w", err)
		}
		if affected == 0 {
			exists, checkErr := r.productExistsTx(ctx, tx, adj.ProductID)
			if checkErr != nil {
				err = checkErr
				return err
			}
			if !exists {
				err = domain.ErrProductNotFound
				return err
			}
			err = domain.ErrInsufficientStock
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve stock: %w", err)
	}

	return nil
}

// RestoreStock безусловно возвращает остатки (компенсация).
func (r *productRepository) RestoreStock(items []domain.StockAdjustment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, adj := range items {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $2,
			    updated_at = $3
			WHERE id = $1
		`, adj.ProductID, adj.Qty, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("restore stock for %s: %w", adj.ProductID, err)
		}

		var affected int64
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("restore rows affected: %w", err)
		}
		if affected == 0 {
			err = domain.ErrProductNotFound
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit restore stock: %w", err)
	}

	return nil
}

// productExistsTx различает "товар не найден/не активен" и "не хватает остатка":
// активный существующий товар с нулём затронутых строк означает нехватку.
func (r *productRepository) productExistsTx(ctx context.Context, tx *sql.Tx, productID string) (bool, error) {
	var active bool
	err := tx.QueryRowContext(ctx, `SELECT active FROM products WHERE id = $1`, productID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return active, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
