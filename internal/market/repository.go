package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tradepost-io/tradepost/internal/domain"
)

// Repository is the Postgres-backed Store. Every method runs a short
// transaction of its own; the item row lock taken with FOR UPDATE is released
// at commit, before any gateway call the orchestrator makes.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const itemColumns = `id, seller_id, buyer_id, status, name, price, description, image_name, category_id, created_at, updated_at`

func scanItem(row *sql.Row) (*domain.Item, error) {
	item := &domain.Item{}
	err := row.Scan(
		&item.ID, &item.SellerID, &item.BuyerID, &item.Status, &item.Name,
		&item.Price, &item.Description, &item.ImageName, &item.CategoryID,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *Repository) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
	`, itemID)
	return scanItem(row)
}

func (r *Repository) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_name, address, num_sell_items, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.AccountName, &user.Address, &user.NumSellItems, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *Repository) CheckItemOnSale(ctx context.Context, itemID int64) (*domain.Item, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, itemID)
	item, err := scanItem(row)
	if err != nil {
		return nil, err
	}

	// Commit releases the row lock; the caller talks to the payment gateway
	// without holding it.
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *Repository) RegisterPurchase(ctx context.Context, rec *PurchaseRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, rec.Item.ID)
	item, err := scanItem(row)
	if err != nil {
		return 0, err
	}

	// Re-check under the lock: a competing buyer may have won between the
	// optimistic check and now.
	if item.Status != domain.ItemStatusOnSale {
		return 0, ErrItemUnavailable
	}
	if !item.Status.CanTransition(domain.ItemStatusTrading) {
		return 0, ErrItemUnavailable
	}

	now := time.Now().UTC()

	var transactionEvidenceID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transaction_evidences
			(seller_id, buyer_id, status, item_id, item_name, item_price, item_description, item_category_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`, item.SellerID, rec.BuyerID, domain.TransactionEvidenceStatusWaitShipping,
		item.ID, item.Name, item.Price, item.Description, item.CategoryID, now,
	).Scan(&transactionEvidenceID)
	if err != nil {
		return 0, fmt.Errorf("insert transaction evidence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shippings
			(transaction_evidence_id, status, item_name, item_id, reserve_id, reserve_time, to_address, to_name, from_address, from_name, img_binary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '', 0, $5, $6, $7, $8, ''::bytea, $9, $9)
	`, transactionEvidenceID, domain.ShippingStatusInitial, item.Name, item.ID,
		rec.ToAddress, rec.ToName, rec.FromAddress, rec.FromName, now)
	if err != nil {
		return 0, fmt.Errorf("insert shipping: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE items
		SET buyer_id = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, item.ID, rec.BuyerID, domain.ItemStatusTrading, now)
	if err != nil {
		return 0, fmt.Errorf("update item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return transactionEvidenceID, nil
}

const transactionEvidenceColumns = `id, seller_id, buyer_id, status, item_id, item_name, item_price, item_description, item_category_id, created_at, updated_at`

func scanTransactionEvidence(row *sql.Row) (*domain.TransactionEvidence, error) {
	te := &domain.TransactionEvidence{}
	err := row.Scan(
		&te.ID, &te.SellerID, &te.BuyerID, &te.Status, &te.ItemID,
		&te.ItemName, &te.ItemPrice, &te.ItemDescription, &te.ItemCategoryID,
		&te.CreatedAt, &te.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return te, nil
}

func (r *Repository) GetTransactionByItemID(ctx context.Context, itemID int64) (*domain.TransactionEvidence, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionEvidenceColumns+`
		FROM transaction_evidences
		WHERE item_id = $1
	`, itemID)
	return scanTransactionEvidence(row)
}

func (r *Repository) GetTransactionByID(ctx context.Context, transactionEvidenceID int64) (*domain.TransactionEvidence, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionEvidenceColumns+`
		FROM transaction_evidences
		WHERE id = $1
	`, transactionEvidenceID)
	return scanTransactionEvidence(row)
}

func (r *Repository) GetShipping(ctx context.Context, transactionEvidenceID int64) (*domain.Shipping, error) {
	shp := &domain.Shipping{}
	err := r.db.QueryRowContext(ctx, `
		SELECT transaction_evidence_id, status, item_name, item_id, reserve_id, reserve_time,
			to_address, to_name, from_address, from_name, img_binary, created_at, updated_at
		FROM shippings
		WHERE transaction_evidence_id = $1
	`, transactionEvidenceID).Scan(
		&shp.TransactionEvidenceID, &shp.Status, &shp.ItemName, &shp.ItemID,
		&shp.ReserveID, &shp.ReserveTime, &shp.ToAddress, &shp.ToName,
		&shp.FromAddress, &shp.FromName, &shp.ImgBinary, &shp.CreatedAt, &shp.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return shp, nil
}

func (r *Repository) StoreReservation(ctx context.Context, transactionEvidenceID int64, reserveID string, reserveTime int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE shippings
		SET reserve_id = $2, reserve_time = $3, status = $4, updated_at = NOW()
		WHERE transaction_evidence_id = $1 AND status = $5
	`, transactionEvidenceID, reserveID, reserveTime,
		domain.ShippingStatusWaitPickup, domain.ShippingStatusInitial)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *Repository) StoreShipmentLabel(ctx context.Context, transactionEvidenceID int64, img []byte) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE shippings
		SET img_binary = $2, updated_at = NOW()
		WHERE transaction_evidence_id = $1
	`, transactionEvidenceID, img)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *Repository) MarkShipping(ctx context.Context, transactionEvidenceID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE shippings
		SET status = $2, updated_at = NOW()
		WHERE transaction_evidence_id = $1 AND status = $3
	`, transactionEvidenceID, domain.ShippingStatusShipping, domain.ShippingStatusWaitPickup)
	return err
}

func (r *Repository) MarkDelivered(ctx context.Context, transactionEvidenceID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE shippings
		SET status = $2, updated_at = NOW()
		WHERE transaction_evidence_id = $1 AND status IN ($3, $4)
	`, transactionEvidenceID, domain.ShippingStatusDone,
		domain.ShippingStatusWaitPickup, domain.ShippingStatusShipping)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transaction_evidences
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, transactionEvidenceID, domain.TransactionEvidenceStatusWaitDone,
		domain.TransactionEvidenceStatusWaitShipping)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) FinalizeTransaction(ctx context.Context, transactionEvidenceID, itemID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE transaction_evidences
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, transactionEvidenceID, domain.TransactionEvidenceStatusDone,
		domain.TransactionEvidenceStatusWaitDone)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInvalidState
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE items
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, itemID, domain.ItemStatusSoldOut, domain.ItemStatusTrading)
	if err != nil {
		return err
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInvalidState
	}

	return tx.Commit()
}

func (r *Repository) UpdateItemPrice(ctx context.Context, itemID, price int64) (*domain.Item, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET price = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, itemID, price, domain.ItemStatusOnSale)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrItemUnavailable
	}

	return r.GetItem(ctx, itemID)
}
