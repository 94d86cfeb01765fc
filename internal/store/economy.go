package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"wartable/internal/economy"
)

// CreateShop persists a stocked storefront.
func (s *Store) CreateShop(ctx context.Context, shop *economy.Shop) (*economy.Shop, error) {
	if shop == nil || shop.SessionID == "" {
		return nil, errors.New("shop has no session")
	}
	out := *shop
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Items == nil {
		out.Items = []economy.Item{}
	}
	items, err := marshalJSON(out.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO shops (id, session_id, name, items) VALUES (?, ?, ?, ?)`),
		out.ID, out.SessionID, out.Name, items)
	if err != nil {
		return nil, fmt.Errorf("insert shop: %w", err)
	}
	return &out, nil
}

// GetShop looks a shop up by id.
func (s *Store) GetShop(ctx context.Context, id string) (*economy.Shop, error) {
	var (
		shop  economy.Shop
		items string
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, session_id, name, items FROM shops WHERE id = ?`), id).
		Scan(&shop.ID, &shop.SessionID, &shop.Name, &items)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query shop: %w", err)
	}
	shop.Items = []economy.Item{}
	if err := unmarshalJSON(items, &shop.Items); err != nil {
		return nil, err
	}
	return &shop, nil
}

// GoldBalance sums the user's ledger within the session.
func (s *Store) GoldBalance(ctx context.Context, sessionID, userID string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COALESCE(SUM(delta), 0) FROM gold_ledger WHERE session_id = ? AND user_id = ?`),
		sessionID, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("query gold balance: %w", err)
	}
	return balance, nil
}

// AddLedgerEntry records a gold delta, positive or negative, with a reason.
func (s *Store) AddLedgerEntry(ctx context.Context, sessionID, userID string, delta int, reason string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO gold_ledger (id, session_id, user_id, delta, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), sessionID, userID, delta, reason, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// PurchaseItem atomically checks stock and funds, decrements the item's
// quantity and debits the buyer. Returns the purchased item and the new
// balance, or one of the economy sentinels.
func (s *Store) PurchaseItem(ctx context.Context, shopID, itemID, userID string) (*economy.Item, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin purchase: %w", err)
	}
	defer tx.Rollback()

	var (
		sessionID string
		rawItems  string
	)
	err = tx.QueryRowContext(ctx, s.q(`SELECT session_id, items FROM shops WHERE id = ?`), shopID).
		Scan(&sessionID, &rawItems)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query shop: %w", err)
	}

	items := []economy.Item{}
	if err := unmarshalJSON(rawItems, &items); err != nil {
		return nil, 0, err
	}
	idx := -1
	for i := range items {
		if items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, 0, economy.ErrItemNotFound
	}
	if items[idx].Qty <= 0 {
		return nil, 0, economy.ErrOutOfStock
	}

	var balance int
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT COALESCE(SUM(delta), 0) FROM gold_ledger WHERE session_id = ? AND user_id = ?`),
		sessionID, userID).Scan(&balance)
	if err != nil {
		return nil, 0, fmt.Errorf("query gold balance: %w", err)
	}
	if balance < items[idx].Price {
		return nil, 0, economy.ErrInsufficientGold
	}

	items[idx].Qty--
	bought := items[idx]
	updated, err := marshalJSON(items)
	if err != nil {
		return nil, 0, err
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE shops SET items = ? WHERE id = ?`), updated, shopID); err != nil {
		return nil, 0, fmt.Errorf("update shop stock: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO gold_ledger (id, session_id, user_id, delta, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), sessionID, userID, -bought.Price, "purchase: "+bought.Name, s.now().UTC())
	if err != nil {
		return nil, 0, fmt.Errorf("insert purchase debit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit purchase: %w", err)
	}
	return &bought, balance - bought.Price, nil
}
