package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/store"
	"laybyku/backend/internal/xid"
)

const seedStoreID = "main-store"

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	inventory       map[string]map[string]int
	laybysByID      map[string]*domain.LaybyOrder
	paymentsByIdem  map[string]store.PaymentResult
	transactions    []domain.Transaction
	settingsByStore map[string]domain.LaybySettings
	laybySeq        map[string]int
	transactionSeq  map[string]int
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	defaultCreds    bool
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD and fall
// back to dev defaults; the second return value reports that fallback.
func seedUsers() (map[string]domain.UserAccount, bool) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	usedDefaults := os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == ""

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   seedStoreID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, usedDefaults
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{SKU: "SKU-KULKAS-01", Name: "Kulkas 2 Pintu", Category: "appliance", PriceCents: 4_250_000_00, Active: true},
		{SKU: "SKU-MESINCUCI-01", Name: "Mesin Cuci 8kg", Category: "appliance", PriceCents: 3_100_000_00, Active: true},
		{SKU: "SKU-TV-01", Name: "Smart TV 43 inci", Category: "electronics", PriceCents: 3_899_000_00, Active: true},
		{SKU: "SKU-HP-01", Name: "Smartphone 128GB", Category: "electronics", PriceCents: 2_499_000_00, Active: true},
		{SKU: "SKU-LAPTOP-01", Name: "Laptop 14 inci", Category: "electronics", PriceCents: 7_250_000_00, Active: true},
		{SKU: "SKU-SOFA-01", Name: "Sofa 3 Dudukan", Category: "furniture", PriceCents: 2_750_000_00, Active: true},
		{SKU: "SKU-KASUR-01", Name: "Kasur Busa 160", Category: "furniture", PriceCents: 1_650_000_00, Active: true},
		{SKU: "SKU-LEMARI-01", Name: "Lemari Pakaian", Category: "furniture", PriceCents: 1_980_000_00, Active: true},
		{SKU: "SKU-SEPEDA-01", Name: "Sepeda Lipat", Category: "outdoor", PriceCents: 2_150_000_00, Active: true},
		{SKU: "SKU-KIPAS-01", Name: "Kipas Angin Berdiri", Category: "appliance", PriceCents: 425_000_00, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	inventory := map[string]map[string]int{seedStoreID: {}}
	for _, p := range products {
		productMap[p.SKU] = p
		inventory[seedStoreID][p.SKU] = 25
	}

	users, usedDefaults := seedUsers()

	return &Store{
		products:        productMap,
		inventory:       inventory,
		laybysByID:      make(map[string]*domain.LaybyOrder),
		paymentsByIdem:  make(map[string]store.PaymentResult),
		transactions:    make([]domain.Transaction, 0, 128),
		settingsByStore: make(map[string]domain.LaybySettings),
		laybySeq:        make(map[string]int),
		transactionSeq:  make(map[string]int),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: users,
		defaultCreds:    usedDefaults,
	}
}

// UsingDefaultCredentials reports whether the seed users were created with
// the built-in dev passwords.
func (s *Store) UsingDefaultCredentials() bool {
	return s.defaultCreds
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok && p.Active {
			result[sku] = p
		}
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, storeID string, skus []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(skus))
	storeStock := s.inventory[storeID]
	for _, sku := range skus {
		stockMap[sku] = storeStock[sku]
	}
	return stockMap, nil
}

func (s *Store) SetStock(_ context.Context, storeID string, sku string, qty int) error {
	if sku == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[sku]; !exists {
		return fmt.Errorf("sku %s unavailable", sku)
	}
	s.storeStockLocked(storeID)[sku] = qty
	return nil
}

// ReserveStock takes every line or none of them.
func (s *Store) ReserveStock(_ context.Context, storeID string, items []domain.StockAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storeStock := s.storeStockLocked(storeID)
	needed := make(map[string]int, len(items))
	for _, item := range items {
		if item.Qty < 1 {
			return store.ErrInvalidTransaction
		}
		if _, exists := s.products[item.SKU]; !exists {
			return fmt.Errorf("sku %s unavailable", item.SKU)
		}
		needed[item.SKU] += item.Qty
	}
	for sku, qty := range needed {
		if storeStock[sku] < qty {
			return store.ErrInsufficientStock
		}
	}
	for sku, qty := range needed {
		storeStock[sku] -= qty
	}
	return nil
}

func (s *Store) ReleaseStock(_ context.Context, storeID string, items []domain.StockAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storeStock := s.storeStockLocked(storeID)
	for _, item := range items {
		if item.Qty < 1 {
			continue
		}
		if _, exists := s.products[item.SKU]; !exists {
			return fmt.Errorf("sku %s unavailable", item.SKU)
		}
		storeStock[item.SKU] += item.Qty
	}
	return nil
}

func (s *Store) storeStockLocked(storeID string) map[string]int {
	storeStock, ok := s.inventory[storeID]
	if !ok {
		storeStock = make(map[string]int)
		s.inventory[storeID] = storeStock
	}
	return storeStock
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.Transaction, 0, 64)
	for _, tx := range s.transactions {
		if filter.StoreID != "" && tx.StoreID != filter.StoreID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !tx.CreatedAt.Before(filter.To) {
			continue
		}
		if search != "" && !containsAny(search, tx.TransactionNumber, tx.CustomerName, tx.Description) {
			continue
		}
		result = append(result, tx)
	}

	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.TransactionNumber, a.TransactionNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.StoreID == "" {
		user.StoreID = seedStoreID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// HasStoreAccess mirrors has_store_access: an active account bound to the
// store.
func (s *Store) HasStoreAccess(_ context.Context, username string, storeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok || !user.Active {
		return false, nil
	}
	return user.StoreID == storeID, nil
}

func containsAny(needle string, haystacks ...string) bool {
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}
