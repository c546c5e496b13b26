package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Oshioxi2003/edu/repository/models"
	"github.com/Oshioxi2003/edu/sequence"
)

// PostgreSQL error codes as constants
const (
	// Class 23 — Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 40 — Transaction Rollback
	PgErrTransactionRollback = "40000" // transaction_rollback
	PgErrSerializationFail   = "40001" // serialization_failure
	PgErrDeadlockDetected    = "40P01" // deadlock_detected
)

// Domain error codes returned by the repository layer
const (
	ErrCodeNotFound        = "ENTITY_NOT_FOUND"
	ErrCodeAlreadyEnrolled = "ALREADY_ENROLLED"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeDatabase        = "DATABASE_ERROR"
	ErrCodeCommitFailed    = "COMMIT_FAILED"
)

// How many times CreateOrder re-allocates a code on a unique collision
const orderCodeRetries = 3

// RepositoryError represents an error in the repository layer
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

// Repository owns all persistent entities and the order state machine
type Repository struct {
	db     *gorm.DB
	codes  *sequence.Allocator
	logger cmtlog.Logger
}

// NewRepository creates an unconnected repository
func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{
		logger: logger,
	}
}

// ConnectDB connects to Postgres, retrying while the database comes up
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := range 10 {
		db, err := gorm.Open(postgres.Open(dsn))
		if err != nil {
			lastErr = err
			r.logger.Info("Connection attempt failed", "attempt", i+1, "err", err)
			time.Sleep(2 * time.Second)
			continue
		}
		r.db = db
		r.logger.Info("Connected to Postgres")
		return nil
	}
	return fmt.Errorf("connecting to postgres: %w", lastErr)
}

// SetCodeAllocator wires the order code allocator used by CreateOrder
func (r *Repository) SetCodeAllocator(codes *sequence.Allocator) {
	r.codes = codes
}

// Migrate creates or updates the database schema
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.User{},
		&models.Book{},
		&models.Order{},
		&models.Transaction{},
		&models.Enrollment{},
	)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	r.logger.Info("Database migration completed")
	return nil
}

// Seed loads demo users and books, skipping when data already exists
func (r *Repository) Seed() {
	var bookCount int64
	r.db.Model(&models.Book{}).Count(&bookCount)
	if bookCount > 0 {
		r.logger.Info("Seed data already exists, skipping")
		return
	}

	users := []models.User{
		{ID: "USR-001", Email: "minh.nguyen@example.com", FullName: "Minh Nguyen"},
		{ID: "USR-002", Email: "lan.tran@example.com", FullName: "Lan Tran"},
		{ID: "USR-003", Email: "admin@example.com", FullName: "Platform Admin", IsStaff: true},
	}
	for _, user := range users {
		if err := r.db.Create(&user).Error; err != nil {
			r.logger.Error("Error creating user", "id", user.ID, "err", err)
		}
	}

	books := []models.Book{
		{ID: "BOOK-001", Title: "IELTS Listening Practice", Price: 299000, Currency: "VND"},
		{ID: "BOOK-002", Title: "TOEIC Reading Mastery", Price: 249000, Currency: "VND"},
		{ID: "BOOK-003", Title: "Business English Essentials", Price: 349000, Currency: "VND"},
	}
	for _, book := range books {
		if err := r.db.Create(&book).Error; err != nil {
			r.logger.Error("Error creating book", "id", book.ID, "err", err)
		}
	}

	r.logger.Info("Database seeding completed")
}

// wrapDBError maps a gorm/pg error into a RepositoryError
func wrapDBError(err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    ErrCodeDatabase,
		Message: "A database error occurred",
		Detail:  err.Error(),
	}
}

// CreateOrder creates a PENDING order for the given buyer and book. Buyers
// who already hold an active enrollment for the book are rejected. Order
// codes come from the atomic allocator; a unique collision (possible only if
// the badger state was reset) re-allocates instead of failing.
func (r *Repository) CreateOrder(userID, bookID, provider string) (*models.Order, *RepositoryError) {
	var book models.Book
	err := r.db.Where("book_id = ?", bookID).First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    ErrCodeNotFound,
				Message: "Book does not exist",
				Detail:  fmt.Sprintf("Book with id %s does not exist", bookID),
			}
		}
		return nil, wrapDBError(err)
	}

	active, repoErr := r.HasActiveEnrollment(userID, bookID)
	if repoErr != nil {
		return nil, repoErr
	}
	if active {
		return nil, &RepositoryError{
			Code:    ErrCodeAlreadyEnrolled,
			Message: "User already has access to this book",
			Detail:  fmt.Sprintf("User %s holds an active enrollment for book %s", userID, bookID),
		}
	}

	for attempt := 0; attempt < orderCodeRetries; attempt++ {
		code, err := r.codes.Next(time.Now())
		if err != nil {
			return nil, &RepositoryError{
				Code:    ErrCodeDatabase,
				Message: "Failed to allocate order code",
				Detail:  err.Error(),
			}
		}

		order := models.Order{
			OrderCode: code,
			UserID:    userID,
			BookID:    bookID,
			Amount:    book.Price,
			Currency:  book.Currency,
			Provider:  provider,
			Status:    models.OrderStatusPending,
		}

		dbTx := r.db.Begin()
		if err := dbTx.Create(&order).Error; err != nil {
			dbTx.Rollback()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation {
				r.logger.Info("Order code collision, re-allocating", "code", code)
				continue
			}
			return nil, wrapDBError(err)
		}
		if err := dbTx.Commit().Error; err != nil {
			return nil, &RepositoryError{
				Code:    ErrCodeCommitFailed,
				Message: "Failed to commit transaction",
				Detail:  err.Error(),
			}
		}
		order.Book = &book
		return &order, nil
	}

	return nil, &RepositoryError{
		Code:    ErrCodeDatabase,
		Message: "Failed to allocate a unique order code",
		Detail:  fmt.Sprintf("gave up after %d attempts", orderCodeRetries),
	}
}

// GetOrderByCode loads an order by its gateway-facing code
func (r *Repository) GetOrderByCode(code string) (*models.Order, *RepositoryError) {
	var order models.Order
	err := r.db.Preload("Book").Where("order_code = ?", code).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    ErrCodeNotFound,
				Message: "Order does not exist",
				Detail:  fmt.Sprintf("Order with code %s does not exist", code),
			}
		}
		return nil, wrapDBError(err)
	}
	return &order, nil
}

// ListUserOrders returns a user's orders, optionally filtered by status
func (r *Repository) ListUserOrders(userID, status string) ([]models.Order, *RepositoryError) {
	query := r.db.Preload("Book").Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var orders []models.Order
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, wrapDBError(err)
	}
	return orders, nil
}

// TransitionOrder moves an order from PENDING to a terminal status. The row
// is locked for the whole read-decide-write sequence so concurrent callbacks
// serialize on it. If the order is already terminal the call is a no-op that
// returns the row unchanged and changed=false; redelivery is idempotent by
// construction, not by error handling.
func (r *Repository) TransitionOrder(orderID uint, target string, paidAt *time.Time) (*models.Order, bool, *RepositoryError) {
	if target != models.OrderStatusPaid && target != models.OrderStatusFailed && target != models.OrderStatusCancelled {
		return nil, false, &RepositoryError{
			Code:    ErrCodeInvalidState,
			Message: "Invalid target status",
			Detail:  fmt.Sprintf("cannot transition to %q", target),
		}
	}

	dbTx := r.db.Begin()

	var order models.Order
	err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		dbTx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, &RepositoryError{
				Code:    ErrCodeNotFound,
				Message: "Order does not exist",
				Detail:  fmt.Sprintf("Order with id %d does not exist", orderID),
			}
		}
		return nil, false, wrapDBError(err)
	}

	if order.IsTerminal() {
		dbTx.Rollback()
		return &order, false, nil
	}

	order.Status = target
	if target == models.OrderStatusPaid {
		if paidAt == nil {
			now := time.Now()
			paidAt = &now
		}
		order.PaidAt = paidAt
	}

	if err := dbTx.Save(&order).Error; err != nil {
		dbTx.Rollback()
		return nil, false, wrapDBError(err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, false, &RepositoryError{
			Code:    ErrCodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
		}
	}

	return &order, true, nil
}

// AppendTransaction writes the audit record for one received callback. One
// row is appended per callback, valid or not; rows are never updated.
func (r *Repository) AppendTransaction(orderID uint, providerTxnID, status string, rawPayload json.RawMessage, signedOk bool) (*models.Transaction, *RepositoryError) {
	txn := models.Transaction{
		OrderID:       orderID,
		ProviderTxnID: providerTxnID,
		Status:        status,
		RawPayload:    rawPayload,
		SignedOk:      signedOk,
		IPNVerified:   true,
	}

	dbTx := r.db.Begin()
	if err := dbTx.Create(&txn).Error; err != nil {
		dbTx.Rollback()
		return nil, wrapDBError(err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{
			Code:    ErrCodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
		}
	}
	return &txn, nil
}

// GrantEnrollment idempotently grants a user access to a book. A missing row
// is created active, an inactive row is reactivated from now, and an active
// row is returned untouched. The (user, book) unique index guarantees at most
// one row per pair even under concurrent grants.
func (r *Repository) GrantEnrollment(userID, bookID string) (*models.Enrollment, *RepositoryError) {
	dbTx := r.db.Begin()

	var enrollment models.Enrollment
	err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND book_id = ?", userID, bookID).First(&enrollment).Error

	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			dbTx.Rollback()
			return nil, wrapDBError(err)
		}
		enrollment = models.Enrollment{
			UserID:     userID,
			BookID:     bookID,
			ActiveFrom: time.Now(),
			IsActive:   true,
		}
		if err := dbTx.Create(&enrollment).Error; err != nil {
			dbTx.Rollback()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation {
				// Lost a race with a concurrent grant; the winner's row is
				// the one that counts.
				return r.getEnrollment(userID, bookID)
			}
			return nil, wrapDBError(err)
		}
	} else if !enrollment.IsActive {
		enrollment.IsActive = true
		enrollment.ActiveFrom = time.Now()
		enrollment.ActiveUntil = nil
		if err := dbTx.Save(&enrollment).Error; err != nil {
			dbTx.Rollback()
			return nil, wrapDBError(err)
		}
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{
			Code:    ErrCodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
		}
	}
	return &enrollment, nil
}

func (r *Repository) getEnrollment(userID, bookID string) (*models.Enrollment, *RepositoryError) {
	var enrollment models.Enrollment
	err := r.db.Where("user_id = ? AND book_id = ?", userID, bookID).First(&enrollment).Error
	if err != nil {
		return nil, wrapDBError(err)
	}
	return &enrollment, nil
}

// HasActiveEnrollment evaluates access at read time: the row must be active
// and its expiry, if set, still in the future.
func (r *Repository) HasActiveEnrollment(userID, bookID string) (bool, *RepositoryError) {
	var count int64
	err := r.db.Model(&models.Enrollment{}).
		Where("user_id = ? AND book_id = ? AND is_active = ?", userID, bookID, true).
		Where("(active_until IS NULL OR active_until > ?)", time.Now()).
		Count(&count).Error
	if err != nil {
		return false, wrapDBError(err)
	}
	return count > 0, nil
}
