package application

import (
	"context"
	"errors"
	"time"

	"tally/internal/common/logging"
	"tally/internal/common/metrics"
	"tally/internal/common/types"
	"tally/internal/ledger/domain"
)

// TransferService implements the transfer engine. All state-changing work
// runs through the Atomic callback pattern so that balance mutations, the
// transaction header with its postings, and the staged outbox record commit
// together or not at all.
//
// Deadlock freedom: both account rows are locked in canonical id order
// (domain.OrderAccountIDs), so concurrent transfers on any pair of accounts
// always acquire locks in the same global order.
type TransferService struct {
	dataStore domain.AtomicExecutor
	repos     domain.Repositories
	topic     string
	now       func() time.Time
}

// NewTransferService creates a new TransferService publishing to the given topic.
// The dataStore must implement both AtomicExecutor and Repositories interfaces.
func NewTransferService(dataStore interface {
	domain.AtomicExecutor
	domain.Repositories
}, topic string) *TransferService {
	return &TransferService{
		dataStore: dataStore,
		repos:     dataStore,
		topic:     topic,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *TransferService) WithClock(now func() time.Time) *TransferService {
	s.now = now
	return s
}

// CreateTransferRequest represents a request to move funds between accounts.
// Amounts arrive as decimal strings and are validated here, not at the edge.
type CreateTransferRequest struct {
	IdempotencyKey       string
	SourceAccountID      string
	DestinationAccountID string
	Amount               string
	Currency             string
	Description          string
}

// CreateTransferResponse represents the result of a transfer.
// Replayed is true when the idempotency key matched a previously committed
// transfer and the original identity was returned unchanged.
type CreateTransferResponse struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	BookedAt      time.Time `json:"booked_at"`
	Replayed      bool      `json:"-"`
}

// CreateTransfer validates the request, locks both accounts in canonical
// order, applies the balance deltas, persists the double-entry postings, and
// stages the TRANSACTION_CREATED event - all in one atomic unit.
//
// A repeat call with a committed idempotency key returns the original
// transaction's identity and booking time unchanged. A key collision that
// only surfaces at insert time (two concurrent submissions) returns
// ErrDuplicateIdempotencyKey.
func (s *TransferService) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*CreateTransferResponse, error) {
	start := s.now()

	resp, err := s.createTransfer(ctx, req)

	metrics.TransferDuration.Observe(s.now().Sub(start).Seconds())
	metrics.RecordTransfer(outcomeLabel(err, resp))

	return resp, err
}

func (s *TransferService) createTransfer(ctx context.Context, req CreateTransferRequest) (*CreateTransferResponse, error) {
	if req.IdempotencyKey == "" {
		return nil, domain.ErrEmptyIdempotencyKey
	}

	sourceID, err := domain.ParseAccountID(req.SourceAccountID)
	if err != nil {
		return nil, err
	}
	destinationID, err := domain.ParseAccountID(req.DestinationAccountID)
	if err != nil {
		return nil, err
	}
	if sourceID == destinationID {
		return nil, domain.ErrSelfTransfer
	}

	amount, err := types.NewPositiveFromString(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	// Fast dedup pre-check. Non-locking; the unique constraint on the
	// idempotency key remains the authoritative guard at insert time.
	existing, err := s.repos.Transactions().FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}
	if existing != nil {
		logging.InfoContext(ctx, "Transfer replayed",
			"transaction_id", existing.ID().String(),
			"idempotency_key", logging.MaskID(req.IdempotencyKey),
		)
		return &CreateTransferResponse{
			TransactionID: existing.ID().String(),
			Status:        string(existing.Status()),
			BookedAt:      existing.BookedAt(),
			Replayed:      true,
		}, nil
	}

	var result *CreateTransferResponse

	err = s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		// Canonical lock order on the pair rules out circular wait.
		firstID, secondID := domain.OrderAccountIDs(sourceID, destinationID)

		first, err := repos.Accounts().LockByID(ctx, firstID)
		if err != nil {
			return err
		}
		second, err := repos.Accounts().LockByID(ctx, secondID)
		if err != nil {
			return err
		}

		source, destination := first, second
		if firstID != sourceID {
			source, destination = second, first
		}

		// Business validation under the locks.
		if source.Currency() != amount.Currency || destination.Currency() != amount.Currency {
			return domain.ErrCurrencyMismatch
		}

		now := s.now().UTC()

		if err := source.Debit(amount, now); err != nil {
			return err
		}
		if err := destination.Credit(amount, now); err != nil {
			return err
		}

		if err := repos.Accounts().Save(ctx, source); err != nil {
			return err
		}
		if err := repos.Accounts().Save(ctx, destination); err != nil {
			return err
		}

		tx, err := domain.NewPostedTransaction(req.IdempotencyKey, req.Description, now)
		if err != nil {
			return err
		}

		entries := tx.TransferEntries(sourceID, destinationID, amount)
		if err := repos.Transactions().InsertWithEntries(ctx, tx, entries); err != nil {
			return err
		}

		record, err := domain.NewTransactionCreatedOutboxRecord(tx, sourceID, destinationID, amount, s.topic, now)
		if err != nil {
			return err
		}
		if err := repos.Outbox().Append(ctx, record); err != nil {
			return err
		}

		result = &CreateTransferResponse{
			TransactionID: tx.ID().String(),
			Status:        string(tx.Status()),
			BookedAt:      tx.BookedAt(),
		}

		logging.InfoContext(ctx, "Transfer posted",
			"transaction_id", tx.ID().String(),
			"source_account", logging.MaskID(sourceID.String()),
			"destination_account", logging.MaskID(destinationID.String()),
			"amount", amount.String(),
		)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetBalanceResponse is the non-locking balance read result.
type GetBalanceResponse struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Version   int64  `json:"version"`
}

// GetBalance retrieves the current balance of an account.
// This is a read-only operation and doesn't use the Atomic pattern.
func (s *TransferService) GetBalance(ctx context.Context, accountID string) (*GetBalanceResponse, error) {
	id, err := domain.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	account, err := s.repos.Accounts().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &GetBalanceResponse{
		AccountID: account.ID().String(),
		Currency:  account.Currency().String(),
		Balance:   account.Balance().StringFixed(),
		Version:   account.Version(),
	}, nil
}

// outcomeLabel maps a transfer result to its metrics label.
func outcomeLabel(err error, resp *CreateTransferResponse) string {
	switch {
	case err == nil && resp != nil && resp.Replayed:
		return "replayed"
	case err == nil:
		return "posted"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		return "duplicate"
	case errors.Is(err, domain.ErrAccountNotFound):
		return "not_found"
	default:
		return "error"
	}
}
