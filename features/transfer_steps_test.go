package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/cucumber/godog"

	"tally/internal/common/types"
	"tally/internal/ledger/api"
	"tally/internal/ledger/application"
	"tally/internal/ledger/domain"
	"tally/internal/ledger/infrastructure/memory"
)

type transferState struct {
	server   *httptest.Server
	store    *memory.DataStore
	accounts map[string]domain.AccountID
	response *http.Response
	body     map[string]any
}

func InitializeScenario(sc *godog.ScenarioContext) {
	state := &transferState{}

	sc.Step(`^the service is running$`, state.theServiceIsRunning)
	sc.Step(`^an account "([^"]*)" with balance "([^"]*)" ([A-Z]{3})$`, state.anAccountWithBalance)
	sc.Step(`^I transfer "([^"]*)" ([A-Z]{3}) from "([^"]*)" to "([^"]*)" with key "([^"]*)"$`, state.iTransfer)
	sc.Step(`^I transfer "([^"]*)" ([A-Z]{3}) from "([^"]*)" to an unknown account with key "([^"]*)"$`, state.iTransferToUnknown)
	sc.Step(`^I request the balance of "([^"]*)"$`, state.iRequestTheBalanceOf)
	sc.Step(`^the response status should be (\d+)$`, state.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, state.theResponseFieldShouldBe)
	sc.Step(`^the balance of "([^"]*)" should be "([^"]*)"$`, state.theBalanceOfShouldBe)

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if state.server != nil {
			state.server.Close()
		}
		if state.response != nil {
			state.response.Body.Close()
		}
		return ctx, nil
	})
}

func (s *transferState) theServiceIsRunning() error {
	s.store = memory.NewDataStore()
	s.accounts = make(map[string]domain.AccountID)

	service := application.NewTransferService(s.store, "transaction-events")
	handler := api.NewHandler(service)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	s.server = httptest.NewServer(mux)
	return nil
}

func (s *transferState) anAccountWithBalance(name, balance, currency string) error {
	m, err := types.NewMoneyFromString(balance, currency)
	if err != nil {
		return err
	}
	account, err := domain.NewAccount(name, m, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := s.store.Accounts().Insert(context.Background(), account); err != nil {
		return err
	}
	s.accounts[name] = account.ID()
	return nil
}

func (s *transferState) iTransfer(amount, currency, from, to, key string) error {
	fromID, ok := s.accounts[from]
	if !ok {
		return fmt.Errorf("unknown account %q", from)
	}
	toID, ok := s.accounts[to]
	if !ok {
		return fmt.Errorf("unknown account %q", to)
	}
	return s.postTransfer(amount, currency, fromID.String(), toID.String(), key)
}

func (s *transferState) iTransferToUnknown(amount, currency, from, key string) error {
	fromID, ok := s.accounts[from]
	if !ok {
		return fmt.Errorf("unknown account %q", from)
	}
	return s.postTransfer(amount, currency, fromID.String(), domain.NewAccountID().String(), key)
}

func (s *transferState) postTransfer(amount, currency, fromID, toID, key string) error {
	payload, err := json.Marshal(map[string]string{
		"idempotency_key":        key,
		"source_account_id":      fromID,
		"destination_account_id": toID,
		"amount":                 amount,
		"currency":               currency,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(s.server.URL+"/transfers", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to post transfer: %w", err)
	}
	return s.captureResponse(resp)
}

func (s *transferState) iRequestTheBalanceOf(name string) error {
	id, ok := s.accounts[name]
	if !ok {
		return fmt.Errorf("unknown account %q", name)
	}
	resp, err := http.Get(s.server.URL + "/accounts/" + id.String() + "/balance")
	if err != nil {
		return fmt.Errorf("failed to request balance: %w", err)
	}
	return s.captureResponse(resp)
}

func (s *transferState) captureResponse(resp *http.Response) error {
	if s.response != nil {
		s.response.Body.Close()
	}
	s.response = resp
	s.body = nil
	if err := json.NewDecoder(resp.Body).Decode(&s.body); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

func (s *transferState) theResponseStatusShouldBe(expected int) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if s.response.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d (body: %v)", expected, s.response.StatusCode, s.body)
	}
	return nil
}

func (s *transferState) theResponseFieldShouldBe(field, expected string) error {
	if s.body == nil {
		return fmt.Errorf("no response body")
	}
	value, ok := s.body[field]
	if !ok {
		return fmt.Errorf("field %q not in response: %v", field, s.body)
	}
	if fmt.Sprintf("%v", value) != expected {
		return fmt.Errorf("expected %q = %q, got %v", field, expected, value)
	}
	return nil
}

func (s *transferState) theBalanceOfShouldBe(name, expected string) error {
	id, ok := s.accounts[name]
	if !ok {
		return fmt.Errorf("unknown account %q", name)
	}
	account, err := s.store.Accounts().FindByID(context.Background(), id)
	if err != nil {
		return err
	}
	if got := account.Balance().StringFixed(); got != expected {
		return fmt.Errorf("expected balance %s, got %s", expected, got)
	}
	return nil
}
