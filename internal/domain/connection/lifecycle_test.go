package connection

import (
	"context"
	"errors"
	"testing"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/infrastructure/provider"
	"bankfeed/internal/shared/retry"
	"bankfeed/internal/shared/tasks"
)

type mockClient struct {
	exchangeFn   func(ctx context.Context, publicToken string) (*provider.ExchangeResult, error)
	balancesFn   func(ctx context.Context, accessToken string) ([]provider.Account, error)
	removeFn     func(ctx context.Context, accessToken string) error
	itemStatusFn func(ctx context.Context, accessToken string) (*provider.ItemStatus, error)
	exchanges    int
}

func (m *mockClient) ExchangePublicToken(ctx context.Context, publicToken string) (*provider.ExchangeResult, error) {
	m.exchanges++
	if m.exchangeFn == nil {
		return &provider.ExchangeResult{AccessToken: "access-token", ItemID: "item-1"}, nil
	}
	return m.exchangeFn(ctx, publicToken)
}

func (m *mockClient) GetBalances(ctx context.Context, accessToken string) ([]provider.Account, error) {
	if m.balancesFn == nil {
		return []provider.Account{{ID: "acc-1", Name: "Checking", Mask: "1234"}}, nil
	}
	return m.balancesFn(ctx, accessToken)
}

func (m *mockClient) RemoveItem(ctx context.Context, accessToken string) error {
	if m.removeFn == nil {
		return nil
	}
	return m.removeFn(ctx, accessToken)
}

func (m *mockClient) GetItemStatus(ctx context.Context, accessToken string) (*provider.ItemStatus, error) {
	if m.itemStatusFn == nil {
		return &provider.ItemStatus{}, nil
	}
	return m.itemStatusFn(ctx, accessToken)
}

type mockRepo struct {
	getFn     func(ctx context.Context, id string) (*Connection, error)
	byItemFn  func(ctx context.Context, itemID string) (*Connection, error)
	createFn  func(ctx context.Context, params CreateParams) (*Connection, error)
	matchesFn func(ctx context.Context, memberID string, masks []string) ([]*Connection, error)
	updates   []*Patch
	absorbed  [][2]string
	zombies   int
}

func (m *mockRepo) Create(ctx context.Context, params CreateParams) (*Connection, error) {
	if m.createFn != nil {
		return m.createFn(ctx, params)
	}
	return &Connection{
		ID:           params.ID,
		UserID:       params.UserID,
		MemberID:     params.MemberID,
		ItemID:       params.ItemID,
		CredentialID: params.CredentialID,
		Status:       StatusActive,
	}, nil
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Connection, error) {
	if m.getFn == nil {
		return nil, nil
	}
	return m.getFn(ctx, id)
}

func (m *mockRepo) GetByItemID(ctx context.Context, itemID string) (*Connection, error) {
	if m.byItemFn == nil {
		return nil, nil
	}
	return m.byItemFn(ctx, itemID)
}

func (m *mockRepo) Update(ctx context.Context, id string, patch *Patch) error {
	m.updates = append(m.updates, patch)
	return nil
}

func (m *mockRepo) FindByMemberMasks(ctx context.Context, memberID string, masks []string) ([]*Connection, error) {
	if m.matchesFn == nil {
		return nil, nil
	}
	return m.matchesFn(ctx, memberID, masks)
}

func (m *mockRepo) Absorb(ctx context.Context, oldID, newID string) error {
	m.absorbed = append(m.absorbed, [2]string{oldID, newID})
	return nil
}

func (m *mockRepo) MarkInactiveZombies(ctx context.Context, userID int64, institutionID string) (int64, error) {
	m.zombies++
	return 0, nil
}

type mockMembers struct {
	byID    func(ctx context.Context, id string) (*Member, error)
	primary func(ctx context.Context, userID int64) (*Member, error)
}

func (m *mockMembers) GetByID(ctx context.Context, id string) (*Member, error) {
	return m.byID(ctx, id)
}

func (m *mockMembers) FindOrCreatePrimary(ctx context.Context, userID int64) (*Member, error) {
	if m.primary == nil {
		return &Member{ID: "member-1", UserID: userID, IsPrimary: true}, nil
	}
	return m.primary(ctx, userID)
}

type mockAccounts struct {
	upserts []string
	listFn  func(ctx context.Context, connectionID string) ([]*account.Account, error)
}

func (m *mockAccounts) UpsertFromProvider(ctx context.Context, connectionID, memberID string, accounts []provider.Account) error {
	m.upserts = append(m.upserts, connectionID)
	return nil
}

func (m *mockAccounts) ListByConnection(ctx context.Context, connectionID string) ([]*account.Account, error) {
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn(ctx, connectionID)
}

type mockTransactions struct {
	listFn  func(ctx context.Context, connectionID string, limit, offset int) ([]*transaction.Transaction, error)
	countFn func(ctx context.Context, connectionID string) (int64, error)
}

func (m *mockTransactions) ListByConnection(ctx context.Context, connectionID string, limit, offset int) ([]*transaction.Transaction, error) {
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn(ctx, connectionID, limit, offset)
}

func (m *mockTransactions) CountByConnection(ctx context.Context, connectionID string) (int64, error) {
	if m.countFn == nil {
		return 0, nil
	}
	return m.countFn(ctx, connectionID)
}

type mockVault struct {
	created []string
	readFn  func(ctx context.Context, id string) (string, error)
}

func (m *mockVault) Create(ctx context.Context, secret string) (string, error) {
	m.created = append(m.created, secret)
	return "cred-new", nil
}

func (m *mockVault) Read(ctx context.Context, id string) (string, error) {
	if m.readFn == nil {
		return "access-token", nil
	}
	return m.readFn(ctx, id)
}

type mockDispatcher struct {
	dispatched []tasks.Task
}

func (m *mockDispatcher) Dispatch(task tasks.Task) error {
	m.dispatched = append(m.dispatched, task)
	return nil
}

func newTestService(client *mockClient, repo *mockRepo) (*Service, *mockVault, *mockAccounts, *mockDispatcher) {
	vault := &mockVault{}
	accounts := &mockAccounts{}
	dispatcher := &mockDispatcher{}
	svc := NewService(client, vault, repo, &mockMembers{}, accounts, &mockTransactions{}, dispatcher, func(ctx context.Context, userID int64, connectionID string) error {
		return nil
	})
	svc.retryPolicy = retry.Policy{MaxAttempts: 1}
	return svc, vault, accounts, dispatcher
}

func TestLinkDuplicateShortCircuitsBeforeExchange(t *testing.T) {
	client := &mockClient{}
	repo := &mockRepo{
		matchesFn: func(ctx context.Context, memberID string, masks []string) ([]*Connection, error) {
			return []*Connection{{ID: "existing", UserID: 7, InstitutionID: "ins_1", Status: StatusActive}}, nil
		},
	}
	svc, vault, _, _ := newTestService(client, repo)

	md := LinkMetadata{InstitutionID: "ins_1", Accounts: []LinkAccount{{Mask: "1234"}}}
	result, err := svc.Link(context.Background(), 7, "public-token", md, "")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !result.Duplicate || result.ConnectionID != "existing" {
		t.Errorf("expected duplicate short-circuit, got %+v", result)
	}
	if client.exchanges != 0 {
		t.Error("duplicate detection must run before token exchange")
	}
	if len(vault.created) != 0 {
		t.Error("no secret should be stored for a duplicate link")
	}
	if repo.zombies != 1 {
		t.Errorf("expected zombie cleanup, got %d calls", repo.zombies)
	}
}

func TestLinkCreatesConnection(t *testing.T) {
	client := &mockClient{}
	repo := &mockRepo{}
	svc, vault, accounts, dispatcher := newTestService(client, repo)

	md := LinkMetadata{InstitutionID: "ins_1", InstitutionName: "Test Bank", Accounts: []LinkAccount{{Mask: "1234"}}}
	result, err := svc.Link(context.Background(), 7, "public-token", md, "")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if result.Duplicate || result.Resurrected {
		t.Errorf("expected fresh connection, got %+v", result)
	}
	if len(vault.created) != 1 || vault.created[0] != "access-token" {
		t.Errorf("expected access token in vault, got %v", vault.created)
	}
	if len(accounts.upserts) != 1 || accounts.upserts[0] != result.ConnectionID {
		t.Errorf("expected accounts stored for new connection, got %v", accounts.upserts)
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0].Name != "initial-sync" {
		t.Errorf("expected initial sync dispatched, got %+v", dispatcher.dispatched)
	}
}

func TestLinkResurrectsDisconnectedConnection(t *testing.T) {
	client := &mockClient{}
	repo := &mockRepo{
		matchesFn: func(ctx context.Context, memberID string, masks []string) ([]*Connection, error) {
			return []*Connection{{ID: "old-conn", UserID: 7, InstitutionID: "ins_1", Status: StatusDisconnected}}, nil
		},
	}
	svc, _, _, _ := newTestService(client, repo)

	md := LinkMetadata{InstitutionID: "ins_1", Accounts: []LinkAccount{{Mask: "1234"}}}
	result, err := svc.Link(context.Background(), 7, "public-token", md, "")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !result.Resurrected {
		t.Error("expected resurrection")
	}
	if len(repo.absorbed) != 1 || repo.absorbed[0][0] != "old-conn" || repo.absorbed[0][1] != result.ConnectionID {
		t.Errorf("expected old-conn absorbed into new connection, got %v", repo.absorbed)
	}
}

func TestLinkConcurrentItemRace(t *testing.T) {
	client := &mockClient{}
	repo := &mockRepo{
		createFn: func(ctx context.Context, params CreateParams) (*Connection, error) {
			return nil, ErrDuplicateItem
		},
		byItemFn: func(ctx context.Context, itemID string) (*Connection, error) {
			return &Connection{ID: "winner", UserID: 7, ItemID: itemID, Status: StatusActive}, nil
		},
	}
	svc, _, _, _ := newTestService(client, repo)

	result, err := svc.Link(context.Background(), 7, "public-token", LinkMetadata{}, "")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !result.Duplicate || result.ConnectionID != "winner" {
		t.Errorf("expected race loser to return winner, got %+v", result)
	}
}

func TestLinkForeignMember(t *testing.T) {
	client := &mockClient{}
	repo := &mockRepo{}
	svc, _, _, _ := newTestService(client, repo)
	svc.members = &mockMembers{byID: func(ctx context.Context, id string) (*Member, error) {
		return &Member{ID: id, UserID: 99}, nil
	}}

	_, err := svc.Link(context.Background(), 7, "public-token", LinkMetadata{}, "member-other")
	if !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("foreign member must look absent, got %v", err)
	}
	if client.exchanges != 0 {
		t.Error("no exchange for a rejected member")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	removed := 0
	client := &mockClient{removeFn: func(ctx context.Context, accessToken string) error {
		removed++
		return nil
	}}
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 7, Status: StatusDisconnected, CredentialID: "cred-1"}, nil
	}}
	svc, _, _, _ := newTestService(client, repo)

	if err := svc.Disconnect(context.Background(), 7, "conn-1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if removed != 0 || len(repo.updates) != 0 {
		t.Error("disconnecting an already disconnected connection must be a no-op")
	}
}

func TestDisconnectPreservesCredential(t *testing.T) {
	client := &mockClient{removeFn: func(ctx context.Context, accessToken string) error {
		return errors.New("provider down")
	}}
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 7, Status: StatusActive, CredentialID: "cred-1"}, nil
	}}
	svc, _, _, _ := newTestService(client, repo)

	if err := svc.Disconnect(context.Background(), 7, "conn-1"); err != nil {
		t.Fatalf("revoke failure must not block disconnect: %v", err)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(repo.updates))
	}
	fields := repo.updates[0].Fields()
	if fields["status"] != string(StatusDisconnected) {
		t.Errorf("expected status disconnected, got %v", fields["status"])
	}
	if _, ok := fields["credential_id"]; ok {
		t.Error("disconnect must never touch the stored credential")
	}
}

func TestStatusNeedsReauth(t *testing.T) {
	code := provider.CodeItemLoginRequired
	client := &mockClient{itemStatusFn: func(ctx context.Context, accessToken string) (*provider.ItemStatus, error) {
		return &provider.ItemStatus{ErrorCode: &code}, nil
	}}
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 7, Status: StatusActive, CredentialID: "cred-1"}, nil
	}}
	svc, _, _, _ := newTestService(client, repo)

	result, err := svc.Status(context.Background(), 7, "conn-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != "needs_reauth" {
		t.Errorf("expected needs_reauth, got %s", result.Status)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected the error to be persisted, got %d updates", len(repo.updates))
	}
	if repo.updates[0].Fields()["provider_error"] != code {
		t.Errorf("expected provider_error persisted, got %v", repo.updates[0].Fields())
	}
}

func TestStatusHealsStoredError(t *testing.T) {
	client := &mockClient{}
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		code := provider.CodeItemLoginRequired
		return &Connection{ID: id, UserID: 7, Status: StatusError, ProviderError: &code, CredentialID: "cred-1"}, nil
	}}
	svc, _, _, _ := newTestService(client, repo)

	result, err := svc.Status(context.Background(), 7, "conn-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Status != string(StatusActive) || result.ProviderError != nil {
		t.Errorf("expected healed status, got %+v", result)
	}
	if len(repo.updates) != 1 {
		t.Errorf("expected heal persisted, got %d updates", len(repo.updates))
	}
}

func TestAccountsListsStoredAccounts(t *testing.T) {
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 7, Status: StatusActive}, nil
	}}
	svc, _, accounts, _ := newTestService(&mockClient{}, repo)
	accounts.listFn = func(ctx context.Context, connectionID string) ([]*account.Account, error) {
		return []*account.Account{
			{ID: "acc-1", ConnectionID: connectionID, Status: account.StatusActive},
			{ID: "acc-old", ConnectionID: connectionID, Status: account.StatusReplaced},
		}, nil
	}

	got, err := svc.Accounts(context.Background(), 7, "conn-1")
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(got) != 2 || got[1].Status != account.StatusReplaced {
		t.Errorf("expected both active and replaced accounts, got %+v", got)
	}
}

func TestAccountsOwnership(t *testing.T) {
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 99, Status: StatusActive}, nil
	}}
	svc, _, _, _ := newTestService(&mockClient{}, repo)

	if _, err := svc.Accounts(context.Background(), 7, "conn-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign connection must look absent, got %v", err)
	}
}

func TestTransactionsPagesWithTotal(t *testing.T) {
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 7, Status: StatusActive}, nil
	}}
	svc, _, _, _ := newTestService(&mockClient{}, repo)

	var gotLimit, gotOffset int
	svc.transactions = &mockTransactions{
		listFn: func(ctx context.Context, connectionID string, limit, offset int) ([]*transaction.Transaction, error) {
			gotLimit, gotOffset = limit, offset
			return []*transaction.Transaction{{ID: "txn-1", ConnectionID: connectionID}}, nil
		},
		countFn: func(ctx context.Context, connectionID string) (int64, error) {
			return 41, nil
		},
	}

	txns, total, err := svc.Transactions(context.Background(), 7, "conn-1", 20, 40)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if gotLimit != 20 || gotOffset != 40 {
		t.Errorf("expected limit/offset passed through, got %d/%d", gotLimit, gotOffset)
	}
	if len(txns) != 1 || total != 41 {
		t.Errorf("expected one row and total 41, got %d rows, total %d", len(txns), total)
	}
}

func TestTransactionsOwnership(t *testing.T) {
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 99, Status: StatusActive}, nil
	}}
	svc, _, _, _ := newTestService(&mockClient{}, repo)

	if _, _, err := svc.Transactions(context.Background(), 7, "conn-1", 50, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign connection must look absent, got %v", err)
	}
}

func TestStatusOwnership(t *testing.T) {
	repo := &mockRepo{getFn: func(ctx context.Context, id string) (*Connection, error) {
		return &Connection{ID: id, UserID: 99, Status: StatusActive}, nil
	}}
	svc, _, _, _ := newTestService(&mockClient{}, repo)

	if _, err := svc.Status(context.Background(), 7, "conn-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign connection must look absent, got %v", err)
	}
}
