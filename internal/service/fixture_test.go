package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"checkout-ledger/internal/client"
	"checkout-ledger/internal/config"
	"checkout-ledger/internal/credential"
	"checkout-ledger/internal/envelope"
	"checkout-ledger/internal/model"
	"checkout-ledger/internal/notify"
	"checkout-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

type fakeStripe struct {
	client.StripeClient

	mu       sync.Mutex
	invoices []client.FeeInvoice
	err      error
}

func (f *fakeStripe) CreateFeeInvoice(_ context.Context, invoice client.FeeInvoice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.invoices = append(f.invoices, invoice)
	return fmt.Sprintf("in_test_%d", invoice.OrderID), nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Enqueue(n notify.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return true
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.sent))
	for i, n := range r.sent {
		kinds[i] = n.Kind
	}
	return kinds
}

type fixture struct {
	ctx context.Context
	db  *gorm.DB
	env *envelope.Envelope

	userRepo repository.UserRepository
	subRepo  repository.SubscriptionRepository
	credRepo repository.CredentialRepository

	users      UserService
	panel      *ServicePanel
	creds      *CredentialStore
	ledger     *SubscriptionLedger
	resolver   *EmailResolver
	reconciler *Reconciler
	billing    *BillingWebhooks
	stripe     *fakeStripe
	notifier   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := client.OpenDatabase(config.Database{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env, err := envelope.New("service-test-key", "test-salt")
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	logRepo := repository.NewSubmissionLogRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	panel := NewServicePanel(settingRepo)
	err = panel.Init(ctx, []ServiceDefinition{
		{Name: "target", Type: model.ServiceTypeNoLogin, SubmissionLimit: 2},
		{Name: "bestbuy", Type: model.ServiceTypeLoginRequired},
		{Name: "walmart", Type: model.ServiceTypeNoLogin, Disabled: true},
	})
	if err != nil {
		t.Fatalf("panel.Init: %v", err)
	}

	stripe := &fakeStripe{
		StripeClient: client.NewStripeClient(&config.Stripe{WebhookSecret: testWebhookSecret}),
	}
	notifier := &recordingNotifier{}

	creds := NewCredentialStore(db, credRepo, subRepo, userRepo, env)
	resolver := NewEmailResolver(db, subRepo, credRepo, creds, env)
	reconciler := NewReconciler(db, orderRepo, subRepo, userRepo, panel, resolver, stripe, notifier, decimal.NewFromInt(7))

	return &fixture{
		ctx:        ctx,
		db:         db,
		env:        env,
		userRepo:   userRepo,
		subRepo:    subRepo,
		credRepo:   credRepo,
		users:      NewUserService(userRepo),
		panel:      panel,
		creds:      creds,
		ledger:     NewSubscriptionLedger(db, subRepo, logRepo, creds, panel),
		resolver:   resolver,
		reconciler: reconciler,
		billing:    NewBillingWebhooks(db, stripe, webhookRepo, userRepo, reconciler),
		stripe:     stripe,
		notifier:   notifier,
	}
}

func (f *fixture) user(t *testing.T, discordID string) *model.User {
	t.Helper()
	u, err := f.users.EnsureUser(f.ctx, discordID, "user-"+discordID)
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	return u
}

func (f *fixture) submit(t *testing.T, userID uint, service string, fields credential.FieldBundle) *model.Subscription {
	t.Helper()
	sub, err := f.ledger.Submit(f.ctx, userID, SubmissionInput{ServiceName: service, Fields: fields})
	if err != nil {
		t.Fatalf("Submit(%s): %v", service, err)
	}
	return sub
}

// billable gives the user a Stripe customer so their orders can be approved.
func (f *fixture) billable(t *testing.T, u *model.User) {
	t.Helper()
	err := f.db.Model(&model.User{}).Where("id = ?", u.ID).Update("stripe_customer_id", "cus_"+u.DiscordID).Error
	if err != nil {
		t.Fatalf("set stripe customer: %v", err)
	}
}

func signatureHeader(payload []byte, secret string) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func stripeEvent(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","api_version":"2023-10-16","type":%q,"data":{"object":%s}}`,
		id, eventType, object,
	))
}
