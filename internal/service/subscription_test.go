package service

import (
	"errors"
	"testing"

	"checkout-ledger/internal/credential"
	"checkout-ledger/internal/envelope"
	"checkout-ledger/internal/model"
)

func targetBundle(email string) credential.FieldBundle {
	return credential.FieldBundle{
		"email":           email,
		"card_number":     "4111111111111111",
		"card_holder":     "Ada Buyer",
		"cvv":             "123",
		"billing_address": "1 Main St",
	}
}

func TestSubmissionLimit(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "limit")

	f.submit(t, u.ID, "target", targetBundle("one@example.com"))
	f.submit(t, u.ID, "Target", targetBundle("two@example.com"))

	_, err := f.ledger.Submit(f.ctx, u.ID, SubmissionInput{ServiceName: "target", Fields: targetBundle("three@example.com")})
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("third Submit error = %v, want LimitExceededError", err)
	}
	if limitErr.Limit != 2 || limitErr.Current != 2 {
		t.Errorf("limit error = %+v", limitErr)
	}

	if _, err := f.ledger.CreateSubscription(f.ctx, u.ID, "target", "", ""); !errors.As(err, &limitErr) {
		t.Fatalf("CreateSubscription error = %v, want LimitExceededError", err)
	}

	subs, err := f.ledger.ListByUser(f.ctx, u.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subscriptions after rejected creates, want 2", len(subs))
	}

	var records int64
	f.db.Model(&model.CredentialRecord{}).Count(&records)
	if records != 2 {
		t.Errorf("got %d credential records, want 2", records)
	}
}

func TestLimitSurvivesCaseOnlyRename(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "rename")

	f.submit(t, u.ID, "target", targetBundle("r1@example.com"))
	f.submit(t, u.ID, "target", targetBundle("r2@example.com"))

	err := f.panel.Upsert(f.ctx, ServiceDefinition{Name: "Target", Type: model.ServiceTypeNoLogin, SubmissionLimit: 2})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	_, err = f.ledger.Submit(f.ctx, u.ID, SubmissionInput{ServiceName: "Target", Fields: targetBundle("r3@example.com")})
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Submit after rename error = %v, want LimitExceededError", err)
	}
	if limitErr.Current != 2 {
		t.Errorf("current = %d, want 2", limitErr.Current)
	}

	subs, err := f.ledger.ListByUser(f.ctx, u.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("got %d subscriptions, want 2", len(subs))
	}
}

func TestLimitIsPerUser(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a")
	b := f.user(t, "b")

	f.submit(t, a.ID, "target", targetBundle("a1@example.com"))
	f.submit(t, a.ID, "target", targetBundle("a2@example.com"))
	f.submit(t, b.ID, "target", targetBundle("b1@example.com"))
}

func TestUnlimitedService(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "unlimited")

	for i := 0; i < 5; i++ {
		if _, err := f.ledger.CreateSubscription(f.ctx, u.ID, "bestbuy", "", ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
}

func TestSubmitRejects(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "reject")

	tests := []struct {
		name string
		in   SubmissionInput
		want error
	}{
		{"unknown service", SubmissionInput{ServiceName: "nowhere", Fields: targetBundle("x@y.com")}, ErrUnknownService},
		{"disabled service", SubmissionInput{ServiceName: "walmart", Fields: targetBundle("x@y.com")}, ErrUnknownService},
		{"wrong type", SubmissionInput{ServiceName: "target", ServiceType: model.ServiceTypeLoginRequired, Fields: targetBundle("x@y.com")}, ErrInvalidServiceType},
		{"no credentials", SubmissionInput{ServiceName: "target"}, ErrInvalidSubmission},
		{"no email", SubmissionInput{ServiceName: "target", Fields: credential.FieldBundle{"card_number": "4111111111111111"}}, ErrInvalidSubmission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ledger.Submit(f.ctx, u.ID, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("Submit error = %v, want %v", err, tt.want)
			}
		})
	}

	subs, _ := f.ledger.ListByUser(f.ctx, u.ID)
	if len(subs) != 0 {
		t.Fatalf("rejected submissions left %d subscriptions", len(subs))
	}
}

func TestOwnershipCollapsesToNotFound(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	other := f.user(t, "other")
	sub := f.submit(t, owner.ID, "target", targetBundle("owner@example.com"))

	notes := "mine now"
	if _, err := f.ledger.UpdateSubscription(f.ctx, sub.ID, other.ID, SubscriptionUpdate{Notes: &notes}); !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Errorf("foreign update error = %v", err)
	}
	if _, err := f.ledger.ToggleAddedToBot(f.ctx, sub.ID, other.ID, nil); !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Errorf("foreign toggle error = %v", err)
	}
	if err := f.ledger.DeleteSubscription(f.ctx, sub.ID, other.ID); !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Errorf("foreign delete error = %v", err)
	}
	if err := f.ledger.DeleteSubscription(f.ctx, sub.ID+100, owner.ID); !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Errorf("missing delete error = %v", err)
	}

	got, err := f.creds.GetCredentials(f.ctx, sub.ID)
	if err != nil || got == nil {
		t.Fatalf("owner credentials after foreign attempts: %v, %v", got, err)
	}
}

func TestUpdateSubscription(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "update")
	sub := f.submit(t, u.ID, "target", targetBundle("old@example.com"))

	notes := "  second card  "
	status := model.SubscriptionStatusInactive
	updated, err := f.ledger.UpdateSubscription(f.ctx, sub.ID, u.ID, SubscriptionUpdate{
		Notes:  &notes,
		Status: &status,
		Fields: targetBundle("new@example.com"),
	})
	if err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}
	if updated.Notes != "second card" || updated.Status != model.SubscriptionStatusInactive {
		t.Errorf("updated = %+v", updated)
	}

	got, err := f.creds.GetCredentials(f.ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if got.Bundle["email"] != "new@example.com" {
		t.Errorf("bundle email = %q", got.Bundle["email"])
	}

	bad := "archived"
	if _, err := f.ledger.UpdateSubscription(f.ctx, sub.ID, u.ID, SubscriptionUpdate{Status: &bad}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status error = %v", err)
	}
}

func TestToggleAddedToBot(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "toggle")
	sub := f.submit(t, u.ID, "target", targetBundle("t@example.com"))

	got, err := f.ledger.ToggleAddedToBot(f.ctx, sub.ID, u.ID, nil)
	if err != nil || !got.AddedToBot {
		t.Fatalf("flip on: %+v, %v", got, err)
	}
	on := true
	if got, err = f.ledger.ToggleAddedToBot(f.ctx, sub.ID, u.ID, &on); err != nil || !got.AddedToBot {
		t.Fatalf("set on: %+v, %v", got, err)
	}
	if _, err := f.ledger.ToggleAddedToBot(f.ctx, sub.ID, u.ID, nil); err != nil {
		t.Fatalf("flip off: %v", err)
	}

	stored, err := f.subRepo.Get(f.ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AddedToBot {
		t.Error("added_to_bot still set after toggling off")
	}
}

func TestDeleteSubscription(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "delete")
	sub := f.submit(t, u.ID, "target", targetBundle("d@example.com"))

	if err := f.ledger.DeleteSubscription(f.ctx, sub.ID, u.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}

	got, err := f.creds.GetCredentials(f.ctx, sub.ID)
	if err != nil || got != nil {
		t.Fatalf("credentials after delete = %v, %v", got, err)
	}

	// freed slot can be reused
	f.submit(t, u.ID, "target", targetBundle("d2@example.com"))
	f.submit(t, u.ID, "target", targetBundle("d3@example.com"))
}

func TestDeleteUserCascades(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "cascade")
	f.submit(t, u.ID, "target", targetBundle("c1@example.com"))
	f.submit(t, u.ID, "bestbuy", credential.FieldBundle{"account_email": "c2@example.com", "password": "pw"})

	if err := f.users.DeleteUser(f.ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	subs, err := f.ledger.ListByUser(f.ctx, u.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("got %d subscriptions after user delete", len(subs))
	}

	var records, logs int64
	f.db.Model(&model.CredentialRecord{}).Count(&records)
	f.db.Model(&model.SubmissionLog{}).Count(&logs)
	if records != 0 || logs != 0 {
		t.Errorf("credential records = %d, submission logs = %d after user delete", records, logs)
	}

	if err := f.users.DeleteUser(f.ctx, u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("second DeleteUser error = %v", err)
	}
}

func TestBundleRoundTripAndMaskedView(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bundle")
	sub := f.submit(t, u.ID, "target", credential.FieldBundle{
		"email":         "x@y.com",
		"card_number":   "4111111111111111",
		"cvv":           "999",
		"imap_password": "imap-secret",
	})

	got, err := f.creds.GetCredentials(f.ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if got.Kind != credential.KindBundle || got.Username != "x@y.com" {
		t.Errorf("decrypted = %+v", got)
	}
	if got.Bundle["card_number"] != "4111111111111111" {
		t.Errorf("card_number = %q", got.Bundle["card_number"])
	}

	views, err := f.ledger.ListByServiceMasked(f.ctx, "TARGET")
	if err != nil {
		t.Fatalf("ListByServiceMasked: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d views", len(views))
	}
	masked := views[0].Credentials.Bundle["card_number"]
	if masked != "****1111" {
		t.Errorf("masked card = %q", masked)
	}
	if masked[len(masked)-4:] != got.Bundle["card_number"][len(got.Bundle["card_number"])-4:] {
		t.Error("masked and decrypted last four differ")
	}
	if views[0].Credentials.Bundle["cvv"] == "999" {
		t.Error("cvv visible in admin view")
	}

	stored, err := f.users.GetUser(f.ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if last4 := stored.PaymentSnapshot.Data().CardLast4; last4 != "1111" {
		t.Errorf("payment snapshot last4 = %q", last4)
	}
}

func TestBareCredentials(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bare")
	id, err := f.ledger.CreateSubscription(f.ctx, u.ID, "bestbuy", "", "")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	err = f.creds.SaveCredentials(f.ctx, id, credential.BareSecret{Username: "login@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}

	got, err := f.creds.GetCredentials(f.ctx, id)
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if got.Kind != credential.KindBare || got.Password != "hunter2" || got.IMAP != "" {
		t.Errorf("decrypted = %+v", got)
	}

	if err := f.creds.SaveCredentials(f.ctx, id+100, credential.BareSecret{Password: "x"}); !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Errorf("save to missing subscription error = %v", err)
	}
}

func TestSaveBundledCredentials(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bundled")
	id, err := f.ledger.CreateSubscription(f.ctx, u.ID, "target", "", "")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	bundle := credential.FieldBundle{"email": "Bundle@Example.com", "card_number": "5555444433331111"}
	if err := f.creds.SaveBundledCredentials(f.ctx, id, bundle, "Bundle@Example.com", "imap-pw"); err != nil {
		t.Fatalf("SaveBundledCredentials: %v", err)
	}

	got, err := f.creds.GetCredentials(f.ctx, id)
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if got == nil || got.Corrupted {
		t.Fatalf("decrypted = %+v", got)
	}
	if got.Kind != credential.KindBundle || got.Username != "Bundle@Example.com" || got.IMAP != "imap-pw" {
		t.Errorf("decrypted = %+v", got)
	}
	if got.Bundle["card_number"] != "5555444433331111" {
		t.Errorf("card_number = %q", got.Bundle["card_number"])
	}

	var record model.CredentialRecord
	f.db.Where("subscription_id = ?", id).First(&record)
	if record.EmailDigest == nil || *record.EmailDigest != f.env.EmailDigest("bundle@example.com") {
		t.Errorf("email digest = %v", record.EmailDigest)
	}

	if err := f.creds.SaveBundledCredentials(f.ctx, id+100, bundle, "x@example.com", ""); !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Errorf("save to missing subscription error = %v", err)
	}
}

func TestDeleteBySubscription(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "wipe")
	sub := f.submit(t, u.ID, "target", targetBundle("wipe@example.com"))

	if err := f.creds.DeleteBySubscription(f.ctx, sub.ID); err != nil {
		t.Fatalf("DeleteBySubscription: %v", err)
	}

	got, err := f.creds.GetCredentials(f.ctx, sub.ID)
	if err != nil || got != nil {
		t.Fatalf("credentials after delete = %+v, %v", got, err)
	}

	// the subscription itself stays
	subs, err := f.ledger.ListByUser(f.ctx, u.ID)
	if err != nil || len(subs) != 1 {
		t.Fatalf("ListByUser = %d, %v", len(subs), err)
	}

	if err := f.creds.DeleteBySubscription(f.ctx, sub.ID); err != nil {
		t.Errorf("second DeleteBySubscription: %v", err)
	}
}

func TestListByServiceSpansUsers(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "svc-a")
	b := f.user(t, "svc-b")
	first := f.submit(t, a.ID, "target", targetBundle("a@example.com"))
	f.submit(t, a.ID, "bestbuy", credential.FieldBundle{"account_email": "a-bb@example.com", "password": "pw"})
	second := f.submit(t, b.ID, "target", targetBundle("b@example.com"))

	subs, err := f.ledger.ListByService(f.ctx, "TARGET")
	if err != nil {
		t.Fatalf("ListByService: %v", err)
	}
	if len(subs) != 2 || subs[0].ID != first.ID || subs[1].ID != second.ID {
		t.Fatalf("ListByService = %+v", subs)
	}
	if subs[0].UserID != a.ID || subs[1].UserID != b.ID {
		t.Errorf("owners = %d, %d", subs[0].UserID, subs[1].UserID)
	}

	subs, err = f.ledger.ListByService(f.ctx, "walmart")
	if err != nil || len(subs) != 0 {
		t.Errorf("ListByService(walmart) = %d, %v", len(subs), err)
	}
}

func TestCorruptedRecordIsFlagged(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "corrupt")
	good := f.submit(t, u.ID, "target", targetBundle("good@example.com"))
	bad := f.submit(t, u.ID, "target", targetBundle("bad@example.com"))

	foreign, err := envelope.New("some-other-key", "test-salt")
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	sealed, err := foreign.Encrypt(`{"email":"bad@example.com"}`)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	err = f.db.Model(&model.CredentialRecord{}).
		Where("subscription_id = ?", bad.ID).
		Update("encrypted_password", *sealed).Error
	if err != nil {
		t.Fatalf("overwrite record: %v", err)
	}

	views, err := f.ledger.ListByUserDecrypted(f.ctx, u.ID)
	if err != nil {
		t.Fatalf("ListByUserDecrypted: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d views", len(views))
	}

	for _, v := range views {
		switch v.ID {
		case good.ID:
			if v.Corrupted || v.Credentials.Bundle["email"] != "good@example.com" {
				t.Errorf("good view = %+v", v.Credentials)
			}
		case bad.ID:
			if !v.Corrupted || v.Credentials.Bundle != nil {
				t.Errorf("bad view = %+v", v.Credentials)
			}
		}
	}

	got, err := f.creds.GetCredentials(f.ctx, bad.ID)
	if err != nil {
		t.Fatalf("GetCredentials on corrupted record returned error: %v", err)
	}
	if !got.Corrupted || got.Err == nil {
		t.Errorf("decrypted = %+v", got)
	}
}
