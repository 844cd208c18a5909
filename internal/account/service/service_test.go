package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"referral-system/internal/account/domain"
	"referral-system/internal/account/repository"
	"referral-system/internal/codegen"
	"referral-system/internal/telemetry"
)

// fakeCodes returns queued codes in order and repeats the last one when the queue runs out.
type fakeCodes struct {
	mu           sync.Mutex
	verification []string
	invite       []string
	vi, ii       int
}

func (f *fakeCodes) VerificationCode() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.verification[min(f.vi, len(f.verification)-1)]
	f.vi++
	return c, nil
}

func (f *fakeCodes) InviteCode() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.invite[min(f.ii, len(f.invite)-1)]
	f.ii++
	return c, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[string]string
}

func (r *recordingSender) Send(ctx context.Context, phone, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string]string)
	}
	r.sent[phone] = code
	return nil
}

func (r *recordingSender) last(phone string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[phone]
}

type chanEmitter chan *telemetry.Event

func (c chanEmitter) Emit(ctx context.Context, ev *telemetry.Event) error {
	c <- ev
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *AccountService
	repo   *repository.MemoryRepository
	codes  *fakeCodes
	sender *recordingSender
	clock  *clock
}

func newFixture(t *testing.T, codes *fakeCodes) *fixture {
	t.Helper()
	if codes == nil {
		codes = &fakeCodes{verification: []string{"1234"}, invite: []string{"INV001"}}
	}
	f := &fixture{
		repo:   repository.NewMemoryRepository(),
		codes:  codes,
		sender: &recordingSender{},
		clock:  &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = NewAccountService(Config{
		Repo:   f.repo,
		Codes:  f.codes,
		Sender: f.sender,
		Now:    f.clock.Now,
	})
	return f
}

// seedVerified stores a verified account owning inviteCode.
func (f *fixture) seedVerified(t *testing.T, phone, inviteCode string) {
	t.Helper()
	a := &domain.Account{PhoneNumber: phone, Verified: true, InviteCode: inviteCode}
	if err := f.repo.Create(context.Background(), a); err != nil {
		t.Fatalf("seed %s: %v", phone, err)
	}
}

func TestRequestVerification_CreateThenVerify(t *testing.T) {
	f := newFixture(t, &fakeCodes{verification: []string{"4821"}, invite: []string{"Xy7Q2a"}})
	ctx := context.Background()

	res, err := f.svc.RequestVerification(ctx, "15551234567")
	if err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCreated)
	}
	if !codegen.IsVerificationCode(res.Code) {
		t.Errorf("code = %q, want 4 digits", res.Code)
	}
	if got := f.sender.last("15551234567"); got != res.Code {
		t.Errorf("sent code = %q, want %q", got, res.Code)
	}

	v, err := f.svc.SubmitVerificationCode(ctx, "15551234567", res.Code)
	if err != nil {
		t.Fatalf("SubmitVerificationCode: %v", err)
	}
	if !codegen.IsInviteCode(v.InviteCode) {
		t.Errorf("invite code = %q, want 6 alphanumerics", v.InviteCode)
	}
	stored, _ := f.repo.GetByPhone(ctx, "15551234567")
	if !stored.Verified || stored.HasPendingCode() || stored.VerificationCodeIssuedAt != nil {
		t.Errorf("stored = %+v, want verified with code cleared", stored)
	}
	if stored.InviteCode != v.InviteCode {
		t.Errorf("stored invite = %q, want %q", stored.InviteCode, v.InviteCode)
	}
}

func TestRequestVerification_Resend(t *testing.T) {
	f := newFixture(t, &fakeCodes{verification: []string{"1111", "2222"}, invite: []string{"INV001"}})
	ctx := context.Background()

	if _, err := f.svc.RequestVerification(ctx, "15551234567"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	f.clock.Advance(time.Minute)
	res, err := f.svc.RequestVerification(ctx, "15551234567")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if res.Outcome != OutcomeResent || res.Code != "2222" {
		t.Errorf("result = %q/%q, want resent/2222", res.Outcome, res.Code)
	}
	stored, _ := f.repo.GetByPhone(ctx, "15551234567")
	if !stored.VerificationCodeIssuedAt.Equal(f.clock.Now()) {
		t.Errorf("issued_at = %v, want restamped %v", stored.VerificationCodeIssuedAt, f.clock.Now())
	}
	if _, err := f.svc.SubmitVerificationCode(ctx, "15551234567", "1111"); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("old code err = %v, want ErrCodeMismatch", err)
	}
	if _, err := f.svc.SubmitVerificationCode(ctx, "15551234567", "2222"); err != nil {
		t.Errorf("new code: %v", err)
	}
}

func TestRequestVerification_AlreadyVerified(t *testing.T) {
	f := newFixture(t, nil)
	f.seedVerified(t, "15551234567", "ABC123")
	before, _ := f.repo.GetByPhone(context.Background(), "15551234567")

	res, err := f.svc.RequestVerification(context.Background(), "15551234567")
	if err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	if res.Outcome != OutcomeAlreadyVerified || res.Code != "" {
		t.Errorf("result = %q/%q, want already_verified with no code", res.Outcome, res.Code)
	}
	after, _ := f.repo.GetByPhone(context.Background(), "15551234567")
	if after.HasPendingCode() || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("verified account must not be mutated")
	}
	if f.sender.last("15551234567") != "" {
		t.Error("no code should be sent to a verified account")
	}
}

func TestRequestVerification_InvalidPhone(t *testing.T) {
	f := newFixture(t, nil)
	for _, phone := range []string{"", "123", "1555123456789012", "1555abc4567", "+15551234567"} {
		_, err := f.svc.RequestVerification(context.Background(), phone)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("phone %q: err = %v, want ErrValidation", phone, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "phone_number" {
			t.Errorf("phone %q: want ValidationError on phone_number, got %v", phone, err)
		}
	}
}

func TestRequestVerification_TrimsPhone(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.RequestVerification(context.Background(), "  15551234567 ")
	if err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	if res.Account.PhoneNumber != "15551234567" {
		t.Errorf("phone = %q", res.Account.PhoneNumber)
	}
}

func TestRequestVerification_DelayCanceled(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.delay = func(ctx context.Context) error { return context.Canceled }

	_, err := f.svc.RequestVerification(context.Background(), "15551234567")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if f.sender.last("15551234567") != "" {
		t.Error("code must not be sent after the delay is canceled")
	}
	stored, _ := f.repo.GetByPhone(context.Background(), "15551234567")
	if stored == nil || !stored.HasPendingCode() {
		t.Error("account should still hold the issued code")
	}
}

func TestRequestVerification_ConcurrentFirstSubmissions(t *testing.T) {
	f := newFixture(t, nil)
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	outcomes := make(chan Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.RequestVerification(context.Background(), "15551234567")
			if err != nil {
				errs <- err
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(errs)
	close(outcomes)
	for err := range errs {
		t.Errorf("RequestVerification: %v", err)
	}
	created := 0
	for o := range outcomes {
		if o == OutcomeCreated {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created outcomes = %d, want 1", created)
	}
}

func TestSubmitVerificationCode_AccountNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SubmitVerificationCode(context.Background(), "15550000000", "1234")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestSubmitVerificationCode_InvalidFormat(t *testing.T) {
	f := newFixture(t, nil)
	for _, code := range []string{"", "123", "12345", "12a4"} {
		_, err := f.svc.SubmitVerificationCode(context.Background(), "15551234567", code)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("code %q: err = %v, want ErrValidation", code, err)
		}
	}
}

func TestSubmitVerificationCode_Mismatch(t *testing.T) {
	f := newFixture(t, &fakeCodes{verification: []string{"1234"}, invite: []string{"INV001"}})
	ctx := context.Background()
	if _, err := f.svc.RequestVerification(ctx, "15551234567"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.SubmitVerificationCode(ctx, "15551234567", "0000"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("err = %v, want ErrCodeMismatch", err)
	}
	stored, _ := f.repo.GetByPhone(ctx, "15551234567")
	if stored.Verified || stored.VerificationCode != "1234" {
		t.Errorf("mismatch must not change the account: %+v", stored)
	}
}

func TestSubmitVerificationCode_SecondSubmissionMismatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.RequestVerification(ctx, "15551234567")
	first, err := f.svc.SubmitVerificationCode(ctx, "15551234567", res.Code)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.SubmitVerificationCode(ctx, "15551234567", res.Code); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("second submission err = %v, want ErrCodeMismatch", err)
	}
	stored, _ := f.repo.GetByPhone(ctx, "15551234567")
	if stored.InviteCode != first.InviteCode {
		t.Errorf("invite code changed: %q -> %q", first.InviteCode, stored.InviteCode)
	}
}

func TestSubmitVerificationCode_Expired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.RequestVerification(ctx, "15551234567")

	f.clock.Advance(DefaultCodeTTL + time.Second)
	if _, err := f.svc.SubmitVerificationCode(ctx, "15551234567", res.Code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("err = %v, want ErrCodeExpired", err)
	}
	stored, _ := f.repo.GetByPhone(ctx, "15551234567")
	if stored.HasPendingCode() || stored.Verified {
		t.Errorf("expired code should be cleared and account stay pending: %+v", stored)
	}
	if _, err := f.svc.SubmitVerificationCode(ctx, "15551234567", res.Code); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("after expiry err = %v, want ErrCodeMismatch", err)
	}
}

func TestSubmitVerificationCode_AtTTLBoundary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.RequestVerification(ctx, "15551234567")

	f.clock.Advance(DefaultCodeTTL)
	if _, err := f.svc.SubmitVerificationCode(ctx, "15551234567", res.Code); err != nil {
		t.Errorf("code exactly at TTL should still verify: %v", err)
	}
}

func TestSubmitVerificationCode_InviteCollisionRetried(t *testing.T) {
	f := newFixture(t, &fakeCodes{verification: []string{"1234"}, invite: []string{"ABC123", "ZZZ999"}})
	ctx := context.Background()
	f.seedVerified(t, "15550000001", "ABC123")
	f.svc.RequestVerification(ctx, "15551234567")

	v, err := f.svc.SubmitVerificationCode(ctx, "15551234567", "1234")
	if err != nil {
		t.Fatalf("SubmitVerificationCode: %v", err)
	}
	if v.InviteCode != "ZZZ999" {
		t.Errorf("invite = %q, want ZZZ999", v.InviteCode)
	}
}

func TestSubmitVerificationCode_GenerationExhausted(t *testing.T) {
	f := newFixture(t, &fakeCodes{verification: []string{"1234"}, invite: []string{"ABC123"}})
	f.svc.maxAttempts = 3
	ctx := context.Background()
	f.seedVerified(t, "15550000001", "ABC123")
	f.svc.RequestVerification(ctx, "15551234567")

	_, err := f.svc.SubmitVerificationCode(ctx, "15551234567", "1234")
	if !errors.Is(err, ErrGenerationExhausted) {
		t.Fatalf("err = %v, want ErrGenerationExhausted", err)
	}
	if f.codes.ii != 3 {
		t.Errorf("invite attempts = %d, want 3", f.codes.ii)
	}
	stored, _ := f.repo.GetByPhone(ctx, "15551234567")
	if stored.Verified || stored.VerificationCode != "1234" {
		t.Errorf("exhaustion must leave the account pending: %+v", stored)
	}
}

func TestRedeemInviteCode_Scenarios(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedVerified(t, "15550000001", "ABC123") // A
	f.seedVerified(t, "15550000002", "DEF456") // B

	got, err := f.svc.RedeemInviteCode(ctx, "15550000002", "ABC123")
	if err != nil || got != "ABC123" {
		t.Fatalf("redeem = %q, %v; want ABC123", got, err)
	}
	refs, err := f.svc.ListReferrals(ctx, "15550000001")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "15550000002" {
		t.Errorf("referrals = %v, want [15550000002]", refs)
	}

	if _, err := f.svc.RedeemInviteCode(ctx, "15550000002", "ABC123"); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Errorf("second redeem err = %v, want ErrAlreadyRedeemed", err)
	}
	if _, err := f.svc.RedeemInviteCode(ctx, "15550000001", "ABC123"); !errors.Is(err, ErrSelfRedemption) {
		t.Errorf("self redeem err = %v, want ErrSelfRedemption", err)
	}
}

func TestRedeemInviteCode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		phone   string
		code    string
		wantErr error
	}{
		{
			name:    "unknown code",
			setup:   func(f *fixture) {},
			phone:   "15550000002",
			code:    "NOPE00",
			wantErr: ErrInvalidInviteCode,
		},
		{
			name:    "malformed code",
			setup:   func(f *fixture) {},
			phone:   "15550000002",
			code:    "ab",
			wantErr: ErrInvalidInviteCode,
		},
		{
			name:    "empty code",
			setup:   func(f *fixture) {},
			phone:   "15550000002",
			code:    "  ",
			wantErr: ErrValidation,
		},
		{
			name:    "acting account missing",
			setup:   func(f *fixture) {},
			phone:   "15559999999",
			code:    "ABC123",
			wantErr: ErrAccountNotFound,
		},
		{
			name: "acting account not verified",
			setup: func(f *fixture) {
				f.svc.RequestVerification(context.Background(), "15550000003")
			},
			phone:   "15550000003",
			code:    "ABC123",
			wantErr: ErrAccountNotVerified,
		},
		{
			name: "already redeemed wins over unknown code",
			setup: func(f *fixture) {
				f.svc.RedeemInviteCode(context.Background(), "15550000002", "ABC123")
			},
			phone:   "15550000002",
			code:    "NOPE00",
			wantErr: ErrAlreadyRedeemed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.seedVerified(t, "15550000001", "ABC123")
			f.seedVerified(t, "15550000002", "DEF456")
			tt.setup(f)

			_, err := f.svc.RedeemInviteCode(context.Background(), tt.phone, tt.code)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedeemInviteCode_ConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedVerified(t, "15550000001", "ABC123")
	f.seedVerified(t, "15550000002", "DEF456")
	f.seedVerified(t, "15550000003", "GHI789")

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, already := 0, 0
	for i := 0; i < n; i++ {
		code := "ABC123"
		if i%2 == 1 {
			code = "GHI789"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RedeemInviteCode(ctx, "15550000002", code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyRedeemed):
				already++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || already != n-1 {
		t.Errorf("successes = %d, already = %d; want 1 and %d", successes, already, n-1)
	}
}

func TestListReferrals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedVerified(t, "15550000001", "ABC123")
	for _, p := range []string{"15550000009", "15550000003", "15550000005"} {
		f.seedVerified(t, p, "")
		if _, err := f.svc.RedeemInviteCode(ctx, p, "ABC123"); err != nil {
			t.Fatalf("redeem %s: %v", p, err)
		}
	}

	refs, err := f.svc.ListReferrals(ctx, "15550000001")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"15550000003", "15550000005", "15550000009"}
	if len(refs) != len(want) {
		t.Fatalf("referrals = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("referrals[%d] = %q, want %q", i, refs[i], want[i])
		}
	}
}

func TestListReferrals_NoInviteCode(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.RequestVerification(context.Background(), "15551234567")

	refs, err := f.svc.ListReferrals(context.Background(), "15551234567")
	if err != nil {
		t.Fatal(err)
	}
	if refs == nil || len(refs) != 0 {
		t.Errorf("referrals = %#v, want empty non-nil slice", refs)
	}
	if _, err := f.svc.ListReferrals(context.Background(), "15559999999"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("missing account err = %v, want ErrAccountNotFound", err)
	}
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedVerified(t, "15550000001", "ABC123")
	f.seedVerified(t, "15550000002", "DEF456")
	f.svc.RedeemInviteCode(ctx, "15550000002", "ABC123")

	p, err := f.svc.GetProfile(ctx, "15550000002")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Verified || p.InviteCode != "DEF456" || p.RedeemedInviteCode != "ABC123" {
		t.Errorf("profile = %+v", p)
	}
	if len(p.Referrals) != 0 {
		t.Errorf("referrals = %v, want none", p.Referrals)
	}
	if _, err := f.svc.GetProfile(ctx, "15559999999"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestEventsEmitted(t *testing.T) {
	events := make(chanEmitter, 8)
	f := newFixture(t, &fakeCodes{verification: []string{"1234"}, invite: []string{"INV001"}})
	f.svc.events = events
	ctx := context.Background()

	f.svc.RequestVerification(ctx, "15551234567")
	f.svc.SubmitVerificationCode(ctx, "15551234567", "1234")

	want := []telemetry.EventType{telemetry.EventAccountCreated, telemetry.EventAccountVerified}
	got := map[telemetry.EventType]*telemetry.Event{}
	for range want {
		select {
		case ev := <-events:
			got[ev.Type] = ev
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	for _, typ := range want {
		if got[typ] == nil {
			t.Errorf("missing event %q", typ)
		}
	}
	if v := got[telemetry.EventAccountVerified]; v != nil && v.InviteCode != "INV001" {
		t.Errorf("verified event invite = %q, want INV001", v.InviteCode)
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{invalid("phone_number", "bad"), "invalid"},
		{ErrCodeExpired, "expired"},
		{ErrAlreadyRedeemed, "already_redeemed"},
		{ErrGenerationExhausted, "exhausted"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := resultLabel(tt.err); got != tt.want {
			t.Errorf("resultLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
