package verify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"frontdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeDirectory struct {
	members []domain.Member
	err     error
	lookups int
}

func (d *fakeDirectory) FindMembersByPhoneKey(_ context.Context, tenantID, key string) ([]domain.Member, error) {
	d.lookups++
	if d.err != nil {
		return nil, d.err
	}
	var out []domain.Member
	for _, m := range d.members {
		if m.TenantID == tenantID && PhoneKey(m.Phone, "49") == key {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetMember(_ context.Context, tenantID, id string) (*domain.Member, error) {
	for _, m := range d.members {
		if m.TenantID == tenantID && m.ID == id {
			return &m, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) UpsertMember(context.Context, domain.Member) error { return nil }

// fakeStore implements the parts of domain.Store the gate uses.
type fakeStore struct {
	domain.Store
	mu        sync.Mutex
	memberIDs map[string]string
	phones    map[string]string
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{memberIDs: map[string]string{}, phones: map[string]string{}}
}

func (s *fakeStore) UpdateSessionMemberID(_ context.Context, tenantID, senderID, memberID string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberIDs[tenantID+"/"+senderID] = memberID
	return nil
}

func (s *fakeStore) UpdateSessionContact(_ context.Context, tenantID, senderID, _, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phones[tenantID+"/"+senderID] = phone
	return nil
}

func (s *fakeStore) GetSetting(_ context.Context, _, _, def string) (string, error) {
	return def, nil
}

type fakeMailer struct {
	fail  bool
	sent  []string
	codes []string
}

func (m *fakeMailer) SendCode(_ context.Context, address, code, _ string) bool {
	if m.fail {
		return false
	}
	m.sent = append(m.sent, address)
	m.codes = append(m.codes, code)
	return true
}

type gateFixture struct {
	gate   *Gate
	tokens *RedisTokenStore
	dir    *fakeDirectory
	store  *fakeStore
	mailer *fakeMailer
}

func newGateFixture(t *testing.T, members ...domain.Member) *gateFixture {
	t.Helper()
	tokens, _ := newTestTokenStore(t)
	f := &gateFixture{
		tokens: tokens,
		dir:    &fakeDirectory{members: members},
		store:  newFakeStore(),
		mailer: &fakeMailer{},
	}
	f.gate = NewGate(GateConfig{
		Tokens:             f.tokens,
		Directory:          f.dir,
		Store:              f.store,
		Mailer:             f.mailer,
		DefaultCountryCode: "49",
		Logger:             testLogger(),
	})
	return f
}

func waMsg(sender, content string) domain.InboundMessage {
	return domain.InboundMessage{
		ID: "m-" + content, Platform: domain.PlatformWhatsApp, SenderID: sender,
		Content: content, Kind: domain.KindText, TenantID: "t1",
	}
}

var anna = domain.Member{ID: "m1", TenantID: "t1", Name: "Anna Berg", Email: "anna@example.com", Phone: "0170 1234567"}

func TestGate_VerifiedSkipsMatching(t *testing.T) {
	f := newGateFixture(t, anna)
	d := f.gate.Check(context.Background(), &domain.Session{MemberID: "m1"}, waMsg("491701234567", "Hallo"))
	if !d.Proceed || d.State != StateVerified {
		t.Fatalf("verified session must proceed: %+v", d)
	}
	if f.dir.lookups != 0 {
		t.Fatal("verified sessions must not hit the CRM")
	}
}

func TestGate_HalloFromSingleMatchIssuesCode(t *testing.T) {
	f := newGateFixture(t, anna)
	ctx := context.Background()

	d := f.gate.Check(ctx, &domain.Session{}, waMsg("491701234567", "Hallo"))
	if d.Proceed || d.State != StateTokenIssued {
		t.Fatalf("expected TOKEN_ISSUED without proceeding, got %+v", d)
	}
	if !strings.Contains(d.Reply, "a***@example.com") {
		t.Fatalf("reply should name the masked address: %q", d.Reply)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0] != "anna@example.com" {
		t.Fatalf("mail not sent: %+v", f.mailer.sent)
	}
	out, _ := f.tokens.Outstanding(ctx, "t1", "491701234567")
	if out == nil || out.Code != f.mailer.codes[0] || out.CandidateMemberID != "m1" {
		t.Fatalf("outstanding token = %+v", out)
	}

	// a follow-up that is not a code only reminds
	d = f.gate.Check(ctx, &domain.Session{}, waMsg("491701234567", "wo ist der code?"))
	if d.State != StateTokenIssued || !strings.Contains(d.Reply, "6-digit code") {
		t.Fatalf("expected reminder, got %+v", d)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatal("reminder must not resend")
	}
}

func TestGate_ExactlyOneMatchRule(t *testing.T) {
	twin := domain.Member{ID: "m2", TenantID: "t1", Name: "Ben", Email: "ben@example.com", Phone: "+49 170 1234567"}

	t.Run("zero", func(t *testing.T) {
		f := newGateFixture(t)
		d := f.gate.Check(context.Background(), &domain.Session{}, waMsg("491701234567", "Hallo"))
		if d.Reply != ReplyNoMatch || d.State != StateUnverified || len(f.mailer.sent) != 0 {
			t.Fatalf("got %+v", d)
		}
	})
	t.Run("two", func(t *testing.T) {
		f := newGateFixture(t, anna, twin)
		d := f.gate.Check(context.Background(), &domain.Session{}, waMsg("491701234567", "Hallo"))
		if d.Reply != ReplyAmbiguous || d.State != StateUnverified || len(f.mailer.sent) != 0 {
			t.Fatalf("got %+v", d)
		}
		if len(f.store.memberIDs) != 0 {
			t.Fatal("member id must never be set on ambiguous match")
		}
	})
	t.Run("no email", func(t *testing.T) {
		f := newGateFixture(t, domain.Member{ID: "m3", TenantID: "t1", Phone: "0170 1234567"})
		d := f.gate.Check(context.Background(), &domain.Session{}, waMsg("491701234567", "Hallo"))
		if d.Reply != ReplyNoEmail {
			t.Fatalf("got %+v", d)
		}
	})
}

func TestGate_TelegramWithoutPhoneAsksForIt(t *testing.T) {
	f := newGateFixture(t, anna)
	ctx := context.Background()
	msg := domain.InboundMessage{Platform: domain.PlatformTelegram, SenderID: "777", Content: "hi", Kind: domain.KindText, TenantID: "t1"}

	d := f.gate.Check(ctx, &domain.Session{}, msg)
	if d.Reply != ReplySharePhone {
		t.Fatalf("got %+v", d)
	}

	msg.Content = "0170 1234567"
	d = f.gate.Check(ctx, &domain.Session{}, msg)
	if d.State != StateTokenIssued {
		t.Fatalf("sharing the phone should issue a code: %+v", d)
	}
	if f.store.phones["t1/777"] != "0170 1234567" {
		t.Fatalf("shared phone not stored: %v", f.store.phones)
	}
}

func TestGate_RedeemCodeVerifies(t *testing.T) {
	f := newGateFixture(t, anna)
	ctx := context.Background()
	sender := "491701234567"

	f.gate.Check(ctx, &domain.Session{}, waMsg(sender, "Hallo"))
	code := f.mailer.codes[0]

	d := f.gate.Check(ctx, &domain.Session{}, waMsg(sender, code))
	if d.State != StateVerified || d.MemberID != "m1" || d.Proceed {
		t.Fatalf("expected VERIFIED confirmation, got %+v", d)
	}
	if !strings.Contains(d.Reply, "Anna") {
		t.Fatalf("reply should greet by first name: %q", d.Reply)
	}
	if f.store.memberIDs["t1/"+sender] != "m1" {
		t.Fatal("session member id not updated")
	}
	if tok, _ := f.tokens.Lookup(ctx, "t1", code); tok != nil {
		t.Fatal("token must be consumed")
	}
	if out, _ := f.tokens.Outstanding(ctx, "t1", sender); out != nil {
		t.Fatal("reverse index must be removed")
	}

	// second use of the same code fails
	d = f.gate.Check(ctx, &domain.Session{}, waMsg(sender, code))
	if d.Reply != ReplyInvalidCode {
		t.Fatalf("reused code should be invalid, got %+v", d)
	}
}

func TestGate_CodeFromOtherSenderRejected(t *testing.T) {
	f := newGateFixture(t, anna)
	ctx := context.Background()

	f.gate.Check(ctx, &domain.Session{}, waMsg("491701234567", "Hallo"))
	code := f.mailer.codes[0]

	d := f.gate.Check(ctx, &domain.Session{}, waMsg("491709999999", code))
	if d.Reply != ReplyForeignCode {
		t.Fatalf("expected foreign code rejection, got %+v", d)
	}
	if tok, _ := f.tokens.Lookup(ctx, "t1", code); tok == nil {
		t.Fatal("token must remain valid")
	}
	if len(f.store.memberIDs) != 0 {
		t.Fatal("no session may be linked")
	}
}

func TestGate_UnresolvableMemberKeepsToken(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	tok, err := f.tokens.Issue(ctx, Token{TenantID: "t1", SenderID: "s1", PhoneNumber: "0170 1234567"})
	if err != nil {
		t.Fatal(err)
	}
	msg := waMsg("s1", tok.Code)
	d := f.gate.Check(ctx, &domain.Session{}, msg)
	if d.State != StateTokenIssued || d.Reply != ReplyIncomplete || d.Proceed {
		t.Fatalf("got %+v", d)
	}
	if got, _ := f.tokens.Lookup(ctx, "t1", tok.Code); got == nil {
		t.Fatal("token must not be consumed when no member resolves")
	}
	if got, _ := f.tokens.Outstanding(ctx, "t1", "s1"); got == nil || got.Code != tok.Code {
		t.Fatalf("reverse index must stay live, got %+v", got)
	}
	if len(f.store.memberIDs) != 0 {
		t.Fatal("no session may be linked")
	}

	// once the CRM knows the number the same code works via phone lookup
	f.dir.members = []domain.Member{anna}
	d = f.gate.Check(ctx, &domain.Session{}, msg)
	if d.State != StateVerified || d.MemberID != "m1" {
		t.Fatalf("got %+v", d)
	}
	if got, _ := f.tokens.Lookup(ctx, "t1", tok.Code); got != nil {
		t.Fatal("token must be consumed after verification")
	}
}

func TestGate_SessionWriteFailureRestoresToken(t *testing.T) {
	f := newGateFixture(t, anna)
	ctx := context.Background()

	tok, err := f.tokens.Issue(ctx, Token{TenantID: "t1", SenderID: "s1", CandidateMemberID: "m1", Email: anna.Email})
	if err != nil {
		t.Fatal(err)
	}
	f.store.updateErr = errors.New("db down")
	msg := waMsg("s1", tok.Code)

	d := f.gate.Check(ctx, &domain.Session{}, msg)
	if d.Reply != ReplyUnavailable || d.State == StateVerified {
		t.Fatalf("got %+v", d)
	}
	if got, _ := f.tokens.Lookup(ctx, "t1", tok.Code); got == nil {
		t.Fatal("token must be restored after a failed session write")
	}
	if got, _ := f.tokens.Outstanding(ctx, "t1", "s1"); got == nil {
		t.Fatal("reverse index must be restored")
	}

	f.store.updateErr = nil
	d = f.gate.Check(ctx, &domain.Session{}, msg)
	if d.State != StateVerified || d.MemberID != "m1" {
		t.Fatalf("retry got %+v", d)
	}
}

func TestGate_InfrastructureErrorsBecomeUnavailable(t *testing.T) {
	f := newGateFixture(t, anna)
	f.dir.err = errors.New("crm down")
	d := f.gate.Check(context.Background(), &domain.Session{}, waMsg("491701234567", "Hallo"))
	if d.Reply != ReplyUnavailable {
		t.Fatalf("got %+v", d)
	}
	if strings.Contains(d.Reply, "crm down") {
		t.Fatal("error details leaked to user")
	}
}

func TestGate_MailFailureRevokesToken(t *testing.T) {
	f := newGateFixture(t, anna)
	f.mailer.fail = true
	ctx := context.Background()

	d := f.gate.Check(ctx, &domain.Session{}, waMsg("491701234567", "Hallo"))
	if d.Reply != ReplyUnavailable {
		t.Fatalf("got %+v", d)
	}
	if out, _ := f.tokens.Outstanding(ctx, "t1", "491701234567"); out != nil {
		t.Fatal("unsent token must be revoked")
	}
}
