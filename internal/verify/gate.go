package verify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
)

// State of a sender in the verification flow.
type State string

const (
	StateUnverified  State = "UNVERIFIED"
	StateTokenIssued State = "TOKEN_ISSUED"
	StateVerified    State = "VERIFIED"
)

// User-facing replies.
const (
	ReplySharePhone  = "Welcome! To look up your membership, please send us the phone number you registered with."
	ReplyNoMatch     = "We could not find a membership for this phone number. Please check the number or contact the front desk."
	ReplyAmbiguous   = "This phone number matches more than one membership. Please contact the front desk so we can link the right one."
	ReplyNoEmail     = "We found your membership but have no email address on file to send a code to. Please contact the front desk."
	ReplyCodeSent    = "We sent a 6-digit code to %s. Please reply with it here to link your membership."
	ReplyEnterCode   = "Please reply with the 6-digit code we sent to %s."
	ReplyInvalidCode = "That code is invalid or has expired."
	ReplyForeignCode = "This code belongs to another account."
	ReplyIncomplete  = "We recognized your code but could not finish linking your membership. Please contact the front desk."
	ReplyVerified    = "Thanks%s, you're verified! How can we help you today?"
	ReplyUnavailable = "Verification is temporarily unavailable. Please try again in a few minutes."
)

var codePattern = regexp.MustCompile(`^\s*(\d{6})\s*$`)

// Decision is the gate's verdict for one inbound message.
type Decision struct {
	State    State
	Proceed  bool   // message may continue to the orchestrator
	Reply    string // set when Proceed is false
	MemberID string // set when the message completed verification
	CodeSent bool   // a new code went out with this message
}

// GateConfig wires the gate's collaborators.
type GateConfig struct {
	Tokens             TokenStore
	Directory          domain.MemberDirectory
	Store              domain.Store
	Mailer             domain.Mailer
	DefaultCountryCode string
	Logger             *slog.Logger
}

// Gate decides whether a sender may reach the orchestrator or must first
// link to a CRM member.
type Gate struct {
	tokens    TokenStore
	directory domain.MemberDirectory
	store     domain.Store
	mailer    domain.Mailer
	defaultCC string
	logger    *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		tokens:    cfg.Tokens,
		directory: cfg.Directory,
		store:     cfg.Store,
		mailer:    cfg.Mailer,
		defaultCC: cfg.DefaultCountryCode,
		logger:    logger,
	}
}

// Check runs the state machine for one message. It never returns an error:
// infrastructure failures become ReplyUnavailable.
func (g *Gate) Check(ctx context.Context, sess *domain.Session, msg domain.InboundMessage) Decision {
	if sess.Verified() {
		return Decision{State: StateVerified, Proceed: true}
	}

	outstanding, err := g.tokens.Outstanding(ctx, msg.TenantID, msg.SenderID)
	if err != nil {
		return g.unavailable("outstanding token", msg, err)
	}

	if m := codePattern.FindStringSubmatch(msg.Content); m != nil {
		return g.redeem(ctx, msg, m[1], outstanding)
	}

	if outstanding != nil {
		return Decision{State: StateTokenIssued, Reply: fmt.Sprintf(ReplyEnterCode, MaskEmail(outstanding.Email))}
	}
	return g.match(ctx, sess, msg)
}

func (g *Gate) redeem(ctx context.Context, msg domain.InboundMessage, code string, outstanding *Token) Decision {
	current := StateUnverified
	if outstanding != nil {
		current = StateTokenIssued
	}

	tok, err := g.tokens.Lookup(ctx, msg.TenantID, code)
	if err != nil {
		return g.unavailable("token lookup", msg, err)
	}
	if tok == nil {
		metrics.VerificationTotal.WithLabelValues("invalid_code").Inc()
		return Decision{State: current, Reply: ReplyInvalidCode}
	}
	if tok.SenderID != "" && tok.SenderID != msg.SenderID {
		g.logger.Warn("verification code presented by another sender",
			"tenant", msg.TenantID, "sender", msg.SenderID)
		metrics.VerificationTotal.WithLabelValues("foreign_code").Inc()
		return Decision{State: current, Reply: ReplyForeignCode}
	}

	// an unmappable token stays live so the sender can retry once the CRM
	// catches up
	memberID := tok.CandidateMemberID
	if memberID == "" && tok.PhoneNumber != "" {
		members, err := g.directory.FindMembersByPhoneKey(ctx, msg.TenantID, PhoneKey(tok.PhoneNumber, g.countryCode(ctx, msg.TenantID)))
		if err != nil {
			return g.unavailable("member lookup", msg, err)
		}
		if len(members) == 1 {
			memberID = members[0].ID
		}
	}
	if memberID == "" {
		metrics.VerificationTotal.WithLabelValues("incomplete").Inc()
		return Decision{State: StateTokenIssued, Reply: ReplyIncomplete}
	}

	res, err := g.tokens.Consume(ctx, msg.TenantID, code, msg.SenderID)
	if err != nil {
		return g.unavailable("token consume", msg, err)
	}
	switch res {
	case ConsumeForeign:
		metrics.VerificationTotal.WithLabelValues("foreign_code").Inc()
		return Decision{State: current, Reply: ReplyForeignCode}
	case ConsumeMissing:
		// lost a race with a concurrent consumer, or the token just expired
		metrics.VerificationTotal.WithLabelValues("invalid_code").Inc()
		return Decision{State: current, Reply: ReplyInvalidCode}
	}

	if err := g.store.UpdateSessionMemberID(ctx, msg.TenantID, msg.SenderID, memberID); err != nil {
		if rerr := g.tokens.Restore(ctx, *tok); rerr != nil {
			g.logger.Error("restore verification token failed", "tenant", msg.TenantID, "sender", msg.SenderID, "err", rerr)
		}
		return g.unavailable("session update", msg, err)
	}

	name := ""
	if m, err := g.directory.GetMember(ctx, msg.TenantID, memberID); err == nil && m != nil && m.Name != "" {
		name = " " + firstName(m.Name)
	}
	g.logger.Info("sender verified", "tenant", msg.TenantID, "sender", msg.SenderID, "member", memberID)
	metrics.VerificationTotal.WithLabelValues("verified").Inc()
	return Decision{State: StateVerified, MemberID: memberID, Reply: fmt.Sprintf(ReplyVerified, name)}
}

func (g *Gate) match(ctx context.Context, sess *domain.Session, msg domain.InboundMessage) Decision {
	phone, shared := phoneCandidate(sess, msg)
	if phone == "" {
		return Decision{State: StateUnverified, Reply: ReplySharePhone}
	}
	if shared {
		if err := g.store.UpdateSessionContact(ctx, msg.TenantID, msg.SenderID, msg.Meta(domain.MetaDisplayName), phone); err != nil {
			g.logger.Warn("store shared phone failed", "tenant", msg.TenantID, "sender", msg.SenderID, "err", err)
		}
	}

	key := PhoneKey(phone, g.countryCode(ctx, msg.TenantID))
	if key == "" {
		return Decision{State: StateUnverified, Reply: ReplySharePhone}
	}

	members, err := g.directory.FindMembersByPhoneKey(ctx, msg.TenantID, key)
	if err != nil {
		return g.unavailable("phone match", msg, err)
	}
	switch {
	case len(members) == 0:
		metrics.VerificationTotal.WithLabelValues("no_match").Inc()
		return Decision{State: StateUnverified, Reply: ReplyNoMatch}
	case len(members) > 1:
		metrics.VerificationTotal.WithLabelValues("ambiguous").Inc()
		return Decision{State: StateUnverified, Reply: ReplyAmbiguous}
	}

	member := members[0]
	if strings.TrimSpace(member.Email) == "" {
		metrics.VerificationTotal.WithLabelValues("no_email").Inc()
		return Decision{State: StateUnverified, Reply: ReplyNoEmail}
	}

	tok, err := g.tokens.Issue(ctx, Token{
		TenantID:          msg.TenantID,
		CandidateMemberID: member.ID,
		SenderID:          msg.SenderID,
		PhoneNumber:       phone,
		Email:             member.Email,
	})
	if err != nil {
		return g.unavailable("token issue", msg, err)
	}

	displayName := member.Name
	if displayName == "" {
		displayName = sess.DisplayName
	}
	if !g.mailer.SendCode(ctx, member.Email, tok.Code, displayName) {
		if err := g.tokens.Revoke(ctx, msg.TenantID, tok.Code); err != nil {
			g.logger.Warn("revoke unsent token failed", "tenant", msg.TenantID, "err", err)
		}
		return g.unavailable("send code", msg, fmt.Errorf("mailer rejected message"))
	}

	g.logger.Info("verification code issued", "tenant", msg.TenantID, "sender", msg.SenderID, "member", member.ID)
	metrics.VerificationTotal.WithLabelValues("code_sent").Inc()
	return Decision{State: StateTokenIssued, CodeSent: true, Reply: fmt.Sprintf(ReplyCodeSent, MaskEmail(member.Email))}
}

// phoneCandidate picks the number to match on. shared is true when the
// sender typed or shared it in this message.
func phoneCandidate(sess *domain.Session, msg domain.InboundMessage) (phone string, shared bool) {
	if p := msg.Meta(domain.MetaPhone); p != "" && msg.Kind == domain.KindContact {
		return p, true
	}
	if msg.Kind == domain.KindText && LooksLikePhone(msg.Content) {
		return strings.TrimSpace(msg.Content), true
	}
	if sess.Phone != "" {
		return sess.Phone, false
	}
	switch msg.Platform {
	case domain.PlatformWhatsApp, domain.PlatformSMS, domain.PlatformVoice:
		return msg.SenderID, false
	}
	return "", false
}

func (g *Gate) countryCode(ctx context.Context, tenantID string) string {
	cc, err := g.store.GetSetting(ctx, domain.SettingCountryCode, tenantID, g.defaultCC)
	if err != nil {
		g.logger.Warn("country code lookup failed", "tenant", tenantID, "err", err)
		return g.defaultCC
	}
	return cc
}

func (g *Gate) unavailable(op string, msg domain.InboundMessage, err error) Decision {
	g.logger.Error("verification step failed", "op", op, "tenant", msg.TenantID, "sender", msg.SenderID, "err", err)
	metrics.VerificationTotal.WithLabelValues("unavailable").Inc()
	return Decision{State: StateUnverified, Reply: ReplyUnavailable}
}

func firstName(name string) string {
	if i := strings.IndexByte(strings.TrimSpace(name), ' '); i > 0 {
		return strings.TrimSpace(name)[:i]
	}
	return strings.TrimSpace(name)
}
