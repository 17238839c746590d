package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/josh-kwaku/supportdesk-payments/internal/config"
	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

// TTLs are the per-rail deadlines applied at creation.
type TTLs struct {
	MobileMoney          time.Duration
	BankTransferDays     int
	PaymentReferenceDays int
	CardChallengeGrace   time.Duration
}

// rail is the per-method strategy the router dispatches to.
type rail interface {
	validate(req CreateRequest) error
	details(req CreateRequest) domain.MethodDetails
	// settledStatus is the status a freshly created record advances to.
	settledStatus() domain.PaymentStatus
	expiresAt(now time.Time) time.Time
	instructions(in *Instructions)
}

func buildRails(rails config.Rails, ttl TTLs) map[domain.Method]rail {
	return map[domain.Method]rail{
		domain.MethodCard:             cardRail{grace: ttl.CardChallengeGrace},
		domain.MethodMobileMoney:      mobileMoneyRail{cfg: rails.MobileMoney, ttl: ttl.MobileMoney},
		domain.MethodBankTransfer:     bankTransferRail{cfg: rails.BankTransfer, days: ttl.BankTransferDays},
		domain.MethodPaymentReference: paymentReferenceRail{cfg: rails.PaymentReference, days: ttl.PaymentReferenceDays},
	}
}

func missing(field string) error {
	return fmt.Errorf("%s: %w", field, domain.ErrMissingRequiredField)
}

type cardRail struct {
	grace time.Duration
}

func (cardRail) validate(req CreateRequest) error {
	if strings.TrimSpace(req.PaymentMethodToken) == "" {
		return missing("payment_method_token")
	}
	return nil
}

func (cardRail) details(req CreateRequest) domain.MethodDetails {
	return &domain.CardDetails{
		PaymentMethodToken: req.PaymentMethodToken,
		State:              domain.CardStateCreated,
	}
}

func (cardRail) settledStatus() domain.PaymentStatus { return domain.PaymentStatusCreated }

func (r cardRail) expiresAt(now time.Time) time.Time { return now.Add(r.grace) }

func (r cardRail) instructions(in *Instructions) {
	in.TTL = r.grace.String()
	in.Steps = []string{
		"Confirm the payment with your card.",
		"Complete the 3-D Secure challenge from your bank if prompted.",
	}
}

type mobileMoneyRail struct {
	cfg config.MobileMoneyRail
	ttl time.Duration
}

func (mobileMoneyRail) validate(req CreateRequest) error {
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return missing("phone_number")
	}
	return nil
}

func (r mobileMoneyRail) details(req CreateRequest) domain.MethodDetails {
	return &domain.MobileMoneyDetails{
		PhoneNumber: req.PhoneNumber,
		Entity:      r.cfg.Entity,
	}
}

func (mobileMoneyRail) settledStatus() domain.PaymentStatus { return domain.PaymentStatusPending }

func (r mobileMoneyRail) expiresAt(now time.Time) time.Time { return now.Add(r.ttl) }

func (r mobileMoneyRail) instructions(in *Instructions) {
	in.Provider = r.cfg.Provider
	in.Entity = r.cfg.Entity
	in.TTL = r.ttl.String()
	in.Steps = []string{
		fmt.Sprintf("Open %s on your phone and choose Payments.", r.cfg.Provider),
		fmt.Sprintf("Enter entity %s and the reference shown.", r.cfg.Entity),
		fmt.Sprintf("Pay exactly %s.", in.DisplayAmount),
		"Submit the transaction id you receive to confirm the payment.",
	}
}

type bankTransferRail struct {
	cfg  config.BankTransferRail
	days int
}

func (bankTransferRail) validate(req CreateRequest) error {
	if strings.TrimSpace(req.ProofHandle) == "" {
		return domain.ErrMissingProofForBankTransfer
	}
	return nil
}

func (r bankTransferRail) details(req CreateRequest) domain.MethodDetails {
	return &domain.BankTransferDetails{
		BankName:      r.cfg.BankName,
		IBAN:          r.cfg.IBAN,
		AccountHolder: r.cfg.AccountHolder,
		ProofHandle:   req.ProofHandle,
	}
}

// Bank transfers arrive with proof already attached, so they wait for review.
func (bankTransferRail) settledStatus() domain.PaymentStatus { return domain.PaymentStatusProcessing }

func (r bankTransferRail) expiresAt(now time.Time) time.Time { return AddBusinessDays(now, r.days) }

func (r bankTransferRail) instructions(in *Instructions) {
	in.BankName = r.cfg.BankName
	in.IBAN = r.cfg.IBAN
	in.AccountHolder = r.cfg.AccountHolder
	in.TTL = fmt.Sprintf("%d business days", r.days)
	in.Steps = []string{
		fmt.Sprintf("Transfer %s to %s, IBAN %s.", in.DisplayAmount, r.cfg.AccountHolder, r.cfg.IBAN),
		"Use the reference shown as the transfer description.",
		"Upload the bank receipt as proof of payment.",
	}
}

type paymentReferenceRail struct {
	cfg  config.PaymentReferenceRail
	days int
}

func (paymentReferenceRail) validate(CreateRequest) error { return nil }

func (r paymentReferenceRail) details(CreateRequest) domain.MethodDetails {
	return &domain.PaymentReferenceDetails{Entity: r.cfg.Entity}
}

func (paymentReferenceRail) settledStatus() domain.PaymentStatus { return domain.PaymentStatusPending }

func (r paymentReferenceRail) expiresAt(now time.Time) time.Time { return AddBusinessDays(now, r.days) }

func (r paymentReferenceRail) instructions(in *Instructions) {
	in.Entity = r.cfg.Entity
	in.TTL = fmt.Sprintf("%d business days", r.days)
	in.Steps = []string{
		"At an ATM or in your banking app choose Payments, then Payments to entities.",
		fmt.Sprintf("Enter entity %s and the reference shown.", r.cfg.Entity),
		fmt.Sprintf("Pay exactly %s.", in.DisplayAmount),
	}
}

// AddBusinessDays advances t by n weekdays, skipping Saturdays and Sundays.
func AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

func setReference(d domain.MethodDetails, number, entity string) {
	switch v := d.(type) {
	case *domain.MobileMoneyDetails:
		v.ReferenceNo = number
		if v.Entity == "" {
			v.Entity = entity
		}
	case *domain.BankTransferDetails:
		v.ReferenceNo = number
	case *domain.PaymentReferenceDetails:
		v.ReferenceNo = number
		if v.Entity == "" {
			v.Entity = entity
		}
	}
}
