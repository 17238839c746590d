package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func record(method Method, status PaymentStatus) *PaymentRecord {
	var d MethodDetails
	switch method {
	case MethodCard:
		d = &CardDetails{PaymentMethodToken: "pm_1", State: CardStateRequiresAction}
	case MethodBankTransfer:
		d = &BankTransferDetails{ProofHandle: "p/h.pdf"}
	case MethodMobileMoney:
		d = &MobileMoneyDetails{PhoneNumber: "+244923000000"}
	default:
		d = &PaymentReferenceDetails{Entity: "11604"}
	}
	return &PaymentRecord{
		ID:      uuid.New(),
		Method:  method,
		Status:  status,
		Details: d,
		Version: 3,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{PaymentStatusCreated, PaymentStatusPending, true},
		{PaymentStatusCreated, PaymentStatusExpired, false},
		{PaymentStatusPending, PaymentStatusProcessing, true},
		{PaymentStatusPending, PaymentStatusExpired, true},
		{PaymentStatusProcessing, PaymentStatusPending, false},
		{PaymentStatusProcessing, PaymentStatusApproved, true},
		{PaymentStatusApproved, PaymentStatusRejected, false},
		{PaymentStatusRejected, PaymentStatusApproved, false},
		{PaymentStatusExpired, PaymentStatusPending, false},
		{PaymentStatusFailed, PaymentStatusApproved, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	all := []PaymentStatus{
		PaymentStatusCreated, PaymentStatusPending, PaymentStatusProcessing,
		PaymentStatusApproved, PaymentStatusRejected, PaymentStatusExpired, PaymentStatusFailed,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition_BumpsVersion(t *testing.T) {
	p := record(MethodMobileMoney, PaymentStatusPending)

	require.NoError(t, p.Transition(PaymentStatusProcessing, now))
	assert.Equal(t, int64(4), p.Version)
	assert.Equal(t, now, p.UpdatedAt)

	err := p.Transition(PaymentStatusPending, now)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, int64(4), p.Version, "rejected transition must not bump version")
}

func TestTransition_BankTransferNeedsProof(t *testing.T) {
	p := record(MethodBankTransfer, PaymentStatusCreated)
	p.Details.(*BankTransferDetails).ProofHandle = ""

	err := p.Transition(PaymentStatusProcessing, now)
	require.ErrorIs(t, err, ErrMissingProofForBankTransfer)
	assert.Equal(t, PaymentStatusCreated, p.Status)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		status   PaymentStatus
		decision Decision
		actor    string
		reason   string
		want     PaymentStatus
		wantErr  error
	}{
		{name: "approve without reason", status: PaymentStatusProcessing, decision: DecisionApprove, actor: "a", want: PaymentStatusApproved},
		{name: "reject with reason", status: PaymentStatusProcessing, decision: DecisionReject, actor: "a", reason: "no document visible", want: PaymentStatusRejected},
		{name: "reject short reason", status: PaymentStatusProcessing, decision: DecisionReject, actor: "a", reason: "bad", wantErr: ErrRejectionReasonTooShort},
		{name: "reject empty reason", status: PaymentStatusProcessing, decision: DecisionReject, actor: "a", wantErr: ErrRejectionReasonTooShort},
		{name: "pending not decidable", status: PaymentStatusPending, decision: DecisionApprove, actor: "a", wantErr: ErrInvalidTransition},
		{name: "already approved", status: PaymentStatusApproved, decision: DecisionApprove, actor: "a", wantErr: ErrInvalidTransition},
		{name: "unknown decision", status: PaymentStatusProcessing, decision: "maybe", actor: "a", wantErr: ErrInvalidDecision},
		{name: "missing actor", status: PaymentStatusProcessing, decision: DecisionApprove, wantErr: ErrMissingActor},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := record(MethodBankTransfer, tc.status)
			err := p.Decide(tc.decision, tc.actor, tc.reason, now)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, tc.status, p.Status)
				assert.Nil(t, p.DecidedBy)
				assert.Equal(t, int64(3), p.Version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Status)
			require.NotNil(t, p.DecidedBy)
			assert.Equal(t, tc.actor, *p.DecidedBy)
			assert.Equal(t, int64(4), p.Version)
		})
	}
}

func TestExpire(t *testing.T) {
	t.Run("pending offline rail expires", func(t *testing.T) {
		p := record(MethodPaymentReference, PaymentStatusPending)
		require.NoError(t, p.Expire(now))
		assert.Equal(t, PaymentStatusExpired, p.Status)
	})

	t.Run("processing bank transfer expires", func(t *testing.T) {
		p := record(MethodBankTransfer, PaymentStatusProcessing)
		require.NoError(t, p.Expire(now))
		assert.Equal(t, PaymentStatusExpired, p.Status)
	})

	t.Run("card challenge timeout fails", func(t *testing.T) {
		p := record(MethodCard, PaymentStatusCreated)
		require.NoError(t, p.Expire(now))
		assert.Equal(t, PaymentStatusFailed, p.Status)
		require.NotNil(t, p.FailureReason)
		assert.Equal(t, FailureReasonChallengeTimeout, *p.FailureReason)
		assert.Equal(t, CardStateFailed, p.Details.(*CardDetails).State)
	})

	t.Run("terminal record untouched", func(t *testing.T) {
		p := record(MethodMobileMoney, PaymentStatusApproved)
		require.ErrorIs(t, p.Expire(now), ErrInvalidTransition)
		assert.Equal(t, int64(3), p.Version)
	})
}

func TestReference(t *testing.T) {
	p := record(MethodPaymentReference, PaymentStatusPending)
	_, ok := p.Reference()
	assert.False(t, ok)

	p.Details.(*PaymentReferenceDetails).ReferenceNo = "123456789"
	ref, ok := p.Reference()
	assert.True(t, ok)
	assert.Equal(t, "123456789", ref)

	_, ok = record(MethodCard, PaymentStatusCreated).Reference()
	assert.False(t, ok)
}

func TestUnmarshalDetails(t *testing.T) {
	raw, err := MarshalDetails(&BankTransferDetails{IBAN: "AO06", ProofHandle: "a/b.pdf"})
	require.NoError(t, err)

	d, err := UnmarshalDetails(MethodBankTransfer, raw)
	require.NoError(t, err)
	bt, ok := d.(*BankTransferDetails)
	require.True(t, ok)
	assert.Equal(t, "a/b.pdf", bt.ProofHandle)
	assert.Equal(t, MethodBankTransfer, d.Method())

	_, err = UnmarshalDetails("crypto", raw)
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestInvoiceOutstanding(t *testing.T) {
	inv := Invoice{AmountDue: 15000, AmountPaid: 5000}
	assert.Equal(t, int64(10000), inv.Outstanding())
	inv.AmountPaid = 20000
	assert.Equal(t, int64(0), inv.Outstanding())
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{15000, "150.00 AOA"},
		{5, "0.05 AOA"},
		{123456789, "1234567.89 AOA"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatAmount(tc.minor, CurrencyAOA))
	}
}
