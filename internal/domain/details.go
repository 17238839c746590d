package domain

import (
	"encoding/json"
	"fmt"
)

// MethodDetails is a closed union of rail-specific fields. Only the types in
// this file implement it.
type MethodDetails interface {
	Method() Method
	isMethodDetails()
}

type referenced interface {
	reference() string
}

type CardState string

const (
	CardStateCreated        CardState = "created"
	CardStateRequiresAction CardState = "requires_action"
	CardStateProcessing     CardState = "processing"
	CardStateSucceeded      CardState = "succeeded"
	CardStateFailed         CardState = "failed"
)

type CardDetails struct {
	PaymentMethodToken string    `json:"payment_method_token"`
	IntentID           string    `json:"intent_id,omitempty"`
	ClientSecret       string    `json:"client_secret,omitempty"`
	ChallengeURL       string    `json:"challenge_url,omitempty"`
	State              CardState `json:"state"`
}

type MobileMoneyDetails struct {
	PhoneNumber   string `json:"phone_number"`
	Entity        string `json:"entity"`
	ReferenceNo   string `json:"reference"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type BankTransferDetails struct {
	BankName      string `json:"bank_name"`
	IBAN          string `json:"iban"`
	AccountHolder string `json:"account_holder"`
	ReferenceNo   string `json:"reference"`
	ProofHandle   string `json:"proof_handle"`
}

type PaymentReferenceDetails struct {
	Entity        string `json:"entity"`
	ReferenceNo   string `json:"reference"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (*CardDetails) Method() Method             { return MethodCard }
func (*MobileMoneyDetails) Method() Method      { return MethodMobileMoney }
func (*BankTransferDetails) Method() Method     { return MethodBankTransfer }
func (*PaymentReferenceDetails) Method() Method { return MethodPaymentReference }

func (*CardDetails) isMethodDetails()             {}
func (*MobileMoneyDetails) isMethodDetails()      {}
func (*BankTransferDetails) isMethodDetails()     {}
func (*PaymentReferenceDetails) isMethodDetails() {}

func (d *MobileMoneyDetails) reference() string      { return d.ReferenceNo }
func (d *BankTransferDetails) reference() string     { return d.ReferenceNo }
func (d *PaymentReferenceDetails) reference() string { return d.ReferenceNo }

func MarshalDetails(d MethodDetails) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("MarshalDetails: %w", err)
	}
	return b, nil
}

// UnmarshalDetails decodes stored details using the record's method as the tag.
func UnmarshalDetails(method Method, raw []byte) (MethodDetails, error) {
	var d MethodDetails
	switch method {
	case MethodCard:
		d = &CardDetails{}
	case MethodMobileMoney:
		d = &MobileMoneyDetails{}
	case MethodBankTransfer:
		d = &BankTransferDetails{}
	case MethodPaymentReference:
		d = &PaymentReferenceDetails{}
	default:
		return nil, fmt.Errorf("UnmarshalDetails: %s: %w", method, ErrUnsupportedMethod)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, fmt.Errorf("UnmarshalDetails: %w", err)
		}
	}
	return d, nil
}
