package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rails holds the static instruction data shown to customers for each
// offline rail.
type Rails struct {
	MobileMoney      MobileMoneyRail      `yaml:"mobile_money"`
	BankTransfer     BankTransferRail     `yaml:"bank_transfer"`
	PaymentReference PaymentReferenceRail `yaml:"payment_reference"`
	Card             CardRail             `yaml:"card"`
}

type MobileMoneyRail struct {
	Provider string `yaml:"provider"`
	Entity   string `yaml:"entity"`
}

type BankTransferRail struct {
	BankName      string `yaml:"bank_name"`
	IBAN          string `yaml:"iban"`
	AccountHolder string `yaml:"account_holder"`
}

type PaymentReferenceRail struct {
	Entity string `yaml:"entity"`
}

type CardRail struct {
	Gateway string `yaml:"gateway"`
}

func DefaultRails() Rails {
	return Rails{
		MobileMoney: MobileMoneyRail{
			Provider: "Multicaixa Express",
			Entity:   "11604",
		},
		BankTransfer: BankTransferRail{
			BankName:      "Banco de Fomento Angola",
			IBAN:          "AO06 0006 0000 1234 5678 9012 3",
			AccountHolder: "SupportDesk Angola, Lda",
		},
		PaymentReference: PaymentReferenceRail{
			Entity: "11604",
		},
		Card: CardRail{
			Gateway: "card-gateway",
		},
	}
}

// LoadRails reads rail instructions from path. Fields missing from the file
// keep their built-in defaults; an empty path returns the defaults.
func LoadRails(path string) (Rails, error) {
	rails := DefaultRails()
	if path == "" {
		return rails, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Rails{}, fmt.Errorf("LoadRails: %w", err)
	}
	if err := yaml.Unmarshal(raw, &rails); err != nil {
		return Rails{}, fmt.Errorf("LoadRails: parse %s: %w", path, err)
	}
	if rails.PaymentReference.Entity == "" {
		return Rails{}, fmt.Errorf("LoadRails: payment_reference.entity is required")
	}
	return rails, nil
}
