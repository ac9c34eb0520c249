package utils

import (
	"fmt"
	"strings"

	"github.com/stellar/go/strkey"
	"github.com/yourusername/gpay-xe/models"
)

// SettlementMethodStellar delivers funds to a Stellar account instead of a bank.
const SettlementMethodStellar = "Stellar"

// ValidateSettlementLegs checks the destination of every settlement leg.
// Stellar legs must point at a valid public account ID; other methods only
// need a non-empty destination descriptor.
func ValidateSettlementLegs(legs []models.SettlementLeg) error {
	for i, leg := range legs {
		if strings.TrimSpace(leg.SettlementMethod) == "" {
			return fmt.Errorf("settlement leg %d: method is required", i)
		}
		if strings.TrimSpace(leg.DestinationAccount) == "" {
			return fmt.Errorf("settlement leg %d: destination account is required", i)
		}
		if strings.EqualFold(leg.SettlementMethod, SettlementMethodStellar) &&
			!strkey.IsValidEd25519PublicKey(leg.DestinationAccount) {
			return fmt.Errorf("settlement leg %d: invalid stellar account %q", i, leg.DestinationAccount)
		}
	}
	return nil
}
