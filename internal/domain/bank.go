/**
 * @description
 * Counterparty bank models resolved from the central bank registry. These
 * records are fetched on demand and never persisted beyond the evaluation of
 * a single transfer.
 */

package domain

// BankInfo describes a settlement-network participant as registered with the
// central bank: where to deliver signed transfers and where to fetch the
// bank's public key set.
type BankInfo struct {
	Prefix         string `json:"bankPrefix"`
	Name           string `json:"name"`
	TransactionURL string `json:"transactionUrl"`
	JWKSURL        string `json:"jwksUrl"`
}
