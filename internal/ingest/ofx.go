// Package ingest adapts bank feed formats into pipeline transactions.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/shopspring/decimal"
)

// OFXParser parses OFX/QFX bank statement files into transactions for a
// tenant. The bank feed is at-least-once; the orchestrator deduplicates
// on admission.
type OFXParser struct {
	tenantID string
	currency string
}

// NewOFXParser creates a parser that stamps transactions for one tenant.
func NewOFXParser(tenantID, defaultCurrency string) *OFXParser {
	if defaultCurrency == "" {
		defaultCurrency = "EUR"
	}
	return &OFXParser{tenantID: tenantID, currency: defaultCurrency}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *OFXParser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// Fix mixed-case SEVERITY values (should be INFO, WARN, or ERROR)
	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// Fix missing closing angle brackets in SGML-style OFX files
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}

// ParseFile parses an OFX/QFX file and returns transactions.
func (p *OFXParser) ParseFile(_ context.Context, reader io.Reader) ([]model.Transaction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	processedContent := p.preprocessOFX(string(content))

	resp, err := ofxgo.ParseResponse(strings.NewReader(processedContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.Transaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			if stmt.BankTranList == nil {
				continue
			}
			for _, ofxTx := range stmt.BankTranList.Transactions {
				transactions = append(transactions, p.convertTransaction(ofxTx, currencyOf(stmt.CurDef)))
			}
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			if stmt.BankTranList == nil {
				continue
			}
			for _, ofxTx := range stmt.BankTranList.Transactions {
				transactions = append(transactions, p.convertTransaction(ofxTx, currencyOf(stmt.CurDef)))
			}
		}
	}

	slog.Info("Parsed OFX file",
		"tenant_id", p.tenantID,
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

// convertTransaction maps one OFX transaction into the pipeline model.
func (p *OFXParser) convertTransaction(ofxTx ofxgo.Transaction, currency string) model.Transaction {
	if currency == "" {
		currency = p.currency
	}

	// OFX reports amounts as exact rationals; keep them exact.
	amount := decimal.NewFromBigRat(&ofxTx.TrnAmt.Rat, 2)

	txn := model.Transaction{
		ID:              string(ofxTx.FiTID),
		TenantID:        p.tenantID,
		ValueDate:       ofxTx.DtPosted.Time,
		Amount:          amount,
		Currency:        currency,
		CounterpartyRef: p.extractCounterparty(ofxTx),
		RawDescription:  strings.TrimSpace(string(ofxTx.Name) + " " + string(ofxTx.Memo)),
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

// extractCounterparty pulls the cleanest counterparty reference the
// statement offers.
func (p *OFXParser) extractCounterparty(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := strings.TrimSpace(string(tx.Name))

	// Strip common processor prefixes so fuzzy matching sees the actual
	// counterparty.
	prefixes := []string{
		"POS PURCHASE ",
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
		"CHECK CARD ",
		"SEPA LASTSCHRIFT ",
		"SEPA UEBERWEISUNG ",
	}
	upper := strings.ToUpper(name)
	for _, prefix := range prefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	return strings.TrimSpace(name)
}

func currencyOf(cur ofxgo.CurrSymbol) string {
	return strings.TrimSpace(cur.String())
}
