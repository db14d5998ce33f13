package wallet

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"onchain-executor/internal/domain"
)

// TxParams are the fields of an unsigned swap transaction.
type TxParams struct {
	Recipient   string  `json:"recipient"` // execution venue router
	Sequence    uint64  `json:"sequence"`
	SourceAsset string  `json:"source_asset"`
	TargetAsset string  `json:"target_asset"`
	AmountIn    float64 `json:"amount_in"`
	MinOut      float64 `json:"min_out"`
	Deadline    int64   `json:"deadline"` // unix seconds
	MaxFee      float64 `json:"max_fee"`
	PriorityFee float64 `json:"priority_fee"`
	GasLimit    uint64  `json:"gas_limit"`
}

// txBody is the canonical signed payload. Field order is fixed; the
// ledger gateway verifies the signature over the marshaled body.
type txBody struct {
	Sender string `json:"sender"`
	TxParams
}

// signedEnvelope is the wire form handed to broadcast/relay endpoints.
type signedEnvelope struct {
	Body      txBody `json:"body"`
	Signature string `json:"signature"` // base58
}

// SignTransaction builds, signs, and hashes a transaction for kp.
func SignTransaction(kp *Keypair, p TxParams) (*domain.SignedTransaction, error) {
	if p.Recipient == "" {
		return nil, fmt.Errorf("recipient required")
	}
	body := txBody{Sender: kp.Address(), TxParams: p}

	msg, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal tx body: %w", err)
	}

	sig := kp.Sign(msg)
	raw, err := json.Marshal(signedEnvelope{Body: body, Signature: base58.Encode(sig)})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	sum := sha256.Sum256(raw)
	return &domain.SignedTransaction{
		Raw:       raw,
		Hash:      base58.Encode(sum[:]),
		Sender:    body.Sender,
		Recipient: p.Recipient,
		Value:     p.AmountIn,
		GasLimit:  p.GasLimit,
	}, nil
}
