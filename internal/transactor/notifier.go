package transactor

import (
	"strings"

	"go.uber.org/zap"
)

// LogNotifier reports lifecycle events through zap. When ExplorerURL is set each
// event carries a link to the transaction page.
type LogNotifier struct {
	Logger      *zap.Logger
	ExplorerURL string
}

func (n LogNotifier) Notify(op *Operation, ev Event) {
	logger := n.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation_id", op.ID().String()),
		zap.String("label", op.Label()),
	}

	switch e := ev.(type) {
	case Submitted:
		fields = append(fields, zap.String("tx_hash", e.Hash.Hex()))
		if link := n.link(e.Hash.Hex()); link != "" {
			fields = append(fields, zap.String("explorer", link))
		}
		logger.Info("transaction sent", fields...)
	case Confirmed:
		fields = append(fields,
			zap.String("tx_hash", e.Hash.Hex()),
			zap.Uint64("block", e.Receipt.BlockNumber.Uint64()),
		)
		if link := n.link(e.Hash.Hex()); link != "" {
			fields = append(fields, zap.String("explorer", link))
		}
		logger.Info("transaction confirmed", fields...)
	case Failed:
		fields = append(fields, zap.String("kind", e.Kind.String()), zap.String("message", e.Message))
		if e.Receipt != nil {
			fields = append(fields, zap.String("tx_hash", e.Hash.Hex()))
			if link := n.link(e.Hash.Hex()); link != "" {
				fields = append(fields, zap.String("explorer", link))
			}
		}
		logger.Error("transaction failed", fields...)
	}
}

func (n LogNotifier) link(hash string) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash
}
