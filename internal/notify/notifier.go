package notify

import (
	"context"
	"log/slog"

	"call-ledger/internal/ledger"
	"call-ledger/pkg/rabbitmq"
)

const (
	RoutingSettlementCompleted = "ledger.settlement.completed"
	RoutingFundingCompleted    = "ledger.funding.completed"
	RoutingFundingFailed       = "ledger.funding.failed"
)

// Notifier informs downstream consumers of committed ledger outcomes.
// Delivery is best-effort; callers log failures and move on.
type Notifier interface {
	NotifySettlement(ctx context.Context, res ledger.SettlementResult) error
	NotifyFunding(ctx context.Context, res ledger.FundingResult) error
}

// AMQPNotifier publishes results as JSON to a topic exchange.
type AMQPNotifier struct {
	pub      rabbitmq.Publisher
	exchange string
}

func NewAMQPNotifier(pub rabbitmq.Publisher, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = "ledger_events"
	}
	return &AMQPNotifier{pub: pub, exchange: exchange}
}

func (b *AMQPNotifier) NotifySettlement(ctx context.Context, res ledger.SettlementResult) error {
	return b.pub.Publish(ctx, b.exchange, RoutingSettlementCompleted, res)
}

func (b *AMQPNotifier) NotifyFunding(ctx context.Context, res ledger.FundingResult) error {
	key := RoutingFundingCompleted
	if res.Status == ledger.FundingFailed {
		key = RoutingFundingFailed
	}
	return b.pub.Publish(ctx, b.exchange, key, res)
}

// LogNotifier writes results to the logger only; used when no broker is configured.
type LogNotifier struct {
	L *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.L == nil {
		return slog.Default()
	}
	return n.L
}

func (n LogNotifier) NotifySettlement(ctx context.Context, res ledger.SettlementResult) error {
	n.logger().DebugContext(ctx, "settlement notification", "correlation_id", res.CorrelationID, "caller_id", res.CallerID)
	return nil
}

func (n LogNotifier) NotifyFunding(ctx context.Context, res ledger.FundingResult) error {
	n.logger().DebugContext(ctx, "funding notification", "merchant_transaction_id", res.MerchantTransactionID, "status", res.Status)
	return nil
}
