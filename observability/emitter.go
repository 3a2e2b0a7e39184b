package observability

import (
	"log/slog"

	"lendpool/native/lending"
	"lendpool/observability/metrics"
)

// EventRecorder bridges engine events into structured logs and the Prometheus
// registry. It satisfies the engine's Emitter interface.
type EventRecorder struct {
	log *slog.Logger
}

// NewEventRecorder returns a recorder writing through the supplied logger.
func NewEventRecorder(log *slog.Logger) *EventRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &EventRecorder{log: log}
}

// Emit records the event.
func (r *EventRecorder) Emit(event lending.Event) {
	if r == nil || event == nil {
		return
	}
	reg := metrics.Lending()
	switch evt := event.(type) {
	case lending.AccrualEvent:
		reg.ObserveAccrual(metrics.AmountFloat(evt.InterestAmount))
		reg.SetTotalBorrowed(metrics.AmountFloat(evt.NewTotalBorrowed))
		reg.SetPendingFees(metrics.AmountFloat(evt.NewTotalFees))
		r.log.Debug("interest accrued",
			"event", evt.EventType(),
			"elapsed_seconds", evt.ElapsedSeconds,
			"rate_per_second", evt.RatePerSecond.Dec(),
			"interest", evt.InterestAmount.Dec(),
			"total_borrowed", evt.NewTotalBorrowed.Dec(),
			"pending_fees", evt.NewTotalFees.Dec(),
		)
	case lending.SupplyAddedEvent:
		r.log.Info("supply added",
			"event", evt.EventType(),
			"account", evt.Account.Hex(),
			"amount", evt.Amount.Dec(),
			"shares", evt.ShareAmount.Dec(),
			"exchange_rate", lending.FormatWad(evt.ExchangeRate),
		)
	case lending.SupplyRemovedEvent:
		r.log.Info("supply removed",
			"event", evt.EventType(),
			"account", evt.Account.Hex(),
			"amount", evt.Amount.Dec(),
			"shares", evt.ShareAmount.Dec(),
			"exchange_rate", lending.FormatWad(evt.ExchangeRate),
		)
	case lending.BorrowEvent:
		r.log.Info("borrowed",
			"event", evt.EventType(),
			"account", evt.Account.Hex(),
			"amount", evt.Amount.Dec(),
			"debt_proportion_rate", lending.FormatWad(evt.DebtProportionRate),
		)
	case lending.RepayEvent:
		r.log.Info("repaid",
			"event", evt.EventType(),
			"account", evt.Account.Hex(),
			"amount", evt.Amount.Dec(),
			"debt_proportion_rate", lending.FormatWad(evt.DebtProportionRate),
		)
	case lending.FeesCollectedEvent:
		r.log.Info("fees collected",
			"event", evt.EventType(),
			"collector", evt.Collector.Hex(),
			"recipient", evt.Recipient.Hex(),
			"amount", evt.Amount.Dec(),
		)
	default:
		r.log.Info("pool event", "event", event.EventType())
	}
}
