package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

// OrderSide is the direction of the parent order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// SliceStatus tracks one child slice through execution.
type SliceStatus string

const (
	SlicePending   SliceStatus = "PENDING"
	SliceFilled    SliceStatus = "FILLED"
	SlicePartial   SliceStatus = "PARTIALLY_FILLED"
	SliceFailed    SliceStatus = "FAILED"
	SliceCancelled SliceStatus = "CANCELLED"
)

// OrderStatus is the parent order's aggregate status, always derived from
// the child slices, never set directly.
type OrderStatus string

const (
	OrderFilled    OrderStatus = "FILLED"
	OrderPartial   OrderStatus = "PARTIALLY_FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
	OrderPending   OrderStatus = "PENDING"
)

// Slice is one child order. Quantity and price are immutable after
// creation; only status and fill fields mutate as execution proceeds.
type Slice struct {
	Index     int         `json:"index"`
	Quantity  int         `json:"quantity"`
	Price     float64     `json:"price"`
	Status    SliceStatus `json:"status"`
	FilledQty int         `json:"filled_qty"`
	FillPrice float64     `json:"fill_price"`
	PlacedAt  time.Time   `json:"placed_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// IcebergOrder is a parent order owning an ordered sequence of slices.
type IcebergOrder struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	TotalQty  int       `json:"total_qty"`
	BasePrice float64   `json:"base_price"`
	Slices    []Slice   `json:"slices"`
	CreatedAt time.Time `json:"created_at"`
}

// FilledQty sums the child fills.
func (o *IcebergOrder) FilledQty() int {
	total := 0
	for _, s := range o.Slices {
		total += s.FilledQty
	}
	return total
}

// AvgFillPrice is the volume-weighted average of child fills.
func (o *IcebergOrder) AvgFillPrice() float64 {
	var qty int
	var notional float64
	for _, s := range o.Slices {
		qty += s.FilledQty
		notional += float64(s.FilledQty) * s.FillPrice
	}
	if qty == 0 {
		return 0
	}
	return notional / float64(qty)
}

// Status derives the aggregate from child-slice statuses.
func (o *IcebergOrder) Status() OrderStatus {
	var filled, failed, cancelled, pending int
	for _, s := range o.Slices {
		switch s.Status {
		case SliceFilled:
			filled++
		case SlicePartial:
			filled++ // partial counts toward a partial aggregate
		case SliceFailed:
			failed++
		case SliceCancelled:
			cancelled++
		default:
			pending++
		}
	}
	n := len(o.Slices)
	switch {
	case filled == n && o.FilledQty() == o.TotalQty:
		return OrderFilled
	case cancelled > 0 && o.FilledQty() == 0:
		return OrderCancelled
	case failed == n:
		return OrderFailed
	case o.FilledQty() > 0:
		return OrderPartial
	case pending == n:
		return OrderPending
	default:
		return OrderFailed
	}
}

// Config holds the executor's slicing parameters.
type Config struct {
	MaxSliceLots        int     `yaml:"max_slice_lots"`   // options, in lots
	MaxSliceShares      int     `yaml:"max_slice_shares"` // equities
	LotSize             int     `yaml:"lot_size"`
	SliceDelayMs        int     `yaml:"slice_delay_ms"`
	PriceImprovementPct float64 `yaml:"price_improvement_pct"`
}

// Normalize fills defaults for unset fields.
func (c Config) Normalize() Config {
	if c.MaxSliceLots == 0 {
		c.MaxSliceLots = 4
	}
	if c.MaxSliceShares == 0 {
		c.MaxSliceShares = 500
	}
	if c.LotSize == 0 {
		c.LotSize = 75
	}
	if c.SliceDelayMs == 0 {
		c.SliceDelayMs = 400
	}
	if c.PriceImprovementPct == 0 {
		c.PriceImprovementPct = 0.05
	}
	return c
}

// PlaceFunc places one slice and reports the fill. A nil error with a
// partial quantity is a partial fill.
type PlaceFunc func(ctx context.Context, order *IcebergOrder, slice Slice) (filledQty int, fillPrice float64, err error)

// CancelCheck reports whether execution should halt before the next slice.
type CancelCheck func() bool

// FillResult is the unified outcome of executing an iceberg order.
type FillResult struct {
	OrderID      string      `json:"order_id"`
	Status       OrderStatus `json:"status"`
	FilledQty    int         `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	SliceCount   int         `json:"slice_count"`
}

// Executor splits orders above the slice threshold into sequential child
// slices with per-slice price improvement and delay.
type Executor struct {
	cfg Config
}

// NewExecutor creates an executor with normalized config.
func NewExecutor(cfg Config) *Executor {
	return &Executor{cfg: cfg.Normalize()}
}

// NewOptionsIceberg slices an options order; quantities are in contracts,
// sliced at MaxSliceLots*LotSize contracts each.
func (e *Executor) NewOptionsIceberg(id, symbol string, side OrderSide, totalQty int, basePrice float64, now time.Time) (*IcebergOrder, error) {
	return e.build(id, symbol, side, totalQty, basePrice, e.cfg.MaxSliceLots*e.cfg.LotSize, now)
}

// NewEquityIceberg slices an equity order by share count.
func (e *Executor) NewEquityIceberg(id, symbol string, side OrderSide, totalQty int, basePrice float64, now time.Time) (*IcebergOrder, error) {
	return e.build(id, symbol, side, totalQty, basePrice, e.cfg.MaxSliceShares, now)
}

// build creates ceil(total/maxSlice) slices whose quantities sum to exactly
// totalQty, each successive slice offered at a small price improvement in
// the order's favor.
func (e *Executor) build(id, symbol string, side OrderSide, totalQty int, basePrice float64, maxSlice int, now time.Time) (*IcebergOrder, error) {
	if totalQty <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", totalQty)
	}
	if basePrice <= 0 {
		return nil, fmt.Errorf("invalid base price %.2f", basePrice)
	}
	if maxSlice <= 0 {
		maxSlice = totalQty
	}

	count := (totalQty + maxSlice - 1) / maxSlice
	order := &IcebergOrder{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		TotalQty:  totalQty,
		BasePrice: basePrice,
		Slices:    make([]Slice, 0, count),
		CreatedAt: now,
	}

	remaining := totalQty
	for i := 0; i < count; i++ {
		qty := maxSlice
		if qty > remaining {
			qty = remaining
		}
		remaining -= qty

		improvement := basePrice * e.cfg.PriceImprovementPct / 100 * float64(i)
		price := basePrice - improvement // buyer pays less on later slices
		if side == SideSell {
			price = basePrice + improvement
		}
		order.Slices = append(order.Slices, Slice{
			Index:    i,
			Quantity: qty,
			Price:    price,
			Status:   SlicePending,
		})
	}
	return order, nil
}

// Execute places slices sequentially with the configured inter-slice delay.
// A slice failure does not abort later slices; a positive cancel check halts
// and marks all remaining slices cancelled.
func (e *Executor) Execute(ctx context.Context, order *IcebergOrder, place PlaceFunc, cancelled CancelCheck) (*FillResult, error) {
	if place == nil {
		return nil, fmt.Errorf("nil place function")
	}
	delay := time.Duration(e.cfg.SliceDelayMs) * time.Millisecond

	for i := range order.Slices {
		if cancelled != nil && cancelled() {
			e.cancelFrom(order, i)
			break
		}
		select {
		case <-ctx.Done():
			e.cancelFrom(order, i)
			return e.result(order), ctx.Err()
		default:
		}

		sl := &order.Slices[i]
		sl.PlacedAt = time.Now().UTC()
		filled, price, err := place(ctx, order, *sl)
		if err != nil {
			sl.Status = SliceFailed
			sl.Error = err.Error()
			observ.IncCounter("iceberg_slice_failures_total", map[string]string{"symbol": order.Symbol})
		} else {
			sl.FilledQty = filled
			sl.FillPrice = price
			switch {
			case filled >= sl.Quantity:
				sl.FilledQty = sl.Quantity
				sl.Status = SliceFilled
			case filled > 0:
				sl.Status = SlicePartial
			default:
				sl.Status = SliceFailed
				sl.Error = "zero fill"
			}
		}

		if i < len(order.Slices)-1 && delay > 0 {
			select {
			case <-ctx.Done():
				e.cancelFrom(order, i+1)
				return e.result(order), ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	res := e.result(order)
	observ.Log("iceberg_executed", map[string]any{
		"order_id": order.ID, "status": string(res.Status),
		"filled": res.FilledQty, "avg_price": res.AvgFillPrice, "slices": res.SliceCount,
	})
	return res, nil
}

func (e *Executor) cancelFrom(order *IcebergOrder, idx int) {
	for i := idx; i < len(order.Slices); i++ {
		if order.Slices[i].Status == SlicePending {
			order.Slices[i].Status = SliceCancelled
		}
	}
}

func (e *Executor) result(order *IcebergOrder) *FillResult {
	return &FillResult{
		OrderID:      order.ID,
		Status:       order.Status(),
		FilledQty:    order.FilledQty(),
		AvgFillPrice: order.AvgFillPrice(),
		SliceCount:   len(order.Slices),
	}
}
