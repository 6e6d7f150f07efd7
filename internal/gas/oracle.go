package gas

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainSync/internal/metrics"
	"chainSync/internal/valuesync"
)

// Strategy selects how far above the node's suggestion a price is set.
type Strategy string

const (
	SafeLow  Strategy = "safeLow"
	Standard Strategy = "standard"
	Fast     Strategy = "fast"
	Fastest  Strategy = "fastest"
)

// percent of the suggested price
var multipliers = map[Strategy]int64{
	SafeLow:  90,
	Standard: 100,
	Fast:     125,
	Fastest:  150,
}

// ParseStrategy accepts a strategy tag case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	for tag := range multipliers {
		if strings.EqualFold(string(tag), strings.TrimSpace(s)) {
			return tag, nil
		}
	}
	return "", fmt.Errorf("unknown gas strategy %q", s)
}

// Apply scales a suggested price by the strategy.
func (s Strategy) Apply(suggested *big.Int) *big.Int {
	pct, ok := multipliers[s]
	if !ok {
		pct = 100
	}
	out := new(big.Int).Mul(suggested, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

// Policy supplies the gas price applied to submissions without an explicit one.
type Policy interface {
	GasPrice() (*big.Int, bool)
}

// Oracle keeps a strategy-adjusted gas price fresh.
type Oracle struct {
	strategy Strategy
	sync     *valuesync.Sync[*big.Int]
}

// NewOracle starts refreshing the price from pricer every interval.
func NewOracle(ctx context.Context, pricer valuesync.GasPricer, strategy Strategy, interval time.Duration, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := valuesync.GasPriceProbe(pricer)
	o := &Oracle{strategy: strategy}
	o.sync = valuesync.Observe(ctx, func(ctx context.Context) (*big.Int, error) {
		suggested, err := probe(ctx)
		if err != nil {
			return nil, err
		}
		price := strategy.Apply(suggested)
		f, _ := new(big.Float).SetInt(price).Float64()
		metrics.GasPriceWei.WithLabelValues(string(strategy)).Set(f)
		return price, nil
	}, interval,
		valuesync.WithName("gas_price_"+string(strategy)),
		valuesync.WithLogger(logger),
	)
	return o
}

// Strategy returns the configured strategy.
func (o *Oracle) Strategy() Strategy {
	return o.strategy
}

// GasPrice returns a copy of the cached price.
func (o *Oracle) GasPrice() (*big.Int, bool) {
	v, ok := o.sync.Latest()
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// Sync exposes the underlying value stream.
func (o *Oracle) Sync() *valuesync.Sync[*big.Int] {
	return o.sync
}

func (o *Oracle) Stop() {
	o.sync.Stop()
}

// Static is a fixed price policy.
type Static struct {
	price *big.Int
}

func NewStatic(price *big.Int) Static {
	if price == nil {
		return Static{}
	}
	return Static{price: new(big.Int).Set(price)}
}

func (s Static) GasPrice() (*big.Int, bool) {
	if s.price == nil {
		return nil, false
	}
	return new(big.Int).Set(s.price), true
}
