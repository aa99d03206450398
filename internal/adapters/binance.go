package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"moniteur/internal/domain"
)

// Binance API error codes that mean the caller is over its request weight.
const (
	codeTooManyRequests = -1003
	codeIPBanned        = -1015
)

// Binance reads the spot price of params["symbol"].
type Binance struct {
	client  *binance.Client
	symbols sync.Map // asset id -> resolved symbol
}

// NewBinance builds the adapter on client. A non-empty baseURL replaces the public endpoint.
func NewBinance(client *http.Client, baseURL string) *Binance {
	c := binance.NewClient("", "")
	c.HTTPClient = client
	if baseURL != "" {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Binance{client: c}
}

// Init checks the symbol against exchangeInfo and caches its canonical form.
func (b *Binance) Init(ctx context.Context, asset domain.Asset) error {
	symbol := strings.ToUpper(strings.TrimSpace(asset.Param("symbol")))
	if symbol == "" {
		return fmt.Errorf("asset %s: missing param \"symbol\"", asset.ID)
	}

	info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return fmt.Errorf("asset %s: resolving %s: %w", asset.ID, symbol, classifyBinance(ctx, err))
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			b.symbols.Store(asset.ID, symbol)
			return nil
		}
	}
	return fmt.Errorf("asset %s: unknown symbol %s", asset.ID, symbol)
}

func (b *Binance) symbolFor(asset domain.Asset) string {
	if s, ok := b.symbols.Load(asset.ID); ok {
		return s.(string)
	}
	return strings.ToUpper(strings.TrimSpace(asset.Param("symbol")))
}

func (b *Binance) Fetch(ctx context.Context, asset domain.Asset, timeout time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	symbol := b.symbolFor(asset)
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classifyBinance(ctx, err)
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, domain.NewAdapterError(domain.KindInvalidResponse, fmt.Errorf("price %q: %w", p.Price, err))
		}
		return v, nil
	}
	return 0, domain.NewAdapterError(domain.KindInvalidResponse, fmt.Errorf("no price for %s", symbol))
}

func classifyBinance(ctx context.Context, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeTooManyRequests, codeIPBanned:
			return domain.NewAdapterError(domain.KindRateLimited, err)
		default:
			return domain.NewAdapterError(domain.KindInvalidResponse, err)
		}
	}
	return transportError(ctx, err)
}
