package marketdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// seed is one entry of the static table
type seed struct {
	Symbol    string
	Name      string
	Type      AssetType
	Price     float64 // reference price
	Volume    float64 // typical daily volume
	MarketCap float64
	PERatio   float64 // 0 when not meaningful
	Sector    string
	Region    string
}

var staticSeeds = []seed{
	{"AAPL", "Apple Inc.", AssetStock, 189.50, 55_000_000, 2.95e12, 29.4, "Technology", "United States"},
	{"MSFT", "Microsoft Corporation", AssetStock, 415.20, 22_000_000, 3.08e12, 36.1, "Technology", "United States"},
	{"GOOGL", "Alphabet Inc. Class A", AssetStock, 152.80, 28_000_000, 1.90e12, 26.3, "Communication Services", "United States"},
	{"AMZN", "Amazon.com Inc.", AssetStock, 178.30, 45_000_000, 1.85e12, 61.5, "Consumer Cyclical", "United States"},
	{"TSLA", "Tesla Inc.", AssetStock, 175.40, 95_000_000, 5.58e11, 44.8, "Consumer Cyclical", "United States"},
	{"NVDA", "NVIDIA Corporation", AssetStock, 880.10, 48_000_000, 2.20e12, 73.2, "Technology", "United States"},
	{"META", "Meta Platforms Inc.", AssetStock, 495.60, 16_000_000, 1.26e12, 33.0, "Communication Services", "United States"},
	{"IBM", "International Business Machines Corp.", AssetStock, 185.20, 4_500_000, 1.70e11, 22.6, "Technology", "United States"},
	{"NFLX", "Netflix Inc.", AssetStock, 610.40, 4_000_000, 2.63e11, 45.2, "Communication Services", "United States"},
	{"AMD", "Advanced Micro Devices Inc.", AssetStock, 178.60, 60_000_000, 2.88e11, 320.0, "Technology", "United States"},
	{"INTC", "Intel Corporation", AssetStock, 42.80, 40_000_000, 1.81e11, 107.0, "Technology", "United States"},
	{"ORCL", "Oracle Corporation", AssetStock, 125.30, 9_000_000, 3.44e11, 32.9, "Technology", "United States"},
	{"JPM", "JPMorgan Chase & Co.", AssetStock, 195.70, 9_500_000, 5.63e11, 11.8, "Financial Services", "United States"},
	{"BAC", "Bank of America Corporation", AssetStock, 36.40, 38_000_000, 2.87e11, 12.1, "Financial Services", "United States"},
	{"V", "Visa Inc.", AssetStock, 280.10, 6_500_000, 5.75e11, 31.8, "Financial Services", "United States"},
	{"WMT", "Walmart Inc.", AssetStock, 60.20, 17_000_000, 4.85e11, 31.0, "Consumer Defensive", "United States"},
	{"KO", "The Coca-Cola Company", AssetStock, 60.50, 13_000_000, 2.61e11, 24.3, "Consumer Defensive", "United States"},
	{"DIS", "The Walt Disney Company", AssetStock, 112.40, 10_000_000, 2.05e11, 70.1, "Communication Services", "United States"},
	{"XOM", "Exxon Mobil Corporation", AssetStock, 113.90, 18_000_000, 4.52e11, 13.9, "Energy", "United States"},
	{"JNJ", "Johnson & Johnson", AssetStock, 156.30, 7_000_000, 3.76e11, 9.7, "Healthcare", "United States"},
	{"PFE", "Pfizer Inc.", AssetStock, 27.60, 35_000_000, 1.56e11, 72.0, "Healthcare", "United States"},
	{"BA", "The Boeing Company", AssetStock, 190.80, 8_000_000, 1.16e11, 0, "Industrials", "United States"},
	{"BTC", "Bitcoin", AssetCrypto, 67_250.00, 32_000_000_000, 1.32e12, 0, "", "Global"},
	{"ETH", "Ethereum", AssetCrypto, 3_450.00, 15_000_000_000, 4.14e11, 0, "", "Global"},
	{"SOL", "Solana", AssetCrypto, 172.40, 3_500_000_000, 7.60e10, 0, "", "Global"},
	{"BNB", "BNB", AssetCrypto, 585.30, 1_800_000_000, 8.70e10, 0, "", "Global"},
	{"XRP", "XRP", AssetCrypto, 0.6120, 1_500_000_000, 3.36e10, 0, "", "Global"},
	{"ADA", "Cardano", AssetCrypto, 0.6450, 600_000_000, 2.28e10, 0, "", "Global"},
	{"DOGE", "Dogecoin", AssetCrypto, 0.1620, 1_200_000_000, 2.33e10, 0, "", "Global"},
	{"AVAX", "Avalanche", AssetCrypto, 38.70, 500_000_000, 1.46e10, 0, "", "Global"},
	{"DOT", "Polkadot", AssetCrypto, 7.45, 250_000_000, 1.07e10, 0, "", "Global"},
	{"LINK", "Chainlink", AssetCrypto, 17.90, 400_000_000, 1.05e10, 0, "", "Global"},
}

var seedBySymbol = func() map[string]seed {
	m := make(map[string]seed, len(staticSeeds))
	for _, s := range staticSeeds {
		m[s.Symbol] = s
	}
	return m
}()

// coinGeckoIDs maps crypto tickers to CoinGecko coin ids
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"AVAX": "avalanche-2",
	"DOT":  "polkadot",
	"LINK": "chainlink",
}

// baseCryptoSymbol strips quote-currency suffixes such as "-USD" or "USDT"
func baseCryptoSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, suffix := range []string{"-USDT", "-USD", "/USDT", "/USD", "USDT"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}

// IsCryptoSymbol reports whether s names a known crypto asset by ticker or name
func IsCryptoSymbol(s string) bool {
	base := baseCryptoSymbol(s)
	if seed, ok := seedBySymbol[base]; ok {
		return seed.Type == AssetCrypto
	}
	if _, ok := coinGeckoIDs[base]; ok {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, sd := range staticSeeds {
		if sd.Type == AssetCrypto && strings.ToLower(sd.Name) == lower {
			return true
		}
	}
	return false
}

// StaticTable is the last-resort source. It is a pure in-memory lookup with
// deterministic hourly price variation, so it never fails for a known symbol.
type StaticTable struct {
	now func() time.Time
}

// NewStaticTable creates the table. now may be nil.
func NewStaticTable(now func() time.Time) *StaticTable {
	if now == nil {
		now = time.Now
	}
	return &StaticTable{now: now}
}

func (s *StaticTable) Name() string { return "static" }

// variation returns a deterministic factor in [-0.02, 0.02] for symbol and hour
func variation(symbol string, hour time.Time) float64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d", symbol, hour.Unix())
	return float64(h.Sum32()%4001)/4000*0.04 - 0.02
}

func (s *StaticTable) quoteFor(sd seed) Quote {
	now := s.now()
	hour := now.Truncate(time.Hour)
	v := variation(sd.Symbol, hour)

	price := roundPrice(sd.Price * (1 + v))
	change := price - sd.Price
	q := Quote{
		Symbol:        sd.Symbol,
		Name:          sd.Name,
		Type:          sd.Type,
		Price:         price,
		Change:        roundPrice(change),
		ChangePercent: math.Round(change/sd.Price*100*100) / 100,
		Open:          sd.Price,
		High:          roundPrice(math.Max(price, sd.Price) * 1.005),
		Low:           roundPrice(math.Min(price, sd.Price) * 0.995),
		Volume:        null.FloatFrom(math.Round(sd.Volume * (1 + v*10))),
		MarketCap:     null.FloatFrom(sd.MarketCap * (1 + v)),
		Region:        sd.Region,
		Source:        s.Name(),
		CapturedAt:    now,
	}
	if sd.PERatio > 0 {
		q.PERatio = null.FloatFrom(sd.PERatio)
	}
	if sd.Sector != "" {
		q.Sector = null.StringFrom(sd.Sector)
	}
	q.Normalize()
	return q
}

func roundPrice(p float64) float64 {
	if math.Abs(p) >= 1 {
		return math.Round(p*100) / 100
	}
	return math.Round(p*1e6) / 1e6
}

// match ranks how well sd matches query: 0 exact symbol, 1 symbol prefix,
// 2 name prefix, 3 name contains, -1 no match
func match(sd seed, query string) int {
	upper := baseCryptoSymbol(query)
	lower := strings.ToLower(strings.TrimSpace(query))
	name := strings.ToLower(sd.Name)
	switch {
	case sd.Symbol == upper:
		return 0
	case strings.HasPrefix(sd.Symbol, upper):
		return 1
	case strings.HasPrefix(name, lower):
		return 2
	case len(lower) >= 3 && strings.Contains(name, lower):
		return 3
	}
	return -1
}

// Resolve returns every seeded asset matching query, best matches first
func (s *StaticTable) Resolve(ctx context.Context, query string) ([]Quote, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	type ranked struct {
		rank int
		sd   seed
	}
	var hits []ranked
	for _, sd := range staticSeeds {
		if r := match(sd, query); r >= 0 {
			hits = append(hits, ranked{r, sd})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	out := make([]Quote, 0, len(hits))
	for _, h := range hits {
		out = append(out, s.quoteFor(h.sd))
	}
	return out, nil
}

var historyLength = map[Interval]int{
	IntervalIntraday: 100,
	IntervalDaily:    120,
	IntervalWeekly:   104,
	IntervalMonthly:  60,
}

// History synthesizes a deterministic random walk ending at the current
// static price, seeded by symbol and interval.
func (s *StaticTable) History(ctx context.Context, symbol string, interval Interval) (*PriceSeries, error) {
	sd, ok := seedBySymbol[baseCryptoSymbol(symbol)]
	if !ok {
		return nil, ErrNotFound
	}
	n, ok := historyLength[interval]
	if !ok {
		return nil, fmt.Errorf("unknown interval %q", interval)
	}

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s", sd.Symbol, interval)
	rng := rand.New(rand.NewSource(int64(h.Sum64() >> 1)))

	stepVol := 0.015
	if sd.Type == AssetCrypto {
		stepVol = 0.03
	}
	if interval == IntervalIntraday {
		stepVol /= 5
	}

	step := interval.Step()
	end := s.now().Truncate(step)
	price := s.quoteFor(sd).Price

	points := make([]PricePoint, n)
	for i := n - 1; i >= 0; i-- {
		points[i] = PricePoint{
			Timestamp: end.Add(-time.Duration(n-1-i) * step),
			Price:     roundPrice(price),
			Volume:    math.Round(sd.Volume * (0.6 + 0.8*rng.Float64())),
		}
		// walk backwards
		price = price / (1 + rng.NormFloat64()*stepVol)
		if price <= 0 {
			price = sd.Price
		}
	}

	return &PriceSeries{
		Symbol:   sd.Symbol,
		Interval: interval,
		Points:   points,
		Source:   s.Name(),
	}, nil
}

// Fundamentals synthesizes fundamentals and a rating breakdown for seeded assets
func (s *StaticTable) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	sd, ok := seedBySymbol[baseCryptoSymbol(symbol)]
	if !ok {
		return nil, ErrNotFound
	}
	q := s.quoteFor(sd)

	h := fnv.New32a()
	h.Write([]byte(sd.Symbol))
	sum := h.Sum32()

	f := &Fundamentals{
		Symbol:    sd.Symbol,
		Name:      sd.Name,
		MarketCap: q.MarketCap,
		PERatio:   q.PERatio,
		Sector:    q.Sector,
		Source:    s.Name(),
	}
	if sd.Type == AssetStock {
		f.AnalystRatings = AnalystRatings{
			StrongBuy:   int(sum % 8),
			Buy:         int(sum>>3%12) + 2,
			Hold:        int(sum>>7%10) + 1,
			Sell:        int(sum >> 11 % 3),
			StrongSell:  int(sum >> 13 % 2),
			TargetPrice: null.FloatFrom(roundPrice(sd.Price * 1.1)),
		}
	}
	return f, nil
}
