package classifier

import (
	"bytes"
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/iamgideonidoko/geoshield/internal/metrics"
	"github.com/iamgideonidoko/geoshield/pkg/dataset"
	"github.com/iamgideonidoko/geoshield/pkg/iprange"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

const countryName = "country"

// CountryClassifier maps an IP address to an ISO 3166-1 alpha-2 country code.
type CountryClassifier struct {
	loader *loader[string]
}

func NewCountryClassifier(src dataset.Source, fetcher *dataset.Fetcher) *CountryClassifier {
	return &CountryClassifier{
		loader: newLoader(countryName, src, fetcher, buildCountryIndex),
	}
}

func buildCountryIndex(data []byte) (*iprange.Index[string], error) {
	parsed, err := dataset.ParseCountryCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	idx := iprange.Build(parsed.V4, parsed.V6)
	for _, fam := range []iprange.Family{iprange.V4, iprange.V6} {
		if n := idx.Overlaps(fam); n > 0 {
			logger.Warn("Country dataset contains overlapping ranges", map[string]any{
				"family":   fam.String(),
				"overlaps": n,
			})
		}
	}
	if parsed.Skipped > 0 {
		logger.Warn("Skipped malformed country rows", map[string]any{
			"skipped": parsed.Skipped,
		})
	}
	return idx, nil
}

// Classify returns the country code for ip. Malformed input, an unloaded
// index and addresses outside every range all report false.
func (c *CountryClassifier) Classify(ip string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		metrics.ClassifierLookups.WithLabelValues(countryName, "invalid").Inc()
		return "", false
	}

	idx := c.loader.current(context.Background())
	if idx == nil {
		metrics.ClassifierLookups.WithLabelValues(countryName, "unavailable").Inc()
		return "", false
	}

	code, ok := idx.Lookup(addr)
	if !ok {
		metrics.ClassifierLookups.WithLabelValues(countryName, "miss").Inc()
		return "", false
	}
	metrics.ClassifierLookups.WithLabelValues(countryName, "hit").Inc()
	return code, true
}

// Init loads the index if it is not loaded yet. The returned error wraps
// ErrNotReady when no dataset could be read.
func (c *CountryClassifier) Init(ctx context.Context) error {
	return c.loader.init(ctx)
}

// Refresh rebuilds the index and swaps it in. force skips the cache age check.
func (c *CountryClassifier) Refresh(ctx context.Context, force bool) error {
	return c.loader.refresh(ctx, force)
}

// Run refreshes the index every interval (the source MaxAge when zero) until
// ctx is done.
func (c *CountryClassifier) Run(ctx context.Context, interval time.Duration) {
	c.loader.run(ctx, interval)
}

func (c *CountryClassifier) Status() Status {
	return c.loader.getStatus()
}
