package classifier

import (
	"bytes"
	"context"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/iamgideonidoko/geoshield/internal/metrics"
	"github.com/iamgideonidoko/geoshield/pkg/dataset"
	"github.com/iamgideonidoko/geoshield/pkg/iprange"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

const vpnName = "vpn"

// VPNClassifier reports whether an address belongs to a known VPN or hosting
// subnet. Overlapping and adjacent subnets are merged before indexing.
type VPNClassifier struct {
	loader       *loader[struct{}]
	disabledOnce sync.Once
}

func NewVPNClassifier(src dataset.Source, fetcher *dataset.Fetcher) *VPNClassifier {
	v := &VPNClassifier{}
	v.loader = newLoader(vpnName, src, fetcher, v.build)
	return v
}

func (v *VPNClassifier) build(data []byte) (*iprange.Index[struct{}], error) {
	prefixes, invalid, err := dataset.ParseSubnetList(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if invalid > 0 {
		logger.Warn("Skipped invalid VPN subnets", map[string]any{
			"invalid": invalid,
		})
	}

	v4, v6 := dataset.SubnetRanges(prefixes)
	idx := iprange.BuildMerged(v4, v6)
	if idx.Len(iprange.V4)+idx.Len(iprange.V6) == 0 {
		v.disabled("subnet list is empty")
	}
	return idx, nil
}

func (v *VPNClassifier) disabled(reason string) {
	v.disabledOnce.Do(func() {
		logger.Warn("VPN detection will be disabled", map[string]any{
			"reason": reason,
		})
	})
}

// IsVPN reports whether ip falls inside a listed subnet. Malformed input and
// an unavailable list report false.
func (v *VPNClassifier) IsVPN(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		metrics.ClassifierLookups.WithLabelValues(vpnName, "invalid").Inc()
		return false
	}

	idx := v.loader.current(context.Background())
	if idx == nil {
		v.disabled("subnet list could not be loaded")
		metrics.ClassifierLookups.WithLabelValues(vpnName, "unavailable").Inc()
		return false
	}

	if _, ok := idx.Lookup(addr); ok {
		metrics.ClassifierLookups.WithLabelValues(vpnName, "hit").Inc()
		return true
	}
	metrics.ClassifierLookups.WithLabelValues(vpnName, "miss").Inc()
	return false
}

func (v *VPNClassifier) Init(ctx context.Context) error {
	return v.loader.init(ctx)
}

func (v *VPNClassifier) Refresh(ctx context.Context, force bool) error {
	return v.loader.refresh(ctx, force)
}

func (v *VPNClassifier) Run(ctx context.Context, interval time.Duration) {
	v.loader.run(ctx, interval)
}

func (v *VPNClassifier) Status() Status {
	return v.loader.getStatus()
}
