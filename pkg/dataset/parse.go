package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/iamgideonidoko/geoshield/pkg/iprange"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

var ErrEmptyDataset = errors.New("dataset is empty")

// maxRowWarnings bounds per-row warnings so a broken mirror cannot flood the log.
const maxRowWarnings = 20

var headerNames = map[string]bool{
	"start_ip": true,
	"start":    true,
	"begin":    true,
}

// CountryRanges is the parsed form of a start_ip,end_ip,country_code CSV.
type CountryRanges struct {
	V4      []iprange.Range[string]
	V6      []iprange.Range[string]
	Skipped int
}

// ParseCountryCSV reads start_ip,end_ip,country_code rows. A header row is
// optional. Rows with fewer than three columns or unparseable addresses are
// skipped; only an empty input is an error.
func ParseCountryCSV(r io.Reader) (*CountryRanges, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	result := &CountryRanges{}
	rows := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rows++

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			result.skip(rows, parseErr.Error())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read country CSV: %w", err)
		}

		if rows == 1 && len(record) > 0 && headerNames[strings.ToLower(strings.TrimSpace(record[0]))] {
			continue
		}
		if len(record) < 3 {
			result.Skipped++
			continue
		}

		family, rng, err := parseCountryRow(record[0], record[1], record[2])
		if err != nil {
			result.skip(rows, err.Error())
			continue
		}
		if family == iprange.V4 {
			result.V4 = append(result.V4, rng)
		} else {
			result.V6 = append(result.V6, rng)
		}
	}

	if rows == 0 {
		return nil, ErrEmptyDataset
	}
	if result.Skipped > maxRowWarnings {
		logger.Warn("Skipped malformed country rows", map[string]any{
			"skipped": result.Skipped,
		})
	}
	return result, nil
}

func (c *CountryRanges) skip(row int, reason string) {
	c.Skipped++
	if c.Skipped <= maxRowWarnings {
		logger.Warn("Skipping malformed country row", map[string]any{
			"row":    row,
			"reason": reason,
		})
	}
}

func parseCountryRow(startIP, endIP, country string) (iprange.Family, iprange.Range[string], error) {
	start, err := netip.ParseAddr(strings.TrimSpace(startIP))
	if err != nil {
		return 0, iprange.Range[string]{}, fmt.Errorf("parse start IP %q: %w", startIP, err)
	}
	end, err := netip.ParseAddr(strings.TrimSpace(endIP))
	if err != nil {
		return 0, iprange.Range[string]{}, fmt.Errorf("parse end IP %q: %w", endIP, err)
	}

	family, s, _ := iprange.FromAddr(start)
	endFamily, e, _ := iprange.FromAddr(end)
	if family != endFamily {
		return 0, iprange.Range[string]{}, fmt.Errorf("mismatched IP families (%q, %q)", startIP, endIP)
	}
	if e.Less(s) {
		return 0, iprange.Range[string]{}, fmt.Errorf("start IP %q exceeds end IP %q", startIP, endIP)
	}

	return family, iprange.Range[string]{
		Start: s,
		End:   e,
		Label: strings.ToUpper(strings.TrimSpace(country)),
	}, nil
}

// ParseSubnetList reads one CIDR block per line. Blank lines and lines
// starting with '#' are ignored; invalid blocks are logged and dropped. A bare
// address is read as a single-host block.
func ParseSubnetList(r io.Reader) ([]netip.Prefix, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var prefixes []netip.Prefix
	invalid := 0
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		prefix, err := parsePrefix(line)
		if err != nil {
			invalid++
			if invalid <= maxRowWarnings {
				logger.Warn("Invalid subnet format", map[string]any{
					"line":   lineNumber,
					"subnet": line,
					"error":  err.Error(),
				})
			}
			continue
		}
		prefixes = append(prefixes, prefix)
	}

	if err := scanner.Err(); err != nil {
		return prefixes, invalid, fmt.Errorf("failed to scan subnet list: %w", err)
	}
	return prefixes, invalid, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return prefix.Masked(), nil
}

// SubnetRanges converts CIDR blocks to integer ranges split by family.
func SubnetRanges(prefixes []netip.Prefix) (v4, v6 []iprange.Range[struct{}]) {
	for _, p := range prefixes {
		family, r, ok := iprange.FromPrefix(p)
		if !ok {
			continue
		}
		if family == iprange.V4 {
			v4 = append(v4, r)
		} else {
			v6 = append(v6, r)
		}
	}
	return v4, v6
}
