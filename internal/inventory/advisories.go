package inventory

import (
	_ "embed"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AdvisorySeason  = "season"
	AdvisoryHoliday = "holiday"
)

type Advisory struct {
	Code    string   `json:"code" yaml:"code"`
	Kind    string   `json:"kind" yaml:"kind"`
	Title   string   `json:"title" yaml:"title"`
	Start   string   `json:"start" yaml:"start"`
	End     string   `json:"end" yaml:"end"`
	Flowers []string `json:"flowers" yaml:"flowers"`
	Message string   `json:"message" yaml:"message"`
}

//go:embed advisories.yaml
var catalogYAML []byte

type catalogEntry struct {
	Advisory
	start int
	end   int
}

var catalog = mustLoadCatalog(catalogYAML)

func mustLoadCatalog(raw []byte) []catalogEntry {
	entries, err := loadCatalog(raw)
	if err != nil {
		panic(fmt.Sprintf("inventory: invalid advisory catalog: %v", err))
	}
	return entries
}

func loadCatalog(raw []byte) ([]catalogEntry, error) {
	var doc struct {
		Advisories []Advisory `yaml:"advisories"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	entries := make([]catalogEntry, 0, len(doc.Advisories))
	for _, adv := range doc.Advisories {
		if adv.Kind != AdvisorySeason && adv.Kind != AdvisoryHoliday {
			return nil, fmt.Errorf("advisory %s: unknown kind %q", adv.Code, adv.Kind)
		}
		start, err := parseMonthDay(adv.Start)
		if err != nil {
			return nil, fmt.Errorf("advisory %s: start: %w", adv.Code, err)
		}
		end, err := parseMonthDay(adv.End)
		if err != nil {
			return nil, fmt.Errorf("advisory %s: end: %w", adv.Code, err)
		}
		entries = append(entries, catalogEntry{Advisory: adv, start: start, end: end})
	}
	return entries, nil
}

// parseMonthDay turns "MM-DD" into the sortable key MM*100+DD.
func parseMonthDay(raw string) (int, error) {
	month, day, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return 0, fmt.Errorf("expected MM-DD, got %q", raw)
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return 0, fmt.Errorf("invalid month in %q", raw)
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return 0, fmt.Errorf("invalid day in %q", raw)
	}
	return m*100 + d, nil
}

func (e catalogEntry) covers(key int) bool {
	if e.start <= e.end {
		return key >= e.start && key <= e.end
	}
	return key >= e.start || key <= e.end
}

// Advisories yields, in catalog order, every season and holiday advisory
// whose window contains the calendar day of now.
func Advisories(now time.Time) iter.Seq[Advisory] {
	key := int(now.Month())*100 + now.Day()
	return func(yield func(Advisory) bool) {
		for _, entry := range catalog {
			if !entry.covers(key) {
				continue
			}
			adv := entry.Advisory
			adv.Flowers = append([]string(nil), entry.Flowers...)
			if !yield(adv) {
				return
			}
		}
	}
}
