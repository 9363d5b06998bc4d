package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const (
	TotalLabel       = "TOTAL"
	TotalTokensLabel = "TOTAL TOKENS"
)

type tally struct {
	dimension string
	label     string
	count     int
	order     int
}

type counter struct {
	items map[[2]string]*tally
	total int
}

func newCounter() *counter {
	return &counter{items: make(map[[2]string]*tally)}
}

func (c *counter) add(dimension, label string) {
	key := [2]string{dimension, label}
	item, ok := c.items[key]
	if !ok {
		item = &tally{dimension: dimension, label: label, order: len(c.items)}
		c.items[key] = item
	}
	item.count++
	c.total++
}

// sorted orders by count descending, then by first appearance.
func (c *counter) sorted() []*tally {
	out := make([]*tally, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].order < out[j].order
	})
	return out
}

// AggregateSubjects counts every subject occurrence. The percentage pool is
// the total number of subject occurrences across all records.
func AggregateSubjects(records []domain.ClassifiedRecord, totalTokens int) domain.AggregateTable {
	c := newCounter()
	for _, record := range records {
		for _, label := range record.Subjects {
			c.add("", label)
		}
	}
	return buildTable(c, false, totalTokens)
}

// AggregateByDimension counts (dimension, subject) pairs. The pool is the
// total number of pairs, which equals the subject occurrence total, so both
// tables of one report share a denominator.
func AggregateByDimension(records []domain.ClassifiedRecord, fallback string, totalTokens int) domain.AggregateTable {
	c := newCounter()
	for _, record := range records {
		dimension := dimensionOf(record, fallback)
		for _, label := range record.Subjects {
			c.add(dimension, label)
		}
	}
	return buildTable(c, true, totalTokens)
}

// SummarizeDimensions reports the subject volume and the most frequent
// subject of every dimension value.
func SummarizeDimensions(records []domain.ClassifiedRecord, fallback string) []domain.DimensionSummary {
	perDimension := make(map[string]*counter)
	order := make([]string, 0)
	for _, record := range records {
		if len(record.Subjects) == 0 {
			continue
		}
		dimension := dimensionOf(record, fallback)
		c, ok := perDimension[dimension]
		if !ok {
			c = newCounter()
			perDimension[dimension] = c
			order = append(order, dimension)
		}
		for _, label := range record.Subjects {
			c.add(dimension, label)
		}
	}
	sort.Strings(order)

	out := make([]domain.DimensionSummary, 0, len(order))
	for _, dimension := range order {
		c := perDimension[dimension]
		items := c.sorted()
		details := make([]string, 0, len(items))
		for _, item := range items {
			details = append(details, fmt.Sprintf("%s: %d", item.label, item.count))
		}
		out = append(out, domain.DimensionSummary{
			Dimension:   dimension,
			TotalLabels: c.total,
			TopLabel:    items[0].label,
			Details:     strings.Join(details, ", "),
		})
	}
	return out
}

func dimensionOf(record domain.ClassifiedRecord, fallback string) string {
	if record.Auxiliary != "" {
		return record.Auxiliary
	}
	return fallback
}

func buildTable(c *counter, dimensioned bool, totalTokens int) domain.AggregateTable {
	items := c.sorted()
	rows := make([]domain.AggregateStat, 0, len(items)+2)
	for _, item := range items {
		rows = append(rows, domain.AggregateStat{
			Dimension:  item.dimension,
			Label:      item.label,
			Count:      item.count,
			Percentage: Percentage(item.count, c.total),
			Kind:       domain.StatKindLabel,
		})
	}

	totalPct := 0.0
	if c.total > 0 {
		totalPct = 100
	}
	rows = append(rows,
		domain.AggregateStat{Label: TotalLabel, Count: c.total, Percentage: totalPct, Kind: domain.StatKindTotal},
		domain.AggregateStat{Label: TotalTokensLabel, Count: totalTokens, Kind: domain.StatKindTotalTokens},
	)
	return domain.AggregateTable{Dimensioned: dimensioned, Rows: rows}
}

// Percentage returns count/pool*100 rounded to two decimals.
func Percentage(count, pool int) float64 {
	if pool <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(pool)*100*100) / 100
}
