package capability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/montanaflynn/stats"
)

// DataAnalysis summarizes a list of numbers.
func DataAnalysis() Capability {
	return Func{
		ToolName: "data_analysis",
		Help:     "describe a list of numbers (count, sum, mean, median, min, max, stddev), e.g. data_analysis: 3, 5, 8",
		Fn: func(_ context.Context, input string) (string, error) {
			data, err := parseNumbers(input)
			if err != nil {
				return "", err
			}
			return describe(data)
		},
	}
}

func parseNumbers(input string) (stats.Float64Data, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '，' || r == '[' || r == ']'
	})

	var data stats.Float64Data
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", f)
		}
		data = append(data, v)
	}
	if len(data) == 0 {
		return nil, errors.New("no numbers given")
	}
	return data, nil
}

func describe(data stats.Float64Data) (string, error) {
	sum, err := stats.Sum(data)
	if err != nil {
		return "", err
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return "", err
	}
	median, err := stats.Median(data)
	if err != nil {
		return "", err
	}
	lo, err := stats.Min(data)
	if err != nil {
		return "", err
	}
	hi, err := stats.Max(data)
	if err != nil {
		return "", err
	}
	sd, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("count=%d sum=%s mean=%s median=%s min=%s max=%s stddev=%s",
		data.Len(), num(sum), num(mean), num(median), num(lo), num(hi), num(sd)), nil
}

// num prints f with at most four decimals and no trailing zeros.
func num(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
