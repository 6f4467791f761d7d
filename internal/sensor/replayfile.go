package sensor

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/openventio/ventcore/internal/errors"
)

// loadSeries reads a replay series from a text file, one value per line.
// Blank lines and #-comments are skipped.
func loadSeries(path string) ([]float64, error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrUnknownSource, err)
	}
	defer f.Close()

	var series []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, errFactory.WithData(errors.ErrUnknownSource, path+": "+line)
		}
		series = append(series, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, errFactory.Wrap(errors.ErrUnknownSource, err)
	}

	return series, nil
}
