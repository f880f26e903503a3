package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/medallion-go/taxii/core/filter"
	"github.com/medallion-go/taxii/core/taxiierr"
)

// parseArgs copies every query parameter ("match[...]", "added_after",
// "next", "limit" and any other name) into a filter.Args map, verbatim,
// keeping the first value of each; unknown filter names are left for
// filter.Process to ignore.
func parseArgs(r *http.Request) filter.Args {
	args := filter.Args{}
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		args[key] = values[0]
	}
	return args
}

// parseLimit reads the page size from the "limit" query parameter, falling
// back to the Range header ("items=0-N") some TAXII clients still send.
// Returns nil if neither is present (no limit).
func parseLimit(r *http.Request) (*int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, taxiierr.New(taxiierr.BadRequest, "invalid limit value %q", raw)
		}
		return &n, nil
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		return nil, nil
	}
	n, err := parseRangeLimit(rangeHeader)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// parseRangeLimit parses a "items=start-end" Range header into a page
// size. Only start==0 is supported, since paging here is forward-only via
// opaque "next" tokens rather than arbitrary byte/item offsets.
func parseRangeLimit(header string) (int, error) {
	const prefix = "items="
	if !strings.HasPrefix(header, prefix) {
		return 0, taxiierr.New(taxiierr.BadRequest, "malformed Range header %q", header)
	}
	bounds := strings.SplitN(header[len(prefix):], "-", 2)
	if len(bounds) != 2 {
		return 0, taxiierr.New(taxiierr.BadRequest, "malformed Range header %q", header)
	}
	start, err := strconv.Atoi(bounds[0])
	if err != nil {
		return 0, taxiierr.New(taxiierr.BadRequest, "malformed Range header %q", header)
	}
	end, err := strconv.Atoi(bounds[1])
	if err != nil {
		return 0, taxiierr.New(taxiierr.BadRequest, "malformed Range header %q", header)
	}
	if start != 0 || end < start {
		return 0, taxiierr.New(taxiierr.RangeNotSatisfiable, "unsupported Range %q", header)
	}
	return end - start + 1, nil
}
