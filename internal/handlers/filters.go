package handlers

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"retail-dashboard/internal/errors"
	"retail-dashboard/internal/models"
)

// selectionParams is the filter state as sent by a client, either as
// query parameters or as Datastar signals.
type selectionParams struct {
	Countries   []string `json:"countries"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Granularity string   `json:"granularity"`
	Page        int      `json:"page"`
}

func paramsFromQuery(q url.Values) selectionParams {
	return selectionParams{
		Countries:   splitList(q["country"]),
		From:        q.Get("from"),
		To:          q.Get("to"),
		Granularity: q.Get("granularity"),
	}
}

// splitList flattens repeated and comma separated values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// toSelection converts client parameters. Unparsable values are a bad
// request; a range whose start is after its end fails validation.
func (p selectionParams) toSelection() (models.Selection, *errors.AppError) {
	sel := models.Selection{Countries: splitList(p.Countries)}

	var err error
	if sel.From, err = parseDate(p.From); err != nil {
		return sel, errors.BadRequestWrap(err, fmt.Sprintf("Invalid from date %q, expected YYYY-MM-DD", p.From))
	}
	if sel.To, err = parseDate(p.To); err != nil {
		return sel, errors.BadRequestWrap(err, fmt.Sprintf("Invalid to date %q, expected YYYY-MM-DD", p.To))
	}
	if sel.Granularity, err = models.ParseGranularity(p.Granularity); err != nil {
		return sel, errors.BadRequestWrap(err, fmt.Sprintf("Invalid granularity %q, expected day or month", p.Granularity))
	}
	if err := sel.Validate(); err != nil {
		return sel, errors.ValidationWrap(err, "From date must not be after to date")
	}
	return sel, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(models.DateLayout, s, time.UTC)
}

// intParam reads a non-negative integer query parameter.
func intParam(q url.Values, name string, def int) (int, *errors.AppError) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.BadRequest(fmt.Sprintf("Invalid %s %q, expected a non-negative integer", name, raw))
	}
	return n, nil
}
