package schedule

import "time"

// Info describes one recurring database action and its upcoming fire times.
type Info struct {
	Action      string   `json:"action"`
	Expression  string   `json:"expression"`
	Description string   `json:"description"`
	Timezone    string   `json:"timezone"`
	Next        []string `json:"next"`
}

// Upcoming parses the stop and start expressions and lists, for each, the
// next count fire times after now in RFC 3339.
func Upcoming(stop, start string, now time.Time, count int) ([]Info, error) {
	entries := []struct{ action, expr string }{
		{"stop", stop},
		{"start", start},
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		expr, err := Parse(e.expr)
		if err != nil {
			return nil, err
		}
		info := Info{
			Action:      e.action,
			Expression:  expr.String(),
			Description: expr.Describe(),
			Timezone:    "UTC",
		}
		for _, t := range expr.NextN(now.UTC(), count) {
			info.Next = append(info.Next, t.Format(time.RFC3339))
		}
		out = append(out, info)
	}
	return out, nil
}
