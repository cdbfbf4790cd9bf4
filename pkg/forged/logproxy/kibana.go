package logproxy

import (
	"fmt"
	"time"

	"gopkg.in/sakura-internet/go-rison.v3"
)

// Kibana deep links carry two rison-encoded state objects, the search
// state (_a) and the global time range (_g).

type searchState struct {
	Index string `json:"index"`
	Query struct {
		Language string `json:"language"`
		Query    string `json:"query"`
	} `json:"query"`
}

type globalState struct {
	Time timeRange `json:"time"`
}

type timeRange struct {
	From string `json:"from"`
	Mode string `json:"mode"`
	To   string `json:"to"`
}

// coveringDay returns the UTC day containing ts. Pipeline runs are
// bounded well below 24 hours, so the day of the deployment covers all
// of its logs.
func coveringDay(ts time.Time) timeRange {
	start := ts.Truncate(24 * time.Hour)
	return timeRange{
		From: start.Format(time.RFC3339),
		Mode: "absolute",
		To:   start.Add(24 * time.Hour).Format(time.RFC3339),
	}
}

func formatKibana(cfg Config, correlationID string, ts time.Time) (string, error) {
	if len(cfg.URL) == 0 {
		return "", fmt.Errorf("no log frontend is configured")
	}

	search := searchState{Index: cfg.Index}
	search.Query.Language = "lucene"
	search.Query.Query = fmt.Sprintf("+correlation_id:%q -level:%q -level:%q", correlationID, "Trace", "Debug")

	a, _ := rison.Encode(search, rison.Rison)
	g, _ := rison.Encode(globalState{Time: coveringDay(ts)}, rison.Rison)

	return fmt.Sprintf("%s/app/kibana#/discover?_a=%s&_g=%s", cfg.URL, a, g), nil
}
