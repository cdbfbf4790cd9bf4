// Package logproxy translates shorthand log links into Kibana queries.
package logproxy

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

var uuidRegex = regexp.MustCompile("^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$")

// Config points the log redirect at a Kibana frontend and index.
type Config struct {
	URL   string
	Index string
}

// MakeURL renders the shorthand log link included in deployment responses.
func MakeURL(baseURL, correlationID string, timestamp time.Time) string {
	return fmt.Sprintf("%s/logs?correlation_id=%s&ts=%d&v=1", baseURL, correlationID, timestamp.Unix())
}

func MakeHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		badrequest := func(err error) {
			w.WriteHeader(http.StatusBadRequest)
			log.Error(err)
			_, err = w.Write([]byte(err.Error() + "\n"))
			if err != nil {
				log.Errorf("unable to answer http request: %s", err)
			}
		}

		correlationID := r.URL.Query().Get("correlation_id")
		timestamp := r.URL.Query().Get("ts")
		sversion := r.URL.Query().Get("v")
		version, _ := strconv.Atoi(sversion)

		if !uuidRegex.MatchString(correlationID) {
			badrequest(fmt.Errorf("correlation_id '%s' is not a well-formed UUID", correlationID))
			return
		}

		unixtime, err := strconv.Atoi(timestamp)
		if err != nil {
			badrequest(fmt.Errorf("ts '%s' is not a well-formed unix timestamp: %s", timestamp, err))
			return
		}

		if version != 1 {
			badrequest(fmt.Errorf("version '%s' is not supported", sversion))
			return
		}

		utctime := time.Unix(int64(unixtime), 0).UTC()
		url, err := formatKibana(cfg, correlationID, utctime)
		if err != nil {
			badrequest(err)
			return
		}

		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}
