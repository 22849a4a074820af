package chi

import (
	"net/http"
	"sort"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

// subscriberResponse never carries the secret or header values
type subscriberResponse struct {
	Name        string               `json:"name"`
	UserID      string               `json:"user_id,omitempty"`
	URL         string               `json:"url"`
	Events      []string             `json:"events"`
	HeaderNames []string             `json:"header_names,omitempty"`
	Signed      bool                 `json:"signed"`
	Transform   string               `json:"transform,omitempty"`
	RetryPolicy *webhook.RetryPolicy `json:"retry_policy,omitempty"`
	Enabled     bool                 `json:"enabled"`
}

// getSubscribers handles GET /v1/subscribers
func getSubscribers(lister SubscriberLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all := lister.List()

		responses := make([]subscriberResponse, 0, len(all))
		for _, sub := range all {
			names := make([]string, 0, len(sub.Headers))
			for name := range sub.Headers {
				names = append(names, name)
			}
			sort.Strings(names)

			responses = append(responses, subscriberResponse{
				Name:        sub.Name,
				UserID:      sub.UserID,
				URL:         webhook.MaskURL(sub.URL),
				Events:      sub.Events,
				HeaderNames: names,
				Signed:      sub.Secret != "",
				Transform:   sub.Transform,
				RetryPolicy: sub.RetryPolicy,
				Enabled:     sub.Enabled,
			})
		}

		writeJSON(w, r, http.StatusOK, responses)
	})
}
