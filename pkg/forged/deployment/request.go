package deployment

// Attachment is a named data blob submitted together with a deployment
// request, encoded as an RFC 2397 data URL.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Request is the internal form of an admitted deployment request. The
// pre-shared secret is stripped before the request reaches this type.
type Request struct {
	Email         string       `json:"email"`
	Task          string       `json:"task"`
	Round         int          `json:"round"`
	Nonce         string       `json:"nonce"`
	Brief         string       `json:"brief"`
	Checks        []string     `json:"checks"`
	EvaluationURL string       `json:"evaluationURL"`
	Attachments   []Attachment `json:"attachments"`
}
