package types

// Response carries the challenge outcome a successful session produced.
// Fields are populated per task type: Turnstile/Recaptcha fill Token,
// Cloudflare fills Cookies and Headers, Content is optional page HTML.
type Response struct {
	Token   string            `json:"token,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Content string            `json:"content,omitempty"`
}

// Result is the terminal outcome of a task.
type Result struct {
	Success        bool      `json:"success"`
	Code           int       `json:"code"`
	Response       *Response `json:"response,omitempty"`
	Error          string    `json:"error,omitempty"`
	Data           *Task     `json:"data,omitempty"`
	ScreencastFile string    `json:"screencastFile,omitempty"`
}

// NewErrorResult builds a failed result with the given HTTP-style code.
func NewErrorResult(code int, msg string, task *Task) *Result {
	return &Result{Success: false, Code: code, Error: msg, Data: task}
}

// NewSuccessResult builds a successful result.
func NewSuccessResult(resp *Response, task *Task) *Result {
	return &Result{Success: true, Code: 200, Response: resp, Data: task}
}
