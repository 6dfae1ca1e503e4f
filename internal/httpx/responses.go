package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform body of every response.
type Envelope struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message,omitempty"`
	Count       *int          `json:"count,omitempty"`
	Total       *int64        `json:"total,omitempty"`
	TotalPages  *int          `json:"totalPages,omitempty"`
	CurrentPage *int          `json:"currentPage,omitempty"`
	Data        interface{}   `json:"data,omitempty"`
	Error       string        `json:"error,omitempty"`
	Details     []ErrorDetail `json:"details,omitempty"`
	RequestID   string        `json:"requestId,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Pagination adds the listing counters to an envelope.
type Pagination struct {
	Total       int64
	TotalPages  int
	CurrentPage int
}

func writeJSON(w http.ResponseWriter, statusCode int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// JSONSuccess writes {success:true, message?, data}.
func JSONSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	writeJSON(w, statusCode, Envelope{Success: true, Message: message, Data: data})
}

// JSONList writes {success:true, count, data} plus pagination counters when p
// is not nil. data is always present, even when empty.
func JSONList(w http.ResponseWriter, count int, data interface{}, p *Pagination) {
	env := Envelope{Success: true, Count: &count, Data: rawData{data}}
	if p != nil {
		env.Total = &p.Total
		env.TotalPages = &p.TotalPages
		env.CurrentPage = &p.CurrentPage
	}
	writeJSON(w, http.StatusOK, env)
}

// JSONMessage writes {success:true, message}.
func JSONMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message})
}

// JSONError writes {success:false, message, error?, details?}.
func JSONError(w http.ResponseWriter, statusCode int, message string, errText string, details []ErrorDetail) {
	writeJSON(w, statusCode, Envelope{
		Success: false,
		Message: message,
		Error:   errText,
		Details: details,
	})
}

// JSONErrorWithRequest is JSONError with the request id echoed in the body.
func JSONErrorWithRequest(r *http.Request, w http.ResponseWriter, statusCode int, message string, errText string, details []ErrorDetail) {
	writeJSON(w, statusCode, Envelope{
		Success:   false,
		Message:   message,
		Error:     errText,
		Details:   details,
		RequestID: RequestIDFrom(r),
	})
}

// rawData keeps empty slices from being dropped by omitempty.
type rawData struct {
	v interface{}
}

func (d rawData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.v)
}
