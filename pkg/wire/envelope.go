package wire

import (
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

// Response is the JSON envelope used by every HTTP surface in the
// gateway. Exactly one of Result or Error/Code is populated.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	State  string          `json:"state,omitempty"`
}

// WriteResult writes a successful envelope with the given result.
func WriteResult(w http.ResponseWriter, status int, result interface{}) {
	resp := Response{OK: true}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			WriteError(w, Errorf(CodeInternal, "encode result: "+err.Error()))
			return
		}
		resp.Result = raw
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes a failure envelope, choosing the HTTP status from
// the wire code.
func WriteError(w http.ResponseWriter, err error) {
	we, ok := err.(*Error)
	if !ok {
		we = &Error{Code: CodeInternal, Message: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(we.Code))
	_ = json.NewEncoder(w).Encode(Response{
		OK:    false,
		Error: we.Message,
		Code:  we.Code,
		State: we.State,
	})
}

func httpStatus(code string) int {
	switch code {
	case CodeUnauthorized, CodeAuthFailed:
		return http.StatusUnauthorized
	case CodeUnknownBank, CodeUnknownUser, CodeUnknownTxn, CodeUnknownService:
		return http.StatusNotFound
	case CodeDuplicateTxn, CodeConflictingHold:
		return http.StatusConflict
	case CodeInsufficientFunds, CodeNotPrepared:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ReadRequest decodes a JSON request body into target.
func ReadRequest(r *http.Request, target interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Errorf(CodeInternal, "read request body: "+err.Error())
	}
	defer r.Body.Close()

	if len(body) == 0 {
		return Errorf(CodeInternal, "empty request body")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return Errorf(CodeInternal, "invalid JSON: "+err.Error())
	}
	return nil
}

// DecodeResponse parses a response envelope and, on failure envelopes,
// reconstructs the wire error. The result payload (if any) is decoded
// into target when target is non-nil.
func DecodeResponse(body []byte, target interface{}) error {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse response envelope: %w", err)
	}
	if !resp.OK {
		code := resp.Code
		if code == "" {
			code = CodeInternal
		}
		return &Error{Code: code, Message: resp.Error, State: resp.State}
	}
	if target != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, target); err != nil {
			return fmt.Errorf("parse response result: %w", err)
		}
	}
	return nil
}
