package callback

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
)

// Outcome is the canonical result of a callback.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePending Outcome = "pending"
	OutcomeFailure Outcome = "failure"
)

// Format identifies which upstream wire shape a payload used.
type Format string

const (
	// FormatProvider is the nested {data:{ref_id,status,rc,message,sn}} shape.
	FormatProvider Format = "provider"
	// FormatDirect is the flat {ref_id,success,status_code,...} shape.
	FormatDirect Format = "direct"
)

const (
	rcSuccess = "00"
	rcPending = "03"

	// DefaultFailureMessage is used when the provider reports a failure
	// without a message.
	DefaultFailureMessage = "Transaksi gagal"
)

// Classified is a callback payload normalized into the canonical model.
type Classified struct {
	RefID        string
	Format       Format
	Outcome      Outcome
	StatusLabel  transaction.StatusLabel
	StatusCode   int
	Success      *bool
	ErrorMessage *string
	SerialNumber *string
	ResponseData json.RawMessage
	Raw          json.RawMessage
}

// Update converts the classification into a partial transaction update.
// Only fields carried by the classification are set.
func (c Classified) Update(receivedAt time.Time) transaction.Update {
	code := c.StatusCode
	label := c.StatusLabel
	u := transaction.Update{
		StatusCode:   &code,
		StatusLabel:  &label,
		ResponseData: c.ResponseData,
		RawResponse:  c.Raw,
		ResponseTime: &receivedAt,
	}
	if c.Success != nil {
		v := *c.Success
		u.Success = &v
	}
	if c.ErrorMessage != nil {
		v := *c.ErrorMessage
		u.ErrorMessage = &v
	}
	switch {
	case c.SerialNumber != nil && c.Outcome == OutcomeSuccess:
		v := *c.SerialNumber
		u.SerialNumber = &v
	case c.Outcome == OutcomeFailure:
		u.ClearSerialNumber = true
	}
	return u
}

type providerData struct {
	RefID   flexString `json:"ref_id"`
	Status  flexString `json:"status"`
	RC      flexString `json:"rc"`
	Message flexString `json:"message"`
	SN      flexString `json:"sn"`
}

type directPayload struct {
	RefID        flexString      `json:"ref_id"`
	Success      json.RawMessage `json:"success"`
	StatusCode   flexString      `json:"status_code"`
	Status       flexString      `json:"status"`
	ResponseData json.RawMessage `json:"response_data"`
	ErrorMessage *string         `json:"error_message"`
}

// Classify normalizes a raw callback body. It performs no I/O.
func Classify(raw []byte) (Classified, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Classified{}, domainErrors.ErrMalformedPayload
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Classified{}, domainErrors.ErrMalformedPayload
	}

	if data, ok := envelope["data"]; ok && isObject(data) {
		var pd providerData
		if err := json.Unmarshal(data, &pd); err == nil && strings.TrimSpace(string(pd.RefID)) != "" {
			return classifyProvider(pd, data, raw), nil
		}
	}

	var dp directPayload
	if err := json.Unmarshal(raw, &dp); err != nil {
		return Classified{}, domainErrors.ErrMalformedPayload
	}
	return classifyDirect(dp, raw)
}

func classifyProvider(pd providerData, data, raw json.RawMessage) Classified {
	status := strings.TrimSpace(string(pd.Status))
	rc := strings.TrimSpace(string(pd.RC))

	c := Classified{
		RefID:        strings.TrimSpace(string(pd.RefID)),
		Format:       FormatProvider,
		ResponseData: append(json.RawMessage(nil), data...),
		Raw:          append(json.RawMessage(nil), raw...),
	}

	switch {
	case strings.EqualFold(status, "pending") || rc == rcPending:
		c.Outcome = OutcomePending
		c.StatusLabel = transaction.LabelPending
		c.StatusCode = 202
	case strings.EqualFold(status, "sukses") || rc == rcSuccess:
		c.Outcome = OutcomeSuccess
		c.StatusLabel = transaction.LabelSukses
		c.StatusCode = 200
		c.Success = boolPtr(true)
		if sn := strings.TrimSpace(string(pd.SN)); sn != "" {
			c.SerialNumber = &sn
		}
	default:
		c.Outcome = OutcomeFailure
		c.StatusLabel = transaction.LabelGagal
		c.StatusCode = 400
		c.Success = boolPtr(false)
		msg := strings.TrimSpace(string(pd.Message))
		if msg == "" {
			msg = DefaultFailureMessage
		}
		c.ErrorMessage = &msg
	}
	return c
}

func classifyDirect(dp directPayload, raw json.RawMessage) (Classified, error) {
	refID := strings.TrimSpace(string(dp.RefID))
	if refID == "" {
		return Classified{}, domainErrors.ErrMissingRefID
	}

	c := Classified{
		RefID:        refID,
		Format:       FormatDirect,
		ErrorMessage: dp.ErrorMessage,
		Raw:          append(json.RawMessage(nil), raw...),
	}
	if len(dp.ResponseData) > 0 && string(dp.ResponseData) != "null" {
		c.ResponseData = append(json.RawMessage(nil), dp.ResponseData...)
	}

	success, set, err := parseTriState(dp.Success)
	if err != nil {
		return Classified{}, domainErrors.ErrMalformedPayload
	}

	switch {
	case set && success:
		c.Outcome = OutcomeSuccess
		c.StatusLabel = transaction.LabelSukses
		c.Success = boolPtr(true)
		c.StatusCode = 200
	case set:
		c.Outcome = OutcomeFailure
		c.StatusLabel = transaction.LabelGagal
		if provided := transaction.StatusLabel(strings.TrimSpace(string(dp.Status))); provided.Valid() {
			c.StatusLabel = provided
		}
		c.Success = boolPtr(false)
		c.StatusCode = 400
	default:
		c.Outcome = OutcomePending
		c.StatusLabel = transaction.LabelUnknown
		c.StatusCode = 202
	}

	if code := strings.TrimSpace(string(dp.StatusCode)); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil {
			return Classified{}, domainErrors.NewValidationError("status_code", "must be an integer")
		}
		c.StatusCode = n
	}
	return c, nil
}

// parseTriState reads an optional boolean that upstream sometimes sends as
// a string or 0/1.
func parseTriState(raw json.RawMessage) (value bool, set bool, err error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return false, false, nil
	}
	s = strings.Trim(s, `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		return true, true, nil
	case "false", "0":
		return false, true, nil
	case "":
		return false, false, nil
	}
	return false, false, domainErrors.ErrMalformedPayload
}

// flexString accepts a JSON string, number or bool and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func boolPtr(b bool) *bool { return &b }
