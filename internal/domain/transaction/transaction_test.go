package transaction_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelPtr(l transaction.StatusLabel) *transaction.StatusLabel { return &l }
func intPtr(i int) *int                                         { return &i }
func boolPtr(b bool) *bool                                      { return &b }
func strPtr(s string) *string                                   { return &s }

func TestStatusLabel_IsTerminal(t *testing.T) {
	assert.True(t, transaction.LabelSukses.IsTerminal())
	assert.True(t, transaction.LabelGagal.IsTerminal())
	assert.False(t, transaction.LabelPending.IsTerminal())
	assert.False(t, transaction.LabelUnknown.IsTerminal())
}

func TestStatusLabel_Valid(t *testing.T) {
	assert.True(t, transaction.LabelPending.Valid())
	assert.False(t, transaction.StatusLabel("sukses").Valid())
	assert.False(t, transaction.StatusLabel("").Valid())
}

func TestUpdate_Regresses(t *testing.T) {
	tests := []struct {
		name     string
		current  transaction.StatusLabel
		incoming *transaction.StatusLabel
		want     bool
	}{
		{"pending over sukses", transaction.LabelSukses, labelPtr(transaction.LabelPending), true},
		{"unknown over gagal", transaction.LabelGagal, labelPtr(transaction.LabelUnknown), true},
		{"sukses over gagal", transaction.LabelGagal, labelPtr(transaction.LabelSukses), false},
		{"sukses over pending", transaction.LabelPending, labelPtr(transaction.LabelSukses), false},
		{"pending over pending", transaction.LabelPending, labelPtr(transaction.LabelPending), false},
		{"no label", transaction.LabelSukses, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := transaction.Update{StatusLabel: tt.incoming}
			assert.Equal(t, tt.want, u.Regresses(tt.current))
		})
	}
}

func TestTransaction_Apply_PartialMerge(t *testing.T) {
	tx := &transaction.Transaction{
		RefID:       "R1",
		CustomerNo:  "0812",
		StatusLabel: transaction.LabelPending,
		StatusCode:  202,
	}

	now := time.Now()
	tx.Apply(transaction.Update{
		StatusCode:   intPtr(200),
		Success:      boolPtr(true),
		StatusLabel:  labelPtr(transaction.LabelSukses),
		SerialNumber: strPtr("SN1"),
		ResponseTime: &now,
	})

	assert.Equal(t, "0812", tx.CustomerNo)
	assert.Equal(t, 200, tx.StatusCode)
	require.NotNil(t, tx.Success)
	assert.True(t, *tx.Success)
	assert.Equal(t, transaction.LabelSukses, tx.StatusLabel)
	require.NotNil(t, tx.SerialNumber)
	assert.Equal(t, "SN1", *tx.SerialNumber)
	assert.Nil(t, tx.ErrorMessage)
}

func TestTransaction_Apply_NeverRegressesResolved(t *testing.T) {
	tx := &transaction.Transaction{
		RefID:        "R1",
		StatusLabel:  transaction.LabelSukses,
		StatusCode:   200,
		Success:      boolPtr(true),
		SerialNumber: strPtr("SN1"),
	}

	raw := json.RawMessage(`{"data":{"status":"Pending"}}`)
	tx.Apply(transaction.Update{
		StatusCode:  intPtr(202),
		StatusLabel: labelPtr(transaction.LabelPending),
		RawResponse: raw,
	})

	assert.Equal(t, transaction.LabelSukses, tx.StatusLabel)
	assert.Equal(t, 200, tx.StatusCode)
	assert.True(t, *tx.Success)
	assert.Equal(t, "SN1", *tx.SerialNumber)
	assert.JSONEq(t, string(raw), string(tx.RawResponse))
}

func TestUpdate_IsEmpty(t *testing.T) {
	assert.True(t, transaction.Update{}.IsEmpty())
	assert.False(t, transaction.Update{RawResponse: json.RawMessage(`{}`)}.IsEmpty())

	stripped := transaction.Update{
		StatusLabel:       labelPtr(transaction.LabelPending),
		ResponseData:      json.RawMessage(`{"rc":"03"}`),
		ClearSerialNumber: true,
	}.WithoutStatus()
	assert.True(t, stripped.IsEmpty())
	assert.False(t, transaction.Update{ClearSerialNumber: true}.IsEmpty())
}

func TestTransaction_Apply_FailureAfterSuccessDropsSerial(t *testing.T) {
	tx := &transaction.Transaction{
		RefID:        "R1",
		StatusLabel:  transaction.LabelSukses,
		StatusCode:   200,
		Success:      boolPtr(true),
		SerialNumber: strPtr("SN1"),
	}

	tx.Apply(transaction.Update{
		StatusCode:        intPtr(400),
		Success:           boolPtr(false),
		StatusLabel:       labelPtr(transaction.LabelGagal),
		ErrorMessage:      strPtr("refund"),
		ClearSerialNumber: true,
	})

	assert.Equal(t, transaction.LabelGagal, tx.StatusLabel)
	assert.False(t, *tx.Success)
	assert.Nil(t, tx.SerialNumber)
}

func TestTransaction_Apply_PendingKeepsResolvedResponseData(t *testing.T) {
	tx := &transaction.Transaction{
		RefID:        "R1",
		StatusLabel:  transaction.LabelSukses,
		ResponseData: json.RawMessage(`{"status":"Sukses"}`),
	}

	tx.Apply(transaction.Update{
		StatusLabel:  labelPtr(transaction.LabelPending),
		ResponseData: json.RawMessage(`{"status":"Pending"}`),
		RawResponse:  json.RawMessage(`{"data":{"status":"Pending"}}`),
	})

	assert.JSONEq(t, `{"status":"Sukses"}`, string(tx.ResponseData))
	assert.JSONEq(t, `{"data":{"status":"Pending"}}`, string(tx.RawResponse))
}
