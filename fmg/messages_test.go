package fmg

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChecksum(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr error
	}{
		{"string", `{"chksum":"a1b2"}`, "a1b2", nil},
		{"number", `{"chksum":1700000000}`, "1700000000", nil},
		{"missing", `{"other":1}`, "", ErrNoChecksum},
		{"null", `{"chksum":null}`, "", ErrNoChecksum},
		{"empty", ``, "", ErrNoChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChecksum(json.RawMessage(tt.data))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRecords(t *testing.T) {
	recs, err := ParseRecords(json.RawMessage(`[{"name":"root"},{"name":"rootp"}]`))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = ParseRecords(json.RawMessage(`{"name":"only"}`))
	require.NoError(t, err)
	assert.Equal(t, []Record{{"name": "only"}}, recs)

	recs, err = ParseRecords(nil)
	require.NoError(t, err)
	assert.Nil(t, recs)

	_, err = ParseRecords(json.RawMessage(`"scalar"`))
	assert.Error(t, err)
}

func TestParseFieldsKeepsOrder(t *testing.T) {
	data := json.RawMessage(`{"Version":"v7.4.2","Serial Number":"FMG-VM0000000001","HA Mode":"Stand Alone","Admin Domain Configuration":"Enabled","Max":10000,"Flags":["a","b"],"Nested":{"x": 1},"Empty":null}`)
	got, err := ParseFields(data)
	require.NoError(t, err)

	want := []Field{
		{"Version", "v7.4.2"},
		{"Serial Number", "FMG-VM0000000001"},
		{"HA Mode", "Stand Alone"},
		{"Admin Domain Configuration", "Enabled"},
		{"Max", "10000"},
		{"Flags", `["a","b"]`},
		{"Nested", `{"x":1}`},
		{"Empty", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseFields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFieldsRejectsNonObject(t *testing.T) {
	_, err := ParseFields(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
	_, err = ParseFields(json.RawMessage(``))
	assert.Error(t, err)
}

func TestStatusError(t *testing.T) {
	resp := &Response{Result: []Result{{URL: "/dvmdb/adom", Status: Status{Code: -11, Message: "No permission for the resource"}}}}
	_, err := resp.first()

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/dvmdb/adom: status -11: No permission for the resource", se.Error())

	_, err = (&Response{}).first()
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestADOMNames(t *testing.T) {
	names, err := ADOMNames([]Record{{"name": "root"}, {"name": "rootp"}, {"name": "others"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "global", "others"}, names)

	_, err = ADOMNames([]Record{{"oid": 3}})
	assert.Error(t, err)
}
