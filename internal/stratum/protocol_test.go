package stratum

import (
	"reflect"
	"testing"

	"github.com/bardlex/gosolo/pkg/errors"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    *Message
		wantErr bool
	}{
		{
			name: "subscribe response",
			data: []byte(`{"id":1,"result":[[["mining.notify","ae6812eb4cd7735a302a8a9dd95cf71f"]],"08000002",4],"error":null}`),
			want: &Message{
				ID: float64(1), // JSON numbers are parsed as float64
				Result: []any{
					[]any{[]any{"mining.notify", "ae6812eb4cd7735a302a8a9dd95cf71f"}},
					"08000002",
					float64(4),
				},
			},
		},
		{
			name: "array style error",
			data: []byte(`{"id":1,"result":null,"error":[21,"Job not found",null]}`),
			want: &Message{
				ID:    float64(1),
				Error: []any{float64(21), "Job not found", nil},
			},
		},
		{
			name: "notification",
			data: []byte(`{"id":null,"method":"mining.notify","params":["job1","prev","cb1","cb2",[],"20000000","1800c29f","5a54a978",true]}`),
			want: &Message{
				ID:     nil,
				Method: "mining.notify",
				Params: []any{"job1", "prev", "cb1", "cb2", []any{}, "20000000", "1800c29f", "5a54a978", true},
			},
		},
		{
			name:    "invalid json",
			data:    []byte(`{invalid json}`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessage(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.IsType(err, errors.ErrorTypeProtocol) {
					t.Errorf("error type = %s, want protocol", errors.TypeOf(err))
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseMessage() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMarshalRequest(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{
			name: "subscribe",
			req:  NewSubscribeRequest(),
			want: `{"id":1,"method":"mining.subscribe","params":[]}`,
		},
		{
			name: "authorize",
			req:  NewAuthorizeRequest("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"),
			want: `{"id":2,"method":"mining.authorize","params":["1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa","password"]}`,
		},
		{
			name: "submit",
			req:  NewSubmitRequest("addr", "job1", "a1b2c3d4", "5a54a978", "0000002a"),
			want: `{"id":1,"method":"mining.submit","params":["addr","job1","a1b2c3d4","5a54a978","0000002a"]}`,
		},
		{
			name: "nil params encode as empty list",
			req:  &Request{ID: 7, Method: "mining.extranonce.subscribe"},
			want: `{"id":7,"method":"mining.extranonce.subscribe","params":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalRequest(tt.req)
			if err != nil {
				t.Fatalf("MarshalRequest() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("MarshalRequest() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseSubscribeResult(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    *SubscribeResult
		wantErr bool
	}{
		{
			name: "full result",
			line: `{"id":1,"result":[[["mining.set_difficulty","1"],["mining.notify","1"]],"08000002",4],"error":null}`,
			want: &SubscribeResult{ExtraNonce1: "08000002", ExtraNonce2Size: 4},
		},
		{
			name: "size hint missing",
			line: `{"id":1,"result":[[],"f000000d"],"error":null}`,
			want: &SubscribeResult{ExtraNonce1: "f000000d"},
		},
		{
			name: "size hint not a number",
			line: `{"id":1,"result":[[],"f000000d","8"],"error":null}`,
			want: &SubscribeResult{ExtraNonce1: "f000000d"},
		},
		{name: "invalid json", line: `not json`, wantErr: true},
		{name: "result absent", line: `{"id":1,"error":null}`, wantErr: true},
		{name: "result not a list", line: `{"id":1,"result":true}`, wantErr: true},
		{name: "result too short", line: `{"id":1,"result":[[]]}`, wantErr: true},
		{name: "extranonce1 not a string", line: `{"id":1,"result":[[],12345678,4]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSubscribeResult([]byte(tt.line))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSubscribeResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.IsType(err, errors.ErrorTypeProtocol) {
					t.Errorf("error type = %s, want protocol", errors.TypeOf(err))
				}
				return
			}
			if *got != *tt.want {
				t.Errorf("ParseSubscribeResult() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
