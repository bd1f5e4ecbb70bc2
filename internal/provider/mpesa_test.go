package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type darajaStub struct {
	tokenCalls atomic.Int32
	queryFn    func(w http.ResponseWriter, r *http.Request)
	pushFn     func(w http.ResponseWriter, r *http.Request)
}

func (d *darajaStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		d.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		d.pushFn(w, r)
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		d.queryFn(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestMpesa(url string) *MpesaAdapter {
	return NewMpesaAdapter(MpesaConfig{
		BaseURL:        url,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://example.com/cb",
	}, nil, zap.NewNop())
}

func TestMpesaInitiate_ReturnsCheckoutRequestID(t *testing.T) {
	stub := &darajaStub{
		pushFn: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var body stkPushRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(1000), body.Amount)
			assert.Equal(t, "254712345678", body.PhoneNumber)
			assert.Equal(t, "CustomerPayBillOnline", body.TransactionType)
			_ = json.NewEncoder(w).Encode(stkPushResponse{
				MerchantRequestID: "m-1",
				CheckoutRequestID: "ws_CO_1",
				ResponseCode:      "0",
				CustomerMessage:   "Success. Request accepted for processing",
			})
		},
	}
	adapter := newTestMpesa(stub.server(t).URL)

	handle, err := adapter.Initiate(context.Background(), InitiateRequest{
		Amount:      decimal.NewFromInt(1000),
		Currency:    "KES",
		Reference:   "ORD-1",
		PhoneNumber: "0712345678",
	})

	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", handle.Reference)
	assert.Equal(t, "m-1", handle.MerchantRequestID)
}

func TestMpesaInitiate_InvalidPhoneIsPermanent(t *testing.T) {
	adapter := newTestMpesa("http://127.0.0.1:0")

	_, err := adapter.Initiate(context.Background(), InitiateRequest{
		Amount:      decimal.NewFromInt(10),
		PhoneNumber: "12345",
	})
	assert.True(t, IsPermanent(err))
}

func TestMpesaQueryStatus_ResultCodes(t *testing.T) {
	cases := []struct {
		name    string
		code    string
		outcome Outcome
	}{
		{"paid", "0", OutcomeSucceeded},
		{"cancelled by user", "1032", OutcomeFailed},
		{"insufficient funds", "1", OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &darajaStub{
				queryFn: func(w http.ResponseWriter, r *http.Request) {
					_ = json.NewEncoder(w).Encode(stkQueryResponse{
						ResponseCode:      "0",
						CheckoutRequestID: "ws_CO_1",
						ResultCode:        tc.code,
						ResultDesc:        "desc",
					})
				},
			}
			adapter := newTestMpesa(stub.server(t).URL)

			res, err := adapter.QueryStatus(context.Background(), "ws_CO_1")
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Equal(t, tc.code, res.Code)
		})
	}
}

func TestMpesaQueryStatus_StillProcessing(t *testing.T) {
	stub := &darajaStub{
		queryFn: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(darajaError{
				ErrorCode:    "500.001.1001",
				ErrorMessage: "The transaction is being processed",
			})
		},
	}
	adapter := newTestMpesa(stub.server(t).URL)

	res, err := adapter.QueryStatus(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, res.Outcome)
}

func TestMpesaQueryStatus_UpstreamErrorIsTransient(t *testing.T) {
	stub := &darajaStub{
		queryFn: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	}
	adapter := newTestMpesa(stub.server(t).URL)

	_, err := adapter.QueryStatus(context.Background(), "ws_CO_1")
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}

func TestMpesaQueryStatus_BadRequestIsPermanent(t *testing.T) {
	stub := &darajaStub{
		queryFn: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(darajaError{
				ErrorCode:    "400.002.02",
				ErrorMessage: "Bad Request - Invalid CheckoutRequestID",
			})
		},
	}
	adapter := newTestMpesa(stub.server(t).URL)

	_, err := adapter.QueryStatus(context.Background(), "nope")
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "400.002.02", perm.Code)
}

func TestMpesaQueryStatus_TimeoutIsTransient(t *testing.T) {
	stub := &darajaStub{
		queryFn: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	}
	adapter := newTestMpesa(stub.server(t).URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := adapter.QueryStatus(ctx, "ws_CO_1")
	assert.True(t, IsTransient(err))
}

func TestMpesaToken_CachedAndRefreshedOn401(t *testing.T) {
	var calls atomic.Int32
	stub := &darajaStub{
		queryFn: func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 2 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(stkQueryResponse{ResultCode: "0"})
		},
	}
	adapter := newTestMpesa(stub.server(t).URL)

	_, err := adapter.QueryStatus(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), stub.tokenCalls.Load())

	_, err = adapter.QueryStatus(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.tokenCalls.Load())
	assert.Equal(t, int32(3), calls.Load())
}

func TestNormalizePhone(t *testing.T) {
	p, err := NormalizePhone("+254 712-345-678")
	require.NoError(t, err)
	assert.Equal(t, "254712345678", p)

	p, err = NormalizePhone("0112345678")
	require.NoError(t, err)
	assert.Equal(t, "254112345678", p)

	_, err = NormalizePhone("25471234567x")
	assert.Error(t, err)
}
