package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
	"trading-engine/internal/services"
	"trading-engine/internal/store"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := services.NewTradingService(services.Options{
		Store:           store.NewMemoryStore(),
		StartingBalance: 10000,
		Rand:            rand.New(rand.NewSource(1)),
		Logger:          zerolog.Nop(),
	})
	if err := service.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = service.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return NewRouter(service, nil, zerolog.Nop())
}

func request(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

type orderEnvelope struct {
	Error string       `json:"error"`
	Order models.Order `json:"order"`
}

func createAcme(t *testing.T, router http.Handler) models.Stock {
	t.Helper()
	rec := request(t, router, http.MethodPost, "/api/stocks", services.CreateStockRequest{
		Name: "Acme", InitialValue: 100, TotalShares: 1000, PriceEvolution: 1,
	})
	expectStatus(t, rec, http.StatusCreated)
	return decode[models.Stock](t, rec)
}

func buy(t *testing.T, router http.Handler, stockID string, quantity int) models.Order {
	t.Helper()
	rec := request(t, router, http.MethodPost, "/api/orders", PlaceOrderRequest{
		StockID: stockID, OrderType: "buy", Quantity: quantity, Leverage: 1,
	})
	expectStatus(t, rec, http.StatusCreated)
	return decode[orderEnvelope](t, rec).Order
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := request(t, router, http.MethodGet, "/health", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec)["status"]; got != "OK" {
		t.Errorf("status = %q, want OK", got)
	}
}

func TestStocksEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := request(t, router, http.MethodGet, "/api/stocks", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string][]models.Stock](t, rec)["stocks"]; len(got) != 2 {
		t.Fatalf("seeded stocks = %d, want 2", len(got))
	}

	acme := createAcme(t, router)
	if acme.CurrentValue != 100 || acme.AvailableShares != 1000 || len(acme.History) != 1 {
		t.Errorf("created stock = %+v", acme)
	}

	rec = request(t, router, http.MethodGet, "/api/stocks/"+acme.ID, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = request(t, router, http.MethodPost, "/api/stocks/"+acme.ID+"/select", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = request(t, router, http.MethodDelete, "/api/stocks/"+acme.ID, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = request(t, router, http.MethodGet, "/api/stocks/"+acme.ID, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCreateStockRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", map[string]any{"initialValue": 10, "totalShares": 100, "priceEvolution": 1}},
		{"negative price", map[string]any{"name": "X", "initialValue": -5, "totalShares": 100, "priceEvolution": 1}},
		{"too few shares", map[string]any{"name": "X", "initialValue": 5, "totalShares": 10, "priceEvolution": 1}},
		{"not json", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := request(t, router, http.MethodPost, "/api/stocks", tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
}

func TestPlaceMarketOrder(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)

	order := buy(t, router, acme.ID, 10)
	if order.Status != models.OrderExecuted || order.ExecutedPrice == nil || *order.ExecutedPrice != 100 {
		t.Errorf("order = %+v", order)
	}

	rec := request(t, router, http.MethodGet, "/api/state", nil)
	expectStatus(t, rec, http.StatusOK)
	snapshot := decode[services.Snapshot](t, rec)
	if snapshot.User.Balance != 9000 {
		t.Errorf("balance = %v, want 9000", snapshot.User.Balance)
	}
	if len(snapshot.User.Holdings) != 1 || snapshot.User.Holdings[0].Quantity != 10 {
		t.Errorf("holdings = %+v", snapshot.User.Holdings)
	}
}

func TestPlaceOrderInsufficientBalanceReturnsOrder(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)

	rec := request(t, router, http.MethodPost, "/api/orders", PlaceOrderRequest{
		StockID: acme.ID, OrderType: "buy", Quantity: 500, Leverage: 1,
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	body := decode[orderEnvelope](t, rec)
	if body.Error == "" || body.Order.ID == "" || body.Order.Status != models.OrderCancelled {
		t.Errorf("body = %+v", body)
	}
}

func TestPlaceOrderErrors(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown stock", PlaceOrderRequest{StockID: "nope", OrderType: "buy", Quantity: 1}, http.StatusNotFound},
		{"zero quantity", PlaceOrderRequest{StockID: acme.ID, OrderType: "buy", Quantity: 0}, http.StatusBadRequest},
		{"leverage too high", PlaceOrderRequest{StockID: acme.ID, OrderType: "buy", Quantity: 1, Leverage: 11}, http.StatusBadRequest},
		{"bad order type", PlaceOrderRequest{StockID: acme.ID, OrderType: "hedge", Quantity: 1}, http.StatusBadRequest},
		{"unknown holding", PlaceOrderRequest{StockID: acme.ID, OrderType: "stoploss", StopPrice: models.Float(90), HoldingID: "h-missing"}, http.StatusNotFound},
		{"missing stock id", map[string]any{"orderType": "buy", "quantity": 1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := request(t, router, http.MethodPost, "/api/orders", tt.body)
			expectStatus(t, rec, tt.want)
		})
	}
}

func TestCancelOrderTwice(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)

	rec := request(t, router, http.MethodPost, "/api/orders", PlaceOrderRequest{
		StockID: acme.ID, OrderType: "buy", ExecutionType: "limit", Quantity: 5, LimitPrice: models.Float(90), Leverage: 1,
	})
	expectStatus(t, rec, http.StatusCreated)
	order := decode[orderEnvelope](t, rec).Order
	if order.Status != models.OrderOpen {
		t.Fatalf("limit order status = %s, want open", order.Status)
	}

	rec = request(t, router, http.MethodPost, "/api/orders/"+order.ID+"/cancel", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[orderEnvelope](t, rec).Order.Status; got != models.OrderCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}

	rec = request(t, router, http.MethodPost, "/api/orders/"+order.ID+"/cancel", nil)
	expectStatus(t, rec, http.StatusConflict)
	if got := decode[orderEnvelope](t, rec).Order.ID; got != order.ID {
		t.Errorf("conflict body order = %q, want %q", got, order.ID)
	}

	rec = request(t, router, http.MethodPost, "/api/orders/missing/cancel", nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = request(t, router, http.MethodGet, "/api/orders?status=cancelled", nil)
	expectStatus(t, rec, http.StatusOK)
	if page := decode[pageResponse[models.Order]](t, rec); page.Total != 1 {
		t.Errorf("cancelled orders = %d, want 1", page.Total)
	}
}

func TestTransactionsPagination(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)
	for i := 0; i < 3; i++ {
		buy(t, router, acme.ID, 1)
	}

	rec := request(t, router, http.MethodGet, "/api/transactions?limit=2", nil)
	expectStatus(t, rec, http.StatusOK)
	page := decode[pageResponse[models.Transaction]](t, rec)
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Errorf("page = %+v", page)
	}
	if page.Items[0].Timestamp < page.Items[1].Timestamp {
		t.Error("transactions are not newest first")
	}

	rec = request(t, router, http.MethodGet, "/api/transactions?limit=2&page=2", nil)
	expectStatus(t, rec, http.StatusOK)
	if page := decode[pageResponse[models.Transaction]](t, rec); len(page.Items) != 1 {
		t.Errorf("second page = %+v", page)
	}

	for _, q := range []string{"limit=0", "limit=101", "page=0", "page=x"} {
		rec = request(t, router, http.MethodGet, "/api/transactions?"+q, nil)
		expectStatus(t, rec, http.StatusBadRequest)
	}
}

func TestHoldingEditAndClose(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)
	buy(t, router, acme.ID, 10)

	rec := request(t, router, http.MethodGet, "/api/holdings?status=open", nil)
	expectStatus(t, rec, http.StatusOK)
	holdings := decode[map[string][]models.Holding](t, rec)["holdings"]
	if len(holdings) != 1 {
		t.Fatalf("open holdings = %d, want 1", len(holdings))
	}
	id := holdings[0].ID

	rec = request(t, router, http.MethodPatch, "/api/holdings/"+id, map[string]any{"stopLossPrice": 50})
	expectStatus(t, rec, http.StatusOK)
	edited := decode[models.Holding](t, rec)
	if edited.StopLossPrice == nil || *edited.StopLossPrice != 50 || edited.TakeProfitPrice != nil {
		t.Errorf("edited = %+v", edited)
	}

	rec = request(t, router, http.MethodPost, "/api/holdings/"+id+"/close", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[orderEnvelope](t, rec).Order; got.OrderType != models.OrderTypeSell || got.Quantity != 10 {
		t.Errorf("close order = %+v", got)
	}

	rec = request(t, router, http.MethodGet, "/api/holdings?status=open", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string][]models.Holding](t, rec)["holdings"]; len(got) != 0 {
		t.Errorf("open holdings after close = %+v", got)
	}

	rec = request(t, router, http.MethodPost, "/api/holdings/"+id+"/close", nil)
	if rec.Code == http.StatusOK {
		t.Error("closing a closed holding succeeded")
	}

	rec = request(t, router, http.MethodGet, "/api/holdings?status=pending", nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestTickEndpoint(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)

	rec := request(t, router, http.MethodPost, "/api/market/tick", TickRequest{Prices: map[string]float64{acme.ID: 120}})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[services.TickResult](t, rec).Prices[acme.ID]; got != 120 {
		t.Errorf("price = %v, want 120", got)
	}

	rec = request(t, router, http.MethodGet, "/api/stocks", nil)
	expectStatus(t, rec, http.StatusOK)
	for _, s := range decode[map[string][]StockView](t, rec)["stocks"] {
		if s.ID == acme.ID && (s.ChangePercent < 19.999 || s.ChangePercent > 20.001) {
			t.Errorf("change = %v%%, want 20%%", s.ChangePercent)
		}
	}

	rec = request(t, router, http.MethodPost, "/api/market/tick", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[services.TickResult](t, rec).Prices; len(got) != 3 {
		t.Errorf("ticked %d stocks, want 3", len(got))
	}

	rec = request(t, router, http.MethodPost, "/api/market/tick", TickRequest{Volatility: models.Float(2)})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = request(t, router, http.MethodPost, "/api/market/tick", TickRequest{Prices: map[string]float64{"nope": 5}})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestSettingsAndMargin(t *testing.T) {
	router := newTestRouter(t)

	rec := request(t, router, http.MethodGet, "/api/settings", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[models.Settings](t, rec); got != models.DefaultSettings() {
		t.Errorf("settings = %+v", got)
	}

	want := models.Settings{UpdateIntervalSeconds: 5, AutoUpdateEnabled: false, VolatilityPercent: 30}
	rec = request(t, router, http.MethodPut, "/api/settings", want)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[models.Settings](t, rec); got != want {
		t.Errorf("updated = %+v, want %+v", got, want)
	}

	rec = request(t, router, http.MethodPut, "/api/settings", models.Settings{UpdateIntervalSeconds: 0, VolatilityPercent: 10})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = request(t, router, http.MethodPut, "/api/margin", MarginRequest{Margin: 5})
	expectStatus(t, rec, http.StatusOK)
	rec = request(t, router, http.MethodGet, "/api/state", nil)
	if got := decode[services.Snapshot](t, rec).Margin; got != 5 {
		t.Errorf("margin = %d, want 5", got)
	}

	rec = request(t, router, http.MethodPut, "/api/margin", MarginRequest{Margin: 11})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestNotificationsEndpoints(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)
	buy(t, router, acme.ID, 1)

	type notificationsBody struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}

	rec := request(t, router, http.MethodGet, "/api/notifications", nil)
	expectStatus(t, rec, http.StatusOK)
	body := decode[notificationsBody](t, rec)
	if len(body.Notifications) == 0 || body.Unread != len(body.Notifications) {
		t.Fatalf("body = %+v", body)
	}

	rec = request(t, router, http.MethodPost, "/api/notifications/"+body.Notifications[0].ID+"/read", nil)
	expectStatus(t, rec, http.StatusOK)
	rec = request(t, router, http.MethodGet, "/api/notifications", nil)
	if got := decode[notificationsBody](t, rec); got.Unread != body.Unread-1 {
		t.Errorf("unread = %d, want %d", got.Unread, body.Unread-1)
	}

	rec = request(t, router, http.MethodDelete, "/api/notifications", nil)
	expectStatus(t, rec, http.StatusOK)
	rec = request(t, router, http.MethodGet, "/api/notifications", nil)
	if got := decode[notificationsBody](t, rec); len(got.Notifications) != 0 {
		t.Errorf("notifications after clear = %d", len(got.Notifications))
	}
}

func TestResetAccountEndpoint(t *testing.T) {
	router := newTestRouter(t)
	acme := createAcme(t, router)
	buy(t, router, acme.ID, 10)

	rec := request(t, router, http.MethodPost, "/api/account/reset", nil)
	expectStatus(t, rec, http.StatusOK)
	snapshot := decode[services.Snapshot](t, rec)
	if snapshot.User.Balance != 10000 || len(snapshot.User.Holdings) != 0 || len(snapshot.User.Transactions) != 0 {
		t.Errorf("user after reset = %+v", snapshot.User)
	}
}

func TestPlaceOrderRequestSpec(t *testing.T) {
	tests := []struct {
		name    string
		req     PlaceOrderRequest
		want    models.OrderSpec
		wantErr bool
	}{
		{"market default", PlaceOrderRequest{OrderType: "buy", Quantity: 2}, models.MarketOrder{Side: models.SideBuy, Quantity: 2}, false},
		{"market sell", PlaceOrderRequest{OrderType: "sell", ExecutionType: "market", Quantity: 2}, models.MarketOrder{Side: models.SideSell, Quantity: 2}, false},
		{"limit", PlaceOrderRequest{OrderType: "sell", ExecutionType: "limit", Quantity: 2, LimitPrice: models.Float(5)}, models.LimitOrder{Side: models.SideSell, Quantity: 2, LimitPrice: 5}, false},
		{"limit without price", PlaceOrderRequest{OrderType: "buy", ExecutionType: "limit", Quantity: 2}, nil, true},
		{"bad execution", PlaceOrderRequest{OrderType: "buy", ExecutionType: "iceberg", Quantity: 2}, nil, true},
		{"stop loss", PlaceOrderRequest{OrderType: "stoploss", StopPrice: models.Float(9), HoldingID: "h"}, models.StopLossOrder{HoldingID: "h", StopPrice: 9}, false},
		{"stop loss without holding", PlaceOrderRequest{OrderType: "stoploss", StopPrice: models.Float(9)}, nil, true},
		{"take profit", PlaceOrderRequest{OrderType: "take_profit", TakeProfitPrice: models.Float(12), HoldingID: "h", Quantity: 1}, models.TakeProfitOrder{HoldingID: "h", Quantity: 1, TakeProfitPrice: 12}, false},
		{"take profit without price", PlaceOrderRequest{OrderType: "take_profit", HoldingID: "h"}, nil, true},
		{"unknown", PlaceOrderRequest{OrderType: "swap"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Spec()
			if tt.wantErr {
				if !apperrors.Is(err, apperrors.ErrValidation) {
					t.Errorf("Spec() error = %v, want validation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Spec() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Spec() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NewValidationError("f", 1, "bad"), http.StatusBadRequest},
		{apperrors.NewNotFoundError("stock", "s"), http.StatusNotFound},
		{apperrors.NewInsufficientBalanceError(10, 1), http.StatusUnprocessableEntity},
		{apperrors.NewInsufficientSharesError("s", 10, 1), http.StatusUnprocessableEntity},
		{apperrors.NewInvalidStateError("order", "o", "executed", "cancel"), http.StatusConflict},
		{services.ErrNotRunning, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
