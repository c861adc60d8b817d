package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	voteledger "gymcore/contexts/community/vote-ledger"
	voteentities "gymcore/contexts/community/vote-ledger/domain/entities"
	votehttp "gymcore/contexts/community/vote-ledger/transport/http"
	bookingcoordinator "gymcore/contexts/scheduling/booking-coordinator"
	bookingentities "gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	bookinghttp "gymcore/contexts/scheduling/booking-coordinator/transport/http"
	"gymcore/internal/platform/auth"
)

const testSecret = "0123456789abcdef"

func newTestServer(t *testing.T) (*Server, voteledger.Module, bookingcoordinator.Module) {
	t.Helper()
	votes := voteledger.NewInMemoryModule([]voteentities.Post{{
		PostID:   "post-1",
		AuthorID: "coach@gym.test",
		Title:    "Deload weeks",
	}}, nil)
	bookings := bookingcoordinator.NewInMemoryModule(nil)
	now := time.Now().UTC()
	bookings.Store.SetClass(bookingentities.ClassOffering{ClassID: "class-1", Name: "Spin", CreatedAt: now, UpdatedAt: now})
	bookings.Store.SetSlot(bookingentities.Slot{
		SlotID:    "slot-1",
		ClassID:   "class-1",
		TrainerID: "trainer-1",
		Status:    bookingentities.SlotStatusActive,
		StartsAt:  now.Add(24 * time.Hour),
	})
	server := New(votes, bookings, Options{
		Auth:                auth.NewAuthenticator(testSecret, time.Hour),
		AllowHeaderIdentity: true,
		DevIssuer:           true,
	})
	return server, votes, bookings
}

func do(t *testing.T, server *Server, method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestVoteRequiresIdentity(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := do(t, server, http.MethodPost, "/forum/posts/post-1/votes", votehttp.ApplyVoteRequest{Direction: "up"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVoteScenarioOverHTTP(t *testing.T) {
	server, _, _ := newTestServer(t)
	steps := []struct {
		voter     string
		direction string
		outcome   string
		up, down  int64
	}{
		{"a@gym.test", "up", "applied", 1, 0},
		{"a@gym.test", "up", "unchanged", 1, 0},
		{"a@gym.test", "down", "flipped", 0, 1},
		{"b@gym.test", "down", "applied", 0, 2},
	}
	for _, step := range steps {
		rec := do(t, server, http.MethodPost, "/forum/posts/post-1/votes",
			votehttp.ApplyVoteRequest{Direction: step.direction},
			map[string]string{headerUserID: step.voter})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
		}
		var resp votehttp.ApplyVoteResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Outcome != step.outcome || resp.Tally.Upvotes != step.up || resp.Tally.Downvotes != step.down {
			t.Fatalf("step %+v: unexpected response %+v", step, resp)
		}
	}

	rec := do(t, server, http.MethodPost, "/forum/posts/missing/votes",
		votehttp.ApplyVoteRequest{Direction: "up"}, map[string]string{headerUserID: "a@gym.test"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing post, got %d", rec.Code)
	}
	rec = do(t, server, http.MethodPost, "/forum/posts/post-1/votes",
		votehttp.ApplyVoteRequest{Direction: "sideways"}, map[string]string{headerUserID: "a@gym.test"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid direction, got %d", rec.Code)
	}
}

func TestBearerTokenIdentity(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := do(t, server, http.MethodPost, "/jwt", issueTokenRequest{Subject: "user-9", Email: "nine@gym.test"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected token, got %d body=%s", rec.Code, rec.Body.String())
	}
	var token issueTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	rec = do(t, server, http.MethodPost, "/forum/posts/post-1/votes",
		votehttp.ApplyVoteRequest{Direction: "up"},
		map[string]string{"Authorization": "Bearer " + token.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected vote with bearer token, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, server, http.MethodGet, "/forum/posts/post-1", nil,
		map[string]string{"Authorization": "Bearer " + token.Token})
	var post votehttp.PostResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if post.MyVote != "up" {
		t.Fatalf("expected my_vote up for token identity, got %+v", post)
	}

	rec = do(t, server, http.MethodPost, "/forum/posts/post-1/votes",
		votehttp.ApplyVoteRequest{Direction: "up"},
		map[string]string{"Authorization": "Bearer not-a-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestRecordPaymentOverHTTP(t *testing.T) {
	server, _, _ := newTestServer(t)
	headers := map[string]string{headerUserID: "member@gym.test", headerIdempotencyKey: "pay-1"}
	req := bookinghttp.RecordPaymentRequest{ClassID: "class-1", SlotID: "slot-1", Amount: "25.00"}

	rec := do(t, server, http.MethodPost, "/payments", req, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp bookinghttp.RecordPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Payment.PaymentID != "pay-1" || !resp.Settlement.Complete || resp.Settlement.SlotStep.Status != "applied" {
		t.Fatalf("unexpected payment response %+v", resp)
	}

	rec = do(t, server, http.MethodPost, "/payments", req, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replay 200, got %d", rec.Code)
	}
	req.Amount = "30.00"
	rec = do(t, server, http.MethodPost, "/payments", req, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodGet, "/classes/class-1", nil, nil)
	var class bookinghttp.ClassResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &class); err != nil {
		t.Fatalf("decode class: %v", err)
	}
	if class.BookingCount != 1 {
		t.Fatalf("expected booking count 1, got %d", class.BookingCount)
	}

	rec = do(t, server, http.MethodGet, "/admin/balance", nil, nil)
	var balance bookinghttp.AdminBalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Total != "25.00" || balance.PaymentCount != 1 || len(balance.RecentPayments) != 1 {
		t.Fatalf("unexpected balance %+v", balance)
	}

	rec = do(t, server, http.MethodGet, "/payments/pay-1/settlement", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected settlement, got %d", rec.Code)
	}
}

func TestSlotConflictOverHTTP(t *testing.T) {
	server, _, _ := newTestServer(t)
	first := do(t, server, http.MethodPost, "/payments",
		bookinghttp.RecordPaymentRequest{ClassID: "class-1", SlotID: "slot-1", Amount: "10"},
		map[string]string{headerUserID: "x@gym.test", headerIdempotencyKey: "pay-x"})
	second := do(t, server, http.MethodPost, "/payments",
		bookinghttp.RecordPaymentRequest{ClassID: "class-1", SlotID: "slot-1", Amount: "10"},
		map[string]string{headerUserID: "y@gym.test", headerIdempotencyKey: "pay-y"})
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both payments recorded, got %d and %d", first.Code, second.Code)
	}
	var resp bookinghttp.RecordPaymentResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Settlement.SlotStep.Status != "conflict" {
		t.Fatalf("expected slot conflict for second payer, got %+v", resp.Settlement)
	}

	rec := do(t, server, http.MethodGet, "/slots/slot-1", nil, nil)
	var slot bookinghttp.SlotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &slot); err != nil {
		t.Fatalf("decode slot: %v", err)
	}
	if slot.BookedBy != "x@gym.test" {
		t.Fatalf("expected slot held by first payer, got %+v", slot)
	}
}

func TestCatalogAndFeaturedClasses(t *testing.T) {
	server, _, _ := newTestServer(t)
	headers := map[string]string{headerUserID: "admin@gym.test"}
	rec := do(t, server, http.MethodPost, "/classes", bookinghttp.CreateClassRequest{ClassID: "class-2", Name: "Yoga"}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected class created, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, server, http.MethodPost, "/classes/class-2/trainers", bookinghttp.AddTrainerRequest{TrainerID: "trainer-2"}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected trainer added, got %d", rec.Code)
	}
	rec = do(t, server, http.MethodPost, "/classes", bookinghttp.CreateClassRequest{ClassID: "class-2", Name: "Yoga"}, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected duplicate class conflict, got %d", rec.Code)
	}

	do(t, server, http.MethodPost, "/payments",
		bookinghttp.RecordPaymentRequest{ClassID: "class-2", Amount: "12.50"},
		map[string]string{headerUserID: "m@gym.test", headerIdempotencyKey: "pay-2"})

	rec = do(t, server, http.MethodGet, "/classes/featured?limit=1", nil, nil)
	var featured bookinghttp.FeaturedClassesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &featured); err != nil {
		t.Fatalf("decode featured: %v", err)
	}
	if len(featured.Classes) != 1 || featured.Classes[0].ClassID != "class-2" {
		t.Fatalf("expected class-2 featured, got %+v", featured.Classes)
	}

	rec = do(t, server, http.MethodGet, "/classes/featured?limit=abc", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := do(t, server, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rec.Code)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected generated request id header")
	}
}

var ginParam = regexp.MustCompile(`:([a-z_]+)`)

func TestSwaggerDocumentCoversEveryRoute(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := do(t, server, http.MethodGet, "/swagger/index.html", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected swagger ui, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodGet, "/swagger/doc.json", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for doc.json, got %d body=%s", rec.Code, rec.Body.String())
	}
	var doc struct {
		Swagger string                    `json:"swagger"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode doc.json: %v", err)
	}
	if doc.Swagger != "2.0" {
		t.Fatalf("unexpected swagger version %q", doc.Swagger)
	}

	for _, route := range server.engine.Routes() {
		if strings.HasPrefix(route.Path, "/swagger") || route.Path == "/health" || route.Path == "/jwt" {
			continue
		}
		path := ginParam.ReplaceAllString(route.Path, "{$1}")
		ops, ok := doc.Paths[path]
		if !ok {
			t.Fatalf("route %s %s missing from doc.json", route.Method, path)
		}
		if _, ok := ops[strings.ToLower(route.Method)]; !ok {
			t.Fatalf("route %s %s has no documented operation", route.Method, path)
		}
	}
}
