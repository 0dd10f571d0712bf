package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"github.com/waldoclick/waldo-project-sub000/internal/httpapi"
	"github.com/waldoclick/waldo-project-sub000/internal/store/gormstore"
	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningKey = "secret-key"
	sessionIssuer     = "tauth"
	sessionCookieName = "app_session"
	adminRole         = "admin"

	ownerUserID = "owner-1"
	adminUserID = "admin-1"
	otherUserID = "other-1"

	packFiveID = "pack_5"
)

type fixture struct {
	router  *gin.Engine
	db      *gorm.DB
	gateway *stubGateway
}

type stubGateway struct {
	mu          sync.Mutex
	transaction struct {
		buyOrder    string
		amountCents int64
	}
}

func (gateway *stubGateway) CreateTransaction(ctx context.Context, amountCents int64, buyOrder string, sessionID string, returnURL string) (ads.GatewayRedirect, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.transaction.buyOrder = buyOrder
	gateway.transaction.amountCents = amountCents
	return ads.GatewayRedirect{Token: "tbk-token-" + buyOrder, URL: "https://webpay.example/init"}, nil
}

func (gateway *stubGateway) CommitTransaction(ctx context.Context, token string) (ads.GatewayResult, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	return ads.GatewayResult{
		Status:      ads.GatewayStatusAuthorized,
		BuyOrder:    gateway.transaction.buyOrder,
		AmountCents: gateway.transaction.amountCents,
	}, nil
}

func newFixture(test *testing.T) *fixture {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/ads.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := database.AutoMigrate(gormstore.Models()...); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	if err := database.Create(&gormstore.PackRecord{
		PackID:        packFiveID,
		Name:          "Five ads",
		PriceCents:    11900,
		TotalAds:      5,
		TotalDays:     30,
		TotalFeatures: 1,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}).Error; err != nil {
		test.Fatalf("seed pack failed: %v", err)
	}

	gateway := &stubGateway{}
	service, err := ads.NewService(
		gormstore.New(database),
		func() int64 { return time.Now().UTC().Unix() },
		ads.Config{
			FeaturedPriceCents: 5000,
			ReturnURL:          "https://waldo.example/payment/return",
		},
		ads.WithPaymentGateway(gateway),
	)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}

	server, err := httpapi.New(httpapi.Config{
		SessionSigningKey: sessionSigningKey,
		SessionIssuer:     sessionIssuer,
		SessionCookieName: sessionCookieName,
		AdminRole:         adminRole,
	}, service, zap.NewNop())
	if err != nil {
		test.Fatalf("server init failed: %v", err)
	}
	return &fixture{router: server.Router(), db: database, gateway: gateway}
}

func buildSessionCookie(test *testing.T, userID string, roles []string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@waldo.example",
		UserDisplayName: "User " + userID,
		UserRoles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(sessionSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: signedToken}
}

func (f *fixture) do(test *testing.T, method string, path string, cookie *http.Cookie, payload any) *httptest.ResponseRecorder {
	test.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("marshal failed: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, body)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder, target any) {
	test.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		test.Fatalf("decode response failed: %v", err)
	}
}

type creditsEnvelope struct {
	Credits []struct {
		CreditID  string `json:"credit_id"`
		Kind      string `json:"kind"`
		Available bool   `json:"available"`
		Free      bool   `json:"free"`
	} `json:"credits"`
}

type adEnvelope struct {
	Ad struct {
		AdID          string `json:"ad_id"`
		Status        string `json:"status"`
		RemainingDays int    `json:"remaining_days"`
		IsPaid        bool   `json:"is_paid"`
	} `json:"ad"`
	Payment struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	} `json:"payment"`
}

func TestHealthz(test *testing.T) {
	f := newFixture(test)
	recorder := f.do(test, http.MethodGet, "/healthz", nil, nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestAPIRequiresSession(test *testing.T) {
	f := newFixture(test)
	recorder := f.do(test, http.MethodGet, "/api/credits", nil, nil)
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401 without cookie, got %d", recorder.Code)
	}
}

func TestBootstrapMintsFreeQuotaOnce(test *testing.T) {
	f := newFixture(test)
	cookie := buildSessionCookie(test, ownerUserID, []string{"member"})

	for attempt := 0; attempt < 2; attempt++ {
		recorder := f.do(test, http.MethodPost, "/api/bootstrap", cookie, nil)
		if recorder.Code != http.StatusOK {
			test.Fatalf("bootstrap attempt %d: expected 200, got %d: %s", attempt, recorder.Code, recorder.Body.String())
		}
		var envelope creditsEnvelope
		decodeBody(test, recorder, &envelope)
		if len(envelope.Credits) != 6 {
			test.Fatalf("bootstrap attempt %d: expected 6 free credits, got %d", attempt, len(envelope.Credits))
		}
	}
}

func TestCreateAdSettlesFromFreeCredit(test *testing.T) {
	f := newFixture(test)
	cookie := buildSessionCookie(test, ownerUserID, []string{"member"})
	if recorder := f.do(test, http.MethodPost, "/api/bootstrap", cookie, nil); recorder.Code != http.StatusOK {
		test.Fatalf("bootstrap failed: %d", recorder.Code)
	}

	recorder := f.do(test, http.MethodPost, "/api/ads", cookie, map[string]any{
		"name": "City bike",
		"pack": "free",
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var envelope adEnvelope
	decodeBody(test, recorder, &envelope)
	if envelope.Ad.Status != ads.StatusPending.String() {
		test.Fatalf("expected pending ad, got %s", envelope.Ad.Status)
	}
	if envelope.Ad.IsPaid {
		test.Fatalf("free-credit ad must not be marked paid")
	}
	if envelope.Payment.Token != "" {
		test.Fatalf("free settlement must not return a payment redirect")
	}

	listRecorder := f.do(test, http.MethodGet, "/api/credits", cookie, nil)
	var credits creditsEnvelope
	decodeBody(test, listRecorder, &credits)
	consumed := 0
	for _, credit := range credits.Credits {
		if !credit.Available {
			consumed++
		}
	}
	if consumed != 1 {
		test.Fatalf("expected exactly one consumed credit, got %d", consumed)
	}
}

func TestCreateAdWithoutCreditsFails(test *testing.T) {
	f := newFixture(test)
	cookie := buildSessionCookie(test, otherUserID, []string{"member"})

	recorder := f.do(test, http.MethodPost, "/api/ads", cookie, map[string]any{
		"name": "No wallet yet",
		"pack": "free",
	})
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 for missing free credit, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestPackPurchaseRoundTrip(test *testing.T) {
	f := newFixture(test)
	cookie := buildSessionCookie(test, ownerUserID, []string{"member"})

	recorder := f.do(test, http.MethodPost, "/api/ads", cookie, map[string]any{
		"name": "Road bike",
		"pack": packFiveID,
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var envelope adEnvelope
	decodeBody(test, recorder, &envelope)
	if envelope.Payment.Token == "" || envelope.Payment.URL == "" {
		test.Fatalf("expected a payment redirect, got %+v", envelope.Payment)
	}
	if envelope.Ad.Status != ads.StatusPending.String() {
		test.Fatalf("expected pending ad before settlement, got %s", envelope.Ad.Status)
	}

	returnRecorder := f.do(test, http.MethodGet, "/payment/return?token_ws="+envelope.Payment.Token, nil, nil)
	if returnRecorder.Code != http.StatusOK {
		test.Fatalf("payment return: expected 200, got %d: %s", returnRecorder.Code, returnRecorder.Body.String())
	}
	var orderEnvelope struct {
		Order struct {
			AdID        string `json:"ad_id"`
			AmountCents int64  `json:"amount_cents"`
		} `json:"order"`
	}
	decodeBody(test, returnRecorder, &orderEnvelope)
	if orderEnvelope.Order.AdID != envelope.Ad.AdID {
		test.Fatalf("order references ad %s, expected %s", orderEnvelope.Order.AdID, envelope.Ad.AdID)
	}
	if orderEnvelope.Order.AmountCents != 11900 {
		test.Fatalf("expected 11900 cents, got %d", orderEnvelope.Order.AmountCents)
	}

	adRecorder := f.do(test, http.MethodGet, "/api/ads/"+envelope.Ad.AdID, cookie, nil)
	var settled adEnvelope
	decodeBody(test, adRecorder, &settled)
	if !settled.Ad.IsPaid {
		test.Fatalf("pack-settled ad must be marked paid")
	}
	if settled.Ad.RemainingDays != 30 {
		test.Fatalf("expected 30 remaining days from pack, got %d", settled.Ad.RemainingDays)
	}

	replay := f.do(test, http.MethodGet, "/payment/return?token_ws="+envelope.Payment.Token, nil, nil)
	if replay.Code != http.StatusOK {
		test.Fatalf("replayed return: expected 200, got %d", replay.Code)
	}
}

func TestPaymentReturnRequiresToken(test *testing.T) {
	f := newFixture(test)
	recorder := f.do(test, http.MethodGet, "/payment/return", nil, nil)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 without token, got %d", recorder.Code)
	}
}

func TestApproveRequiresAdminRole(test *testing.T) {
	f := newFixture(test)
	ownerCookie := buildSessionCookie(test, ownerUserID, []string{"member"})
	adminCookie := buildSessionCookie(test, adminUserID, []string{adminRole})
	if recorder := f.do(test, http.MethodPost, "/api/bootstrap", ownerCookie, nil); recorder.Code != http.StatusOK {
		test.Fatalf("bootstrap failed: %d", recorder.Code)
	}

	createRecorder := f.do(test, http.MethodPost, "/api/ads", ownerCookie, map[string]any{
		"name": "Needs review",
		"pack": "free",
	})
	var envelope adEnvelope
	decodeBody(test, createRecorder, &envelope)
	approvePath := fmt.Sprintf("/api/ads/%s/approve", envelope.Ad.AdID)

	if recorder := f.do(test, http.MethodPost, approvePath, ownerCookie, nil); recorder.Code != http.StatusForbidden {
		test.Fatalf("owner approve: expected 403, got %d", recorder.Code)
	}
	if recorder := f.do(test, http.MethodPost, approvePath, adminCookie, nil); recorder.Code != http.StatusOK {
		test.Fatalf("admin approve: expected 200, got %d", recorder.Code)
	}

	adRecorder := f.do(test, http.MethodGet, "/api/ads/"+envelope.Ad.AdID, ownerCookie, nil)
	var approved adEnvelope
	decodeBody(test, adRecorder, &approved)
	if approved.Ad.Status != ads.StatusActive.String() {
		test.Fatalf("expected active after approve, got %s", approved.Ad.Status)
	}

	if recorder := f.do(test, http.MethodPost, approvePath, adminCookie, nil); recorder.Code != http.StatusConflict {
		test.Fatalf("double approve: expected 409, got %d", recorder.Code)
	}
}

func TestGetAdHidesOtherUsers(test *testing.T) {
	f := newFixture(test)
	ownerCookie := buildSessionCookie(test, ownerUserID, []string{"member"})
	otherCookie := buildSessionCookie(test, otherUserID, []string{"member"})
	if recorder := f.do(test, http.MethodPost, "/api/bootstrap", ownerCookie, nil); recorder.Code != http.StatusOK {
		test.Fatalf("bootstrap failed: %d", recorder.Code)
	}
	createRecorder := f.do(test, http.MethodPost, "/api/ads", ownerCookie, map[string]any{
		"name": "Private listing",
		"pack": "free",
	})
	var envelope adEnvelope
	decodeBody(test, createRecorder, &envelope)

	if recorder := f.do(test, http.MethodGet, "/api/ads/"+envelope.Ad.AdID, otherCookie, nil); recorder.Code != http.StatusForbidden {
		test.Fatalf("expected 403 for foreign ad, got %d", recorder.Code)
	}
}

func TestListPacksIsPublicToSessions(test *testing.T) {
	f := newFixture(test)
	cookie := buildSessionCookie(test, ownerUserID, []string{"member"})
	recorder := f.do(test, http.MethodGet, "/api/packs", cookie, nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	var envelope struct {
		Packs []struct {
			PackID     string `json:"pack_id"`
			PriceCents int64  `json:"price_cents"`
		} `json:"packs"`
	}
	decodeBody(test, recorder, &envelope)
	if len(envelope.Packs) != 1 || envelope.Packs[0].PackID != packFiveID {
		test.Fatalf("unexpected packs %+v", envelope.Packs)
	}
}
